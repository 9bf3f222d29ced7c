// Package nodecodec implements the binary framing for strata's four node
// kinds (chunk, inline-file, file, collection) and the structural
// validation pipeline a put must pass before it is admitted to the blob
// store.
package nodecodec

import (
	"fmt"

	"github.com/wisbric/strata/pkg/digest"
)

// Kind identifies the shape of a decoded node.
type Kind byte

const (
	KindChunk Kind = iota
	KindInlineFile
	KindFile
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindChunk:
		return "chunk"
	case KindInlineFile:
		return "inline-file"
	case KindFile:
		return "file"
	case KindCollection:
		return "collection"
	default:
		return fmt.Sprintf("kind(%d)", byte(k))
	}
}

// magic is the four-byte framing prefix every encoded node begins with.
var magic = [4]byte{'S', 'T', '1', 0}

const maxNameBytesDefault = 255

// Child is one outgoing edge from a file or collection node. Name is empty
// for file children, which are an ordered list with no names.
type Child struct {
	Name   string
	Digest digest.Key
}

// Node is the decoded, typed view of a blob's bytes.
type Node struct {
	Kind Kind

	// Payload holds the raw bytes for chunk and inline-file kinds.
	Payload []byte

	// MIME is the original content type for inline-file and file kinds.
	MIME string

	// Children is the ordered list of outgoing edges for file and
	// collection kinds. Empty for chunk and inline-file.
	Children []Child

	// DeclaredSize is the node's self-reported size field: payload length
	// for chunk/inline-file, sum of children's declared sizes for
	// file/collection.
	DeclaredSize uint64
}

// MalformedNode indicates the bytes do not parse as any valid node framing.
type MalformedNode struct {
	Why string
}

func (e *MalformedNode) Error() string { return "nodecodec: malformed node: " + e.Why }

// SizeMismatch indicates a collection's or file's declared size does not
// equal the sum of its children's declared sizes.
type SizeMismatch struct {
	Declared uint64
	Actual   uint64
}

func (e *SizeMismatch) Error() string {
	return fmt.Sprintf("nodecodec: size mismatch: declared %d, actual %d", e.Declared, e.Actual)
}

// MissingChildren indicates one or more referenced child digests are not
// yet known to the blob store in the calling realm. This is a planned,
// recoverable outcome, not a hard failure.
type MissingChildren struct {
	List []digest.Key
}

func (e *MissingChildren) Error() string {
	return fmt.Sprintf("nodecodec: %d missing children", len(e.List))
}

// DuplicateName indicates a collection lists the same child name twice.
type DuplicateName struct {
	Name string
}

func (e *DuplicateName) Error() string {
	return fmt.Sprintf("nodecodec: duplicate collection entry name %q", e.Name)
}

// NameTooLong indicates a collection entry name exceeds maxNameBytes.
type NameTooLong struct {
	Name string
}

func (e *NameTooLong) Error() string {
	return fmt.Sprintf("nodecodec: collection entry name %q exceeds the maximum length", e.Name)
}
