package nodecodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"github.com/wisbric/strata/pkg/digest"
)

// EmptyCollection is the well-known encoding of a collection with zero
// entries and declared size zero. Its key is materialised once per realm
// on first use (spec.md §9 open question: materialise lazily per realm,
// treat the key as a well-known constant thereafter).
var EmptyCollection = mustEncodeEmptyCollection()

func mustEncodeEmptyCollection() []byte {
	b, err := Encode(&Node{Kind: KindCollection, Children: nil, DeclaredSize: 0})
	if err != nil {
		panic(err)
	}
	return b
}

// EmptyCollectionKey is the CAS key of EmptyCollection.
var EmptyCollectionKey = digest.Of(EmptyCollection)

// Encode serialises node to its binary framing.
func Encode(n *Node) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(magic[:])
	buf.WriteByte(byte(n.Kind))

	switch n.Kind {
	case KindChunk:
		buf.Write(n.Payload)

	case KindInlineFile:
		writeString16(&buf, n.MIME)
		buf.Write(n.Payload)

	case KindFile:
		var declared uint64
		binary.Write(&buf, binary.BigEndian, uint64(0)) // placeholder, fixed below
		writeString16(&buf, n.MIME)
		binary.Write(&buf, binary.BigEndian, uint32(len(n.Children)))
		for _, c := range n.Children {
			raw := c.Digest.Bytes()
			buf.Write(raw[:])
		}
		declared = n.DeclaredSize
		out := buf.Bytes()
		binary.BigEndian.PutUint64(out[5:13], declared)
		return out, nil

	case KindCollection:
		var declared uint64
		binary.Write(&buf, binary.BigEndian, uint64(0)) // placeholder
		binary.Write(&buf, binary.BigEndian, uint32(len(n.Children)))
		for _, c := range n.Children {
			if !utf8.ValidString(c.Name) {
				return nil, &MalformedNode{Why: "collection entry name is not valid UTF-8"}
			}
			writeString16(&buf, c.Name)
			raw := c.Digest.Bytes()
			buf.Write(raw[:])
		}
		declared = n.DeclaredSize
		out := buf.Bytes()
		binary.BigEndian.PutUint64(out[5:13], declared)
		return out, nil

	default:
		return nil, &MalformedNode{Why: fmt.Sprintf("unknown kind %d", n.Kind)}
	}

	return buf.Bytes(), nil
}

func writeString16(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

// Decode parses bytes into a Node, performing framing-only checks: magic,
// kind tag, and length-prefix consistency. It does not check child
// existence or size consistency; callers that need those run Validate.
func Decode(b []byte) (*Node, error) {
	if len(b) < 5 {
		return nil, &MalformedNode{Why: "too short for header"}
	}
	if b[0] != magic[0] || b[1] != magic[1] || b[2] != magic[2] || b[3] != magic[3] {
		return nil, &MalformedNode{Why: "bad magic"}
	}
	kind := Kind(b[4])
	body := b[5:]

	switch kind {
	case KindChunk:
		return &Node{Kind: KindChunk, Payload: body, DeclaredSize: uint64(len(body))}, nil

	case KindInlineFile:
		mime, rest, err := readString16(body)
		if err != nil {
			return nil, err
		}
		return &Node{Kind: KindInlineFile, MIME: mime, Payload: rest, DeclaredSize: uint64(len(rest))}, nil

	case KindFile:
		if len(body) < 8 {
			return nil, &MalformedNode{Why: "file body too short for declared size"}
		}
		declared := binary.BigEndian.Uint64(body[:8])
		rest := body[8:]
		mime, rest, err := readString16(rest)
		if err != nil {
			return nil, err
		}
		if len(rest) < 4 {
			return nil, &MalformedNode{Why: "file body too short for child count"}
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint64(len(rest)) != uint64(count)*digest.Size {
			return nil, &MalformedNode{Why: "declared child count does not match payload length"}
		}
		children := make([]Child, 0, count)
		for i := uint32(0); i < count; i++ {
			var raw [digest.Size]byte
			copy(raw[:], rest[:digest.Size])
			rest = rest[digest.Size:]
			children = append(children, Child{Digest: digest.FromBytes(raw)})
		}
		return &Node{Kind: KindFile, MIME: mime, Children: children, DeclaredSize: declared}, nil

	case KindCollection:
		if len(body) < 8 {
			return nil, &MalformedNode{Why: "collection body too short for declared size"}
		}
		declared := binary.BigEndian.Uint64(body[:8])
		rest := body[8:]
		if len(rest) < 4 {
			return nil, &MalformedNode{Why: "collection body too short for child count"}
		}
		count := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		children := make([]Child, 0, count)
		seen := make(map[string]struct{}, count)
		for i := uint32(0); i < count; i++ {
			name, tail, err := readString16(rest)
			if err != nil {
				return nil, err
			}
			if len(tail) < digest.Size {
				return nil, &MalformedNode{Why: "collection body too short for child digest"}
			}
			if !utf8.ValidString(name) {
				return nil, &MalformedNode{Why: "collection entry name is not valid UTF-8"}
			}
			if len(name) > maxNameBytesDefault {
				return nil, &NameTooLong{Name: name}
			}
			if _, dup := seen[name]; dup {
				return nil, &DuplicateName{Name: name}
			}
			seen[name] = struct{}{}

			var raw [digest.Size]byte
			copy(raw[:], tail[:digest.Size])
			rest = tail[digest.Size:]
			children = append(children, Child{Name: name, Digest: digest.FromBytes(raw)})
		}
		if len(rest) != 0 {
			return nil, &MalformedNode{Why: "trailing bytes after last collection entry"}
		}
		return &Node{Kind: KindCollection, Children: children, DeclaredSize: declared}, nil

	default:
		return nil, &MalformedNode{Why: fmt.Sprintf("unknown kind tag %d", kind)}
	}
}

func readString16(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, &MalformedNode{Why: "too short for length-prefixed string"}
	}
	n := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	if uint64(len(b)) < uint64(n) {
		return "", nil, &MalformedNode{Why: "length-prefixed string exceeds remaining bytes"}
	}
	return string(b[:n]), b[n:], nil
}

// QuickValidate performs framing-only validation: it decodes b and returns
// its Kind, without checking child existence, size consistency against
// children, or the hash-equals-key invariant.
func QuickValidate(b []byte) (Kind, error) {
	n, err := Decode(b)
	if err != nil {
		return 0, err
	}
	return n.Kind, nil
}

// HasChildFunc reports whether digest d is known to the calling realm.
type HasChildFunc func(d digest.Key) bool

// ChildSizeFunc returns the declared size of a previously-validated child,
// used to re-derive a collection's or file's declared total.
type ChildSizeFunc func(d digest.Key) (uint64, bool)

// Validate runs the full validation pipeline described in spec.md §4.2:
// framing, hash-equals-key, child presence, and declared-size consistency.
// It returns the decoded node on success.
func Validate(b []byte, expectedKey digest.Key, hasChild HasChildFunc, childSize ChildSizeFunc) (*Node, error) {
	n, err := Decode(b)
	if err != nil {
		return nil, err
	}

	actual := digest.Of(b)
	if actual != expectedKey {
		return nil, &digest.HashMismatch{Expected: expectedKey, Actual: actual}
	}

	if len(n.Children) > 0 {
		var missing []digest.Key
		for _, c := range n.Children {
			if !hasChild(c.Digest) {
				missing = append(missing, c.Digest)
			}
		}
		if len(missing) > 0 {
			return nil, &MissingChildren{List: missing}
		}
	}

	if n.Kind == KindFile || n.Kind == KindCollection {
		var sum uint64
		for _, c := range n.Children {
			sz, ok := childSize(c.Digest)
			if !ok {
				// Already guaranteed present by the hasChild check above;
				// absence of a size here means the store is inconsistent.
				return nil, &MissingChildren{List: []digest.Key{c.Digest}}
			}
			sum += sz
		}
		if sum != n.DeclaredSize {
			return nil, &SizeMismatch{Declared: n.DeclaredSize, Actual: sum}
		}
	}

	return n, nil
}
