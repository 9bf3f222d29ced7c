// Package blobstore implements content-addressed byte storage: the
// has/get/put/erase contract from spec.md §4.1, with a filesystem backend
// for standalone deployments and an in-memory backend for tests.
package blobstore

import (
	"context"

	"github.com/wisbric/strata/pkg/digest"
)

// Store is the abstract contract every blob backend satisfies. The core
// depends only on this interface (spec.md §9: interface-backed stores).
type Store interface {
	// Has reports whether key is present. Implementations MAY cache
	// positive results; they MUST NOT cache negative results, since a
	// concurrent put can make a negative answer stale immediately.
	Has(ctx context.Context, key digest.Key) (bool, error)

	// Get returns the bytes previously put under key. ok is false if the
	// key is absent.
	Get(ctx context.Context, key digest.Key) (b []byte, ok bool, err error)

	// Put stores b under key. It fails with *digest.HashMismatch if
	// key != sha256(b). A second put of the same key is a no-op.
	// Concurrent puts of the same key MUST both succeed without
	// corruption.
	Put(ctx context.Context, key digest.Key, b []byte) error

	// Erase removes key. Used only by the garbage collector. Erasing an
	// absent key is not an error.
	Erase(ctx context.Context, key digest.Key) error
}

// Layout returns the fan-out relative path for key under a keyed backend:
// "cas/sha256/" + hex[0:2] + "/" + hex, per spec.md §4.1.
func Layout(key digest.Key) string {
	s := string(key)
	const prefixLen = len(digest.Prefix)
	hexPart := s[prefixLen:]
	return "cas/sha256/" + hexPart[:2] + "/" + hexPart
}
