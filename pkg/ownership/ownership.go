// Package ownership implements the per-realm OwnershipLedger from
// spec.md §4.3: the record that a key is visible, readable, and rooted
// in a given realm's lifetime graph.
package ownership

import (
	"context"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

// Entry is one (realm, key) ownership record.
type Entry struct {
	Realm       string
	Key         digest.Key
	Kind        string
	ContentType string
	ByteSize    uint64
	CreatedAt   time.Time
	CreatedBy   string
}

// Page is a cursor-paginated, newest-first listing result.
type Page struct {
	Entries    []Entry
	NextCursor string
}

// Ledger is the abstract contract for the ownership store. Postgres and
// bbolt backends satisfy it for production use; Memory satisfies it for
// tests.
type Ledger interface {
	// Add records that key is owned by realm. Idempotent: a second Add
	// for the same (realm, key) is a no-op.
	Add(ctx context.Context, realm string, key digest.Key, kind, contentType string, byteSize uint64, creator string) error

	Has(ctx context.Context, realm string, key digest.Key) (bool, error)

	// Check partitions keys into those present and absent in realm, for
	// dedup-aware upload planning (the resolve RPC).
	Check(ctx context.Context, realm string, keys []digest.Key) (present, missing []digest.Key, err error)

	List(ctx context.Context, realm string, limit int, cursor string) (Page, error)

	// Remove deletes the ownership record. Called only by the garbage
	// collector.
	Remove(ctx context.Context, realm string, key digest.Key) error
}
