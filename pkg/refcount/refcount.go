// Package refcount implements the per-realm RefCounter from spec.md §4.4:
// the (realm,key) → (count, sizes, gc-state, first-seen-at) ledger that
// makes dedup and garbage collection safe.
package refcount

import (
	"context"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

// GCState is whether an entry is reachable (active) or a garbage
// collection candidate (pending, count dropped to zero).
type GCState string

const (
	StateActive  GCState = "active"
	StatePending GCState = "pending"
)

// Entry is one (realm, key) reference-count record.
type Entry struct {
	Realm        string
	Key          digest.Key
	Count        int64
	PhysicalSize uint64
	LogicalSize  uint64
	GCState      GCState
	FirstSeenAt  time.Time
}

// IncrementResult reports the outcome of an Increment call.
type IncrementResult struct {
	Count         int64
	WasZeroBefore bool
}

// DecrementResult reports the outcome of a Decrement call.
type DecrementResult struct {
	Count      int64
	BecameZero bool
}

// PendingPage is a cursor-paginated listing of pending entries.
type PendingPage struct {
	Entries    []Entry
	NextCursor string
}

// Counter is the abstract contract for the reference-count store.
// Increment and Decrement MUST be linearisable with respect to concurrent
// callers for the same (realm, key); cross-realm operations need not
// serialise (spec.md §4.4).
type Counter interface {
	// Increment creates the record at count=1 with the given sizes and
	// gcState=active if absent; otherwise atomically adds 1 and resets
	// gcState to active. firstSeenAt is set on creation and never changed.
	Increment(ctx context.Context, realm string, key digest.Key, physicalSize, logicalSize uint64) (IncrementResult, error)

	// Decrement fails silently (zero-value result, nil error) if the
	// record is absent or already at zero. If the new count is zero, the
	// record's gcState becomes pending.
	Decrement(ctx context.Context, realm string, key digest.Key) (DecrementResult, error)

	Get(ctx context.Context, realm string, key digest.Key) (*Entry, error)

	// ListPending returns entries with gcState=pending and
	// firstSeenAt < beforeTime, ordered by firstSeenAt ascending.
	ListPending(ctx context.Context, beforeTime time.Time, limit int, cursor string) (PendingPage, error)

	// CountGlobal returns the number of realms in which count > 0 for key.
	CountGlobal(ctx context.Context, key digest.Key) (int, error)

	// Delete removes the record outright. Used by GC after reclaim.
	Delete(ctx context.Context, realm string, key digest.Key) error
}
