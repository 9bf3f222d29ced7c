// Package depot implements the per-realm DepotStore from spec.md §3/§4.10:
// named, versioned, mutable root pointers with append-only history.
//
// History is audit-only (spec.md §9 open question, resolved here in
// favour of the simpler, lower-storage option): a rollback to a root that
// has since been garbage collected fails with ErrRootNotFound rather than
// resurrecting the blob. Clients that need guaranteed rollback must not
// let a depot sit unused past the protection window.
package depot

import (
	"context"
	"errors"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

// MainDepotName is reserved: auto-created per realm on first use, and
// cannot be deleted.
const MainDepotName = "main"

// ErrNameConflict is returned by Create when name is already taken in
// the realm.
var ErrNameConflict = errors.New("depot: name already exists in realm")

// ErrMainUndeletable is returned by Delete for name == "main".
var ErrMainUndeletable = errors.New("depot: the main depot cannot be deleted")

// ErrRootNotFound is returned by UpdateRoot/Rollback when the target root
// is not owned by the realm.
var ErrRootNotFound = errors.New("depot: root not found in realm")

// ErrVersionConflict is returned by UpdateRoot when optimistic
// concurrency control loses a race (spec.md §4.10 permits either
// last-writer-wins or conflict-rejection; strata rejects).
var ErrVersionConflict = errors.New("depot: version conflict, retry")

// HistoryEntry is one past (or current) root a depot has pointed to.
type HistoryEntry struct {
	Version   int64
	Root      digest.Key
	CreatedAt time.Time
	Message   string
}

// Depot is a named, versioned, mutable pointer within a realm.
type Depot struct {
	Realm       string
	ID          string
	Name        string
	Description string
	Root        digest.Key
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Store is the abstract contract for the depot store.
type Store interface {
	Create(ctx context.Context, realm, name, description string, initialRoot digest.Key) (*Depot, error)
	Get(ctx context.Context, realm, depotID string) (*Depot, error)
	GetByName(ctx context.Context, realm, name string) (*Depot, error)
	List(ctx context.Context, realm string) ([]Depot, error)

	// UpdateRoot performs the optimistic-CAS swap described in
	// spec.md §4.10: verifies expectedVersion, appends history, bumps
	// version, and returns the updated depot. It does not touch the ref
	// counter; callers (internal/casapi) increment the new root and
	// decrement the old root around this call per the ordering spec.md
	// mandates (increment-new before decrement-old).
	UpdateRoot(ctx context.Context, realm, depotID string, expectedVersion int64, newRoot digest.Key, message string) (*Depot, error)

	History(ctx context.Context, realm, depotID string, limit int) ([]HistoryEntry, error)

	Delete(ctx context.Context, realm, depotID string) error
}
