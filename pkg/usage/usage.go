// Package usage implements the per-realm UsageMeter from spec.md §4.5:
// aggregated byte/node counters and quota enforcement.
package usage

import (
	"context"
	"time"
)

// Summary is the aggregated usage state for one realm.
type Summary struct {
	Realm         string
	PhysicalBytes int64
	LogicalBytes  int64
	NodeCount     int64
	QuotaLimit    int64 // 0 means unlimited
	UpdatedAt     time.Time
}

// Meter is the abstract contract for the usage store.
type Meter interface {
	Get(ctx context.Context, realm string) (Summary, error)

	// Apply atomically adjusts a realm's running totals, creating the
	// summary row if absent.
	Apply(ctx context.Context, realm string, deltaPhysical, deltaLogical, deltaNodes int64) error

	SetQuota(ctx context.Context, realm string, bytes int64) error

	// CheckQuota reports whether adding wouldAddBytes keeps the realm
	// within its quota, along with the current snapshot.
	CheckQuota(ctx context.Context, realm string, wouldAddBytes int64) (allowed bool, snapshot Summary, err error)
}
