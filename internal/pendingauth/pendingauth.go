// Package pendingauth implements the Redis-backed store for
// pkg/token.PendingAuth (spec.md §4.6): short-lived public-key
// enrollment candidates. A signed client submits its pubkey, receives a
// human-readable code out of band, and an already-authenticated user
// approves it, binding the pubkey to their account.
package pendingauth

import (
	"context"
	"time"

	"github.com/wisbric/strata/pkg/token"
)

// Store mirrors the PendingAuth subset of pkg/token.Store, implemented
// against Redis instead of the primary datastore because enrollment
// codes are inherently short-lived (native TTL fits better than a
// polling cleanup job).
type Store interface {
	Create(ctx context.Context, pubkey string, ttl time.Duration) (*token.PendingAuth, error)
	Get(ctx context.Context, pubkey string) (*token.PendingAuth, error)
	ValidateCode(ctx context.Context, pubkey, code string) (bool, error)
	Approve(ctx context.Context, pubkey, userID string) error
	Delete(ctx context.Context, pubkey string) error
}

// DefaultTTL is how long an enrollment candidate remains pending before
// expiring, absent an explicit override.
const DefaultTTL = 10 * time.Minute
