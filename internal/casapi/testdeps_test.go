package casapi

import (
	"log/slog"
	"testing"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/events"
	"github.com/wisbric/strata/pkg/blobstore"
	"github.com/wisbric/strata/pkg/commitstore"
	"github.com/wisbric/strata/pkg/depot"
	"github.com/wisbric/strata/pkg/ownership"
	"github.com/wisbric/strata/pkg/refcount"
	"github.com/wisbric/strata/pkg/token"
	"github.com/wisbric/strata/pkg/usage"
)

// newTestDeps wires an all-in-memory Deps, mirroring how internal/gc's
// tests build a Collector out of the same backends.
func newTestDeps(t *testing.T) *Deps {
	t.Helper()
	return &Deps{
		Blobs:     blobstore.NewMemoryStore(),
		Ownership: ownership.NewMemoryLedger(),
		RefCount:  refcount.NewMemoryCounter(),
		Usage:     usage.NewMemoryMeter(),
		Commits:   commitstore.NewMemoryStore(),
		Depots:    depot.NewMemoryStore(),
		Tokens:    token.NewMemoryStore(),
		Events:    events.NoopPublisher{},
		Logger:    slog.Default(),
		Limits: Limits{
			NodeSizeLimitBytes:     1 << 20,
			CollectionMaxNameBytes: 255,
			TreeMaxNodes:           1000,
			MaxTicketTTL:           3600,
			MaxAgentTokenTTL:       86400,
		},
	}
}

// writerContext returns a full-rights AuthContext for realm, as a
// successfully-resolved user-token credential would produce.
func writerContext(realm string) *auth.Context {
	return &auth.Context{
		UserID:         "alice",
		Realm:          realm,
		CanRead:        true,
		CanWrite:       true,
		CanIssueTicket: true,
		Method:         auth.MethodUserToken,
	}
}

func readerContext(realm string) *auth.Context {
	return &auth.Context{
		UserID:   "alice",
		Realm:    realm,
		CanRead:  true,
		CanWrite: false,
		Method:   auth.MethodUserToken,
	}
}
