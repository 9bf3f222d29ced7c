// Package casapi wires the core CAS subsystems (pkg/blobstore, pkg/nodecodec,
// pkg/ownership, pkg/refcount, pkg/usage, pkg/commitstore, pkg/depot,
// pkg/token) to the HTTP surface from spec.md §6, under both the
// credential-authenticated `/api/realm/{R}/...` routes and their
// ticket-only `/api/ticket/{id}/...` mirror.
package casapi

import (
	"log/slog"

	"github.com/wisbric/strata/internal/audit"
	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/events"
	"github.com/wisbric/strata/internal/pendingauth"
	"github.com/wisbric/strata/pkg/blobstore"
	"github.com/wisbric/strata/pkg/commitstore"
	"github.com/wisbric/strata/pkg/depot"
	"github.com/wisbric/strata/pkg/ownership"
	"github.com/wisbric/strata/pkg/refcount"
	"github.com/wisbric/strata/pkg/token"
	"github.com/wisbric/strata/pkg/usage"
)

// Limits bounds request handling per spec.md §6's Environment section.
type Limits struct {
	NodeSizeLimitBytes     int64
	CollectionMaxNameBytes int
	TreeMaxNodes           int
	MaxTicketTTL           int64 // seconds
	MaxAgentTokenTTL       int64 // seconds
}

// Deps bundles every store and collaborator the CAS handlers need. A single
// Deps value is shared by both the credential-authenticated router and the
// ticket-only mirror; only the auth middleware in front of them differs.
type Deps struct {
	Blobs     blobstore.Store
	Ownership ownership.Ledger
	RefCount  refcount.Counter
	Usage     usage.Meter
	Commits   commitstore.Store
	Depots    depot.Store
	Tokens    token.Store
	Resolver  *auth.Resolver
	Events    events.Publisher
	Audit     *audit.Writer
	AuditLog  audit.Store
	// TicketLimiter bounds ticket-issuance requests per issuing credential,
	// the same Redis INCR+EXPIRE shape pendingauth.RateLimiter uses for
	// enrollment code guesses, keyed by token ID instead of pubkey.
	TicketLimiter *pendingauth.RateLimiter
	Logger        *slog.Logger
	Limits        Limits
}

// logAudit enqueues an audit entry for a write operation. A nil Audit
// writer (e.g. in handler unit tests that don't care about the audit
// trail) is a silent no-op.
func (d *Deps) logAudit(ac *auth.Context, realm, action, resource, resourceKey string) {
	if d.Audit == nil {
		return
	}
	d.Audit.Log(audit.Entry{
		Realm:       realm,
		ActorID:     ac.UserID,
		Method:      string(ac.Method),
		Action:      action,
		Resource:    resource,
		ResourceKey: resourceKey,
	})
}
