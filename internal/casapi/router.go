package casapi

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/pendingauth"
)

// RouterConfig bundles everything router.go needs to assemble the full
// spec.md §6 route table: the shared casapi Deps, the credential resolver
// used for both authentication trees, the enrollment handler, and the
// optional external IdP pass-through.
type RouterConfig struct {
	Deps           *Deps
	Resolver       *auth.Resolver
	Pending        *pendingauth.Handler
	OAuthIssuer    string
	OAuthClientID  string
	OAuthExchanger *oauth2.Config
	Logger         *slog.Logger
}

// Mount attaches the full strata API surface to r under /api.
func Mount(r chi.Router, cfg RouterConfig) {
	blobs := &BlobHandler{Deps: cfg.Deps}
	tree := &TreeHandler{Deps: cfg.Deps}
	commits := &CommitHandler{Deps: cfg.Deps}
	depots := &DepotHandler{Deps: cfg.Deps}
	usage := &UsageHandler{Deps: cfg.Deps}
	realmInfo := &RealmInfoHandler{Deps: cfg.Deps}
	tokens := &TokenHandler{Deps: cfg.Deps}
	clients := &ClientHandler{Deps: cfg.Deps}
	auditLog := &AuditHandler{Deps: cfg.Deps}
	oauthHandler := &OAuthHandler{
		IssuerURL: cfg.OAuthIssuer,
		ClientID:  cfg.OAuthClientID,
		Exchanger: cfg.OAuthExchanger,
	}

	// realmRoutes is mounted twice: once under /api/realm/{realm} behind
	// full credential auth, once under /api/ticket/{ticketId} behind the
	// ticket-only probe. resolveRealm treats a missing {realm} segment as
	// "use the caller's own realm", so the same handlers serve both trees.
	realmRoutes := func(rr chi.Router) {
		rr.Mount("/", realmInfo.Routes())
		rr.Mount("/chunks", blobs.Routes())
		rr.Mount("/tree", tree.Routes())
		rr.Mount("/commit", commitCreateOnly(commits))
		rr.Mount("/commits", commits.Routes())
		rr.Mount("/usage", usage.Routes())
		rr.Mount("/depots", depots.Routes())
		rr.Mount("/audit-log", auditLog.Routes())
	}

	r.Route("/api", func(api chi.Router) {
		api.Route("/oauth", func(or chi.Router) {
			or.Mount("/", oauthHandler.Routes())
		})

		api.Route("/auth", func(ar chi.Router) {
			ar.Route("/clients", func(cr chi.Router) {
				cr.Post("/init", cfg.Pending.Init)
				cr.Get("/status", func(w http.ResponseWriter, r *http.Request) {
					cfg.Pending.Status(w, r, r.URL.Query().Get("pubkey"))
				})
				cr.With(auth.Middleware(cfg.Resolver, cfg.Logger)).Post("/complete", cfg.Pending.Approve)
				cr.Group(func(authed chi.Router) {
					authed.Use(auth.Middleware(cfg.Resolver, cfg.Logger))
					authed.Mount("/", clients.Routes())
				})
			})
			ar.Group(func(authed chi.Router) {
				authed.Use(auth.Middleware(cfg.Resolver, cfg.Logger))
				authed.Mount("/tokens", tokens.TokenRoutes())
				authed.Mount("/ticket", tokens.TicketRoutes())
			})
		})

		api.Route("/realm/{realm}", func(rr chi.Router) {
			rr.Use(auth.Middleware(cfg.Resolver, cfg.Logger))
			realmRoutes(rr)
		})

		api.Route("/ticket/{ticketId}", func(tr chi.Router) {
			tr.Use(auth.TicketOnlyMiddleware(cfg.Resolver, cfg.Logger))
			realmRoutes(tr)
		})
	})
}

// commitCreateOnly exposes just the creation endpoint of CommitHandler
// under /commit (singular), matching spec.md §6's route naming where
// /commits (plural) is the listing/detail collection.
func commitCreateOnly(h *CommitHandler) chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	return r
}
