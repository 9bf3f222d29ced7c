package casapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/internal/realm"
)

// resolveRealm extracts the realm a request applies to. Credential routes
// carry it as the {realm} path segment (possibly "@me"/"~"); ticket-only
// mirror routes have no such segment and always operate on the ticket's
// own realm. ok is false if a path segment was present but did not match
// the caller's authenticated realm (spec.md §4.7 scoping rule).
func resolveRealm(r *http.Request, ac *auth.Context) (string, bool) {
	pathRealm := chi.URLParam(r, "realm")
	if pathRealm == "" {
		return ac.Realm, true
	}
	if !realm.Permitted(pathRealm, ac.Realm) {
		return "", false
	}
	return ac.Realm, true
}

func authContext(w http.ResponseWriter, r *http.Request) *auth.Context {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
	}
	return ac
}
