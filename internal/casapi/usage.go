package casapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/httpserver"
)

// UsageHandler implements GET /api/realm/{realm}/usage.
type UsageHandler struct {
	Deps *Deps
}

func (h *UsageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.get)
	return r
}

func (h *UsageHandler) get(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	rlm, ok := resolveRealm(r, ac)
	if !ok {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "path realm does not match authenticated realm")
		return
	}
	if !ac.CanRead {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "credential does not grant read access")
		return
	}

	summary, err := h.Deps.Usage.Get(r.Context(), rlm)
	if err != nil {
		h.Deps.Logger.Error("usage: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load usage")
		return
	}
	httpserver.Respond(w, http.StatusOK, summary)
}
