package casapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/audit"
	"github.com/wisbric/strata/internal/httpserver"
)

// AuditHandler implements GET /api/realm/{realm}/audit-log, the read-only
// surface over the entries internal/audit.Writer buffers and flushes.
type AuditHandler struct {
	Deps *Deps
}

func (h *AuditHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	return r
}

func (h *AuditHandler) list(w http.ResponseWriter, r *http.Request) {
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
	if h.Deps.AuditLog == nil {
		httpserver.Respond(w, http.StatusOK, audit.Page{})
		return
	}

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	cursor := r.URL.Query().Get("cursor")

	page, err := h.Deps.AuditLog.List(r.Context(), rlm, params.Limit, cursor)
	if err != nil {
		h.Deps.Logger.Error("audit: list failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not list audit log")
		return
	}
	httpserver.Respond(w, http.StatusOK, page)
}
