package casapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/httpserver"
)

// ClientHandler implements GET/DELETE /api/auth/clients[/{pubkey}], the
// authorized-pubkey management half of the signed-client enrollment flow
// (the enrollment itself is served by internal/pendingauth.Handler).
type ClientHandler struct {
	Deps *Deps
}

func (h *ClientHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Delete("/{pubkey}", h.revoke)
	return r
}

func (h *ClientHandler) list(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	pks, err := h.Deps.Tokens.ListAuthorizedPubkeysByUser(r.Context(), ac.UserID)
	if err != nil {
		h.Deps.Logger.Error("clients: list failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not list authorized clients")
		return
	}
	httpserver.Respond(w, http.StatusOK, pks)
}

func (h *ClientHandler) revoke(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	pubkey := chi.URLParam(r, "pubkey")

	pk, err := h.Deps.Tokens.LookupAuthorizedPubkey(r.Context(), pubkey)
	if err != nil {
		h.Deps.Logger.Error("clients: lookup failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not look up client")
		return
	}
	if pk == nil || pk.UserID != ac.UserID {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "authorized client not found")
		return
	}
	if err := h.Deps.Tokens.RevokeAuthorizedPubkey(r.Context(), pubkey); err != nil {
		h.Deps.Logger.Error("clients: revoke failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not revoke client")
		return
	}
	h.Deps.logAudit(ac, ac.Realm, "client.revoke", "authorized_pubkey", pubkey)
	w.WriteHeader(http.StatusNoContent)
}
