package casapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/token"
)

// TokenHandler implements the agent-token and ticket lifecycle routes
// under /api/auth/tokens and /api/auth/ticket (spec.md §6).
type TokenHandler struct {
	Deps *Deps
}

func (h *TokenHandler) TokenRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.createAgentToken)
	r.Get("/", h.listTokens)
	r.Delete("/{id}", h.revokeToken)
	return r
}

func (h *TokenHandler) TicketRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.createTicket)
	r.Delete("/{id}", h.revokeToken)
	return r
}

// requireIssuer rejects ticket credentials: only a human/agent identity
// that already has full rights may mint new credentials for itself.
func requireIssuer(w http.ResponseWriter, ac *auth.Context) bool {
	if !ac.CanIssueTicket {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "this credential cannot issue new credentials")
		return false
	}
	return true
}

type createAgentTokenRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	TTLSeconds  int64  `json:"ttl_seconds"`
}

type agentTokenResponse struct {
	Token string      `json:"token"`
	Info  token.Token `json:"info"`
}

func (h *TokenHandler) createAgentToken(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	if !requireIssuer(w, ac) {
		return
	}

	var req createAgentTokenRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	maxTTL := time.Duration(h.Deps.Limits.MaxAgentTokenTTL) * time.Second
	if ttl <= 0 || (maxTTL > 0 && ttl > maxTTL) {
		ttl = maxTTL
	}

	raw, tok, err := h.Deps.Tokens.CreateAgentToken(r.Context(), ac.UserID, req.Name, req.Description, ttl)
	if err != nil {
		h.Deps.Logger.Error("tokens: create agent token failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not create agent token")
		return
	}
	h.Deps.logAudit(ac, ac.Realm, "token.create", "agent_token", tok.ID)

	httpserver.Respond(w, http.StatusCreated, agentTokenResponse{Token: raw, Info: *tok})
}

func (h *TokenHandler) listTokens(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	toks, err := h.Deps.Tokens.ListByUser(r.Context(), ac.UserID)
	if err != nil {
		h.Deps.Logger.Error("tokens: list failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not list tokens")
		return
	}
	httpserver.Respond(w, http.StatusOK, toks)
}

func (h *TokenHandler) revokeToken(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	id := chi.URLParam(r, "id")

	owns, err := h.Deps.Tokens.VerifyOwnership(r.Context(), id, ac.UserID)
	if err != nil {
		h.Deps.Logger.Error("tokens: verify ownership failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not verify token ownership")
		return
	}
	if !owns {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "token not found")
		return
	}
	if err := h.Deps.Tokens.Revoke(r.Context(), id); err != nil {
		h.Deps.Logger.Error("tokens: revoke failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not revoke token")
		return
	}
	h.Deps.logAudit(ac, ac.Realm, "token.revoke", "token", id)
	w.WriteHeader(http.StatusNoContent)
}

type createTicketRequest struct {
	AllowedKeys []string `json:"allowed_keys"`
	CommitQuota int64    `json:"commit_quota"`
	AllowCommit bool     `json:"allow_commit"`
	TTLSeconds  int64    `json:"ttl_seconds"`
}

type ticketResponse struct {
	Token string      `json:"token"`
	Info  token.Token `json:"info"`
}

func (h *TokenHandler) createTicket(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	if !requireIssuer(w, ac) {
		return
	}
	if !h.checkTicketRateLimit(w, r, ac) {
		return
	}

	var req createTicketRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	maxTTL := time.Duration(h.Deps.Limits.MaxTicketTTL) * time.Second
	if ttl <= 0 || (maxTTL > 0 && ttl > maxTTL) {
		ttl = maxTTL
	}

	var readScope *token.ReadScope
	if len(req.AllowedKeys) > 0 {
		keys := make([]digest.Key, 0, len(req.AllowedKeys))
		for _, k := range req.AllowedKeys {
			keys = append(keys, digest.Key(k))
		}
		readScope = &token.ReadScope{AllowedKeys: keys}
	}

	var commitCfg *token.CommitConfig
	if req.AllowCommit {
		commitCfg = &token.CommitConfig{Quota: req.CommitQuota}
	}

	raw, tok, err := h.Deps.Tokens.CreateTicket(r.Context(), ac.Realm, ac.TokenID, readScope, commitCfg, ttl)
	if err != nil {
		h.Deps.Logger.Error("tokens: create ticket failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not create ticket")
		return
	}
	if h.Deps.TicketLimiter != nil {
		_ = h.Deps.TicketLimiter.Record(r.Context(), ticketRateLimitKey(ac))
	}
	h.Deps.logAudit(ac, ac.Realm, "ticket.create", "ticket", tok.ID)

	httpserver.Respond(w, http.StatusCreated, ticketResponse{Token: raw, Info: *tok})
}

// ticketRateLimitKey scopes ticket-issuance rate limiting to the issuing
// credential rather than the realm, so one noisy agent token can't exhaust
// a realm-wide budget shared by every other credential in it.
func ticketRateLimitKey(ac *auth.Context) string {
	if ac.TokenID != "" {
		return "ticket_issue:" + ac.TokenID
	}
	return "ticket_issue:" + ac.UserID
}

// checkTicketRateLimit enforces the per-credential ticket-issuance budget.
// A nil TicketLimiter (unit tests, deployments that opt out) is a no-op.
func (h *TokenHandler) checkTicketRateLimit(w http.ResponseWriter, r *http.Request, ac *auth.Context) bool {
	if h.Deps.TicketLimiter == nil {
		return true
	}
	res, err := h.Deps.TicketLimiter.Check(r.Context(), ticketRateLimitKey(ac))
	if err != nil {
		h.Deps.Logger.Error("tokens: ticket rate limit check failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not check rate limit")
		return false
	}
	if !res.Allowed {
		httpserver.RespondError(w, http.StatusTooManyRequests, "rate_limited", "too many ticket requests, try again later")
		return false
	}
	return true
}
