package pendingauth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/pkg/token"
)

// Handler serves the signed-client enrollment flow: a client generates a
// keypair, POSTs its pubkey to get a short code, shows the code to a
// human who approves it from an already-authenticated session, and the
// client polls status until approved.
type Handler struct {
	Pending     Store
	Tokens      token.Store
	RateLimiter *RateLimiter
	Logger      *slog.Logger
}

type initRequest struct {
	Pubkey    string `json:"pubkey"`
	Algorithm string `json:"algorithm"`
	Label     string `json:"label"`
}

type initResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Init handles POST /api/auth/clients/init.
func (h *Handler) Init(w http.ResponseWriter, r *http.Request) {
	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pubkey == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "pubkey is required")
		return
	}

	pa, err := h.Pending.Create(r.Context(), req.Pubkey, DefaultTTL)
	if err != nil {
		h.Logger.Error("pendingauth: init failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal", "could not start enrollment")
		return
	}

	writeJSON(w, http.StatusCreated, initResponse{Code: pa.Code, ExpiresAt: pa.ExpiresAt})
}

type statusResponse struct {
	Approved bool `json:"approved"`
}

// Status handles GET /api/auth/clients/status?pubkey=..., polled by the
// enrolling client.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request, pubkey string) {
	pa, err := h.Pending.Get(r.Context(), pubkey)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "could not check status")
		return
	}
	if pa == nil {
		writeJSONError(w, http.StatusNotFound, "not_found", "enrollment expired or unknown")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Approved: pa.Approved})
}

type approveRequest struct {
	Pubkey string `json:"pubkey"`
	Code   string `json:"code"`
}

// Approve handles POST /api/auth/clients/complete, called by an
// already-authenticated human confirming the code shown by their client.
func (h *Handler) Approve(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized", "sign in to approve an enrollment")
		return
	}

	var req approveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pubkey == "" || req.Code == "" {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "pubkey and code are required")
		return
	}

	if h.RateLimiter != nil {
		res, err := h.RateLimiter.Check(r.Context(), req.Pubkey)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, "internal", "rate limit check failed")
			return
		}
		if !res.Allowed {
			writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts, try again later")
			return
		}
	}

	ok, err := h.Pending.ValidateCode(r.Context(), req.Pubkey, req.Code)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "could not validate code")
		return
	}
	if !ok {
		if h.RateLimiter != nil {
			_ = h.RateLimiter.Record(r.Context(), req.Pubkey)
		}
		writeJSONError(w, http.StatusUnauthorized, "invalid_code", "code does not match")
		return
	}

	if err := h.Pending.Approve(r.Context(), req.Pubkey, ac.UserID); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "could not approve enrollment")
		return
	}

	if err := h.Tokens.StoreAuthorizedPubkey(r.Context(), token.AuthorizedPubkey{
		PubKey:    req.Pubkey,
		UserID:    ac.UserID,
		Algorithm: "ES256",
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "internal", "could not authorize pubkey")
		return
	}

	if h.RateLimiter != nil {
		_ = h.RateLimiter.Reset(r.Context(), req.Pubkey)
	}
	_ = h.Pending.Delete(r.Context(), req.Pubkey)

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
