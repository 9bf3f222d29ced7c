package casapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"golang.org/x/oauth2"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/httpserver"
)

// OAuthHandler is a thin pass-through to the configured external IdP
// (spec.md §1 Out-of-scope: "OAuth/OIDC identity provider integration" is
// an external collaborator; strata only proxies the code-exchange leg and
// exposes public config, never storing IdP credentials itself).
type OAuthHandler struct {
	IssuerURL string
	ClientID  string
	Exchanger *oauth2.Config // nil disables POST /token
}

func (h *OAuthHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/config", h.config)
	r.Post("/token", h.token)
	r.Get("/me", h.me)
	return r
}

type oauthConfigResponse struct {
	IssuerURL string `json:"issuer_url"`
	ClientID  string `json:"client_id"`
	Enabled   bool   `json:"enabled"`
}

func (h *OAuthHandler) config(w http.ResponseWriter, r *http.Request) {
	httpserver.Respond(w, http.StatusOK, oauthConfigResponse{
		IssuerURL: h.IssuerURL,
		ClientID:  h.ClientID,
		Enabled:   h.IssuerURL != "",
	})
}

type tokenExchangeRequest struct {
	Code         string `json:"code" validate:"required"`
	RedirectURI  string `json:"redirect_uri" validate:"required"`
	CodeVerifier string `json:"code_verifier"`
}

func (h *OAuthHandler) token(w http.ResponseWriter, r *http.Request) {
	if h.Exchanger == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no identity provider is configured")
		return
	}

	var req tokenExchangeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	cfg := *h.Exchanger
	cfg.RedirectURL = req.RedirectURI

	opts := []oauth2.AuthCodeOption{}
	if req.CodeVerifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", req.CodeVerifier))
	}

	tok, err := cfg.Exchange(context.WithoutCancel(r.Context()), req.Code, opts...)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "token_exchange_failed", "the identity provider rejected the code exchange")
		return
	}

	httpserver.Respond(w, http.StatusOK, tok)
}

type meResponse struct {
	UserID string `json:"user_id"`
	Realm  string `json:"realm"`
}

func (h *OAuthHandler) me(w http.ResponseWriter, r *http.Request) {
	ac := auth.FromContext(r.Context())
	if ac == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, "unauthorized", "no valid authentication provided")
		return
	}
	httpserver.Respond(w, http.StatusOK, meResponse{UserID: ac.UserID, Realm: ac.Realm})
}
