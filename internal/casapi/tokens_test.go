package casapi

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/token"
)

func TestTokenHandlerCreateAgentTokenAndList(t *testing.T) {
	deps := newTestDeps(t)
	h := &TokenHandler{Deps: deps}
	r := h.TokenRoutes()

	ac := writerContext("usr_alice")
	body, err := json.Marshal(createAgentTokenRequest{Name: "ci-bot", Description: "deploy pipeline", TTLSeconds: 3600})
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created agentTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.Token)
	assert.Equal(t, token.KindAgentToken, created.Info.Kind)
	assert.Equal(t, "ci-bot", created.Info.Name)

	rec = doRequest(r, ac, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed []token.Token
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, created.Info.ID, listed[0].ID)
}

func TestTokenHandlerCreateAgentTokenClampsTTL(t *testing.T) {
	deps := newTestDeps(t)
	deps.Limits.MaxAgentTokenTTL = 60
	h := &TokenHandler{Deps: deps}
	r := h.TokenRoutes()

	ac := writerContext("usr_alice")
	body, err := json.Marshal(createAgentTokenRequest{Name: "over-budget", TTLSeconds: 999999})
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created agentTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.LessOrEqual(t, created.Info.ExpiresAt.Unix(), created.Info.CreatedAt.Add(61*time.Second).Unix())
}

func TestTokenHandlerRevokeRequiresOwnership(t *testing.T) {
	deps := newTestDeps(t)
	h := &TokenHandler{Deps: deps}
	r := h.TokenRoutes()

	ac := writerContext("usr_alice")
	body, err := json.Marshal(createAgentTokenRequest{Name: "bot", TTLSeconds: 3600})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created agentTokenResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	other := writerContext("usr_bob")
	other.UserID = "bob"
	rec = doRequest(r, other, http.MethodDelete, "/"+created.Info.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(r, ac, http.MethodDelete, "/"+created.Info.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestTokenHandlerCreateTicketWithReadScopeAndCommitQuota(t *testing.T) {
	deps := newTestDeps(t)
	h := &TokenHandler{Deps: deps}
	r := h.TicketRoutes()

	ac := writerContext("usr_alice")
	ac.TokenID = "usr-alice-primary"
	req := createTicketRequest{
		AllowedKeys: []string{"sha256:" + zeroHex()},
		AllowCommit: true,
		CommitQuota: 4096,
		TTLSeconds:  600,
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created ticketResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, token.KindTicket, created.Info.Kind)
	require.NotNil(t, created.Info.ReadScope)
	assert.Len(t, created.Info.ReadScope.AllowedKeys, 1)
	require.NotNil(t, created.Info.Commit)
	assert.EqualValues(t, 4096, created.Info.Commit.Quota)
}

func TestTokenHandlerCreateTicketRequiresIssuerRight(t *testing.T) {
	deps := newTestDeps(t)
	h := &TokenHandler{Deps: deps}
	r := h.TicketRoutes()

	ac := readerContext("usr_alice")
	ac.CanIssueTicket = false
	body, err := json.Marshal(createTicketRequest{})
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func zeroHex() string {
	b := make([]byte, 64)
	for i := range b {
		b[i] = '0'
	}
	return string(b)
}
