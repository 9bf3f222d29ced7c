package casapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/token"
)

func TestClientHandlerListAndRevoke(t *testing.T) {
	deps := newTestDeps(t)
	h := &ClientHandler{Deps: deps}
	r := h.Routes()

	require.NoError(t, deps.Tokens.StoreAuthorizedPubkey(context.Background(), token.AuthorizedPubkey{
		PubKey:    "pk-laptop",
		UserID:    "alice",
		Algorithm: "ecdsa-p256",
		Label:     "laptop",
	}))

	ac := writerContext("usr_alice")
	rec := doRequest(r, ac, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []token.AuthorizedPubkey
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "pk-laptop", list[0].PubKey)

	rec = doRequest(r, ac, http.MethodDelete, "/pk-laptop", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(r, ac, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list = nil
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Empty(t, list)
}

func TestClientHandlerRevokeRejectsOtherUsersPubkey(t *testing.T) {
	deps := newTestDeps(t)
	h := &ClientHandler{Deps: deps}
	r := h.Routes()

	require.NoError(t, deps.Tokens.StoreAuthorizedPubkey(context.Background(), token.AuthorizedPubkey{
		PubKey: "pk-bob", UserID: "bob", Algorithm: "ecdsa-p256",
	}))

	ac := writerContext("usr_alice")
	rec := doRequest(r, ac, http.MethodDelete, "/pk-bob", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
