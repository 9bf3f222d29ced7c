package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/token"
)

func TestTokenAuthenticatorUserToken(t *testing.T) {
	store := token.NewMemoryStore()
	raw, tok, err := store.CreateUserToken(context.Background(), "alice", time.Hour)
	require.NoError(t, err)

	a := &TokenAuthenticator{Store: store}
	ac, err := a.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, ac)
	assert.Equal(t, "usr_alice", ac.Realm)
	assert.True(t, ac.CanRead)
	assert.True(t, ac.CanWrite)
	assert.Equal(t, tok.ID, ac.TokenID)
	assert.Equal(t, MethodUserToken, ac.Method)
}

func TestTokenAuthenticatorTicketReadScope(t *testing.T) {
	store := token.NewMemoryStore()
	issuerRaw, issuer, err := store.CreateUserToken(context.Background(), "alice", time.Hour)
	require.NoError(t, err)
	_ = issuerRaw

	raw, _, err := store.CreateTicket(context.Background(), "usr_alice", issuer.ID,
		&token.ReadScope{AllowedKeys: nil}, nil, time.Hour)
	require.NoError(t, err)

	a := &TokenAuthenticator{Store: store}
	ac, err := a.Authenticate(context.Background(), raw)
	require.NoError(t, err)
	require.NotNil(t, ac)
	assert.Equal(t, "usr_alice", ac.Realm)
	assert.False(t, ac.CanWrite) // no commit config
	assert.False(t, ac.CanIssueTicket)
	assert.Equal(t, MethodTicket, ac.Method)
}

func TestTokenAuthenticatorUnknownTokenReturnsNil(t *testing.T) {
	store := token.NewMemoryStore()
	a := &TokenAuthenticator{Store: store}
	ac, err := a.Authenticate(context.Background(), "strata_usr_bogus")
	require.NoError(t, err)
	assert.Nil(t, ac)
}

func TestResolverFallsThroughToTokenStore(t *testing.T) {
	store := token.NewMemoryStore()
	raw, _, err := store.CreateUserToken(context.Background(), "alice", time.Hour)
	require.NoError(t, err)

	res := &Resolver{Token: &TokenAuthenticator{Store: store}}
	req := httptest.NewRequest(http.MethodGet, "/api/realm/usr_alice/usage", nil)
	req.Header.Set("Authorization", "Bearer "+raw)

	ac, err := res.Resolve(req)
	require.NoError(t, err)
	require.NotNil(t, ac)
	assert.Equal(t, "usr_alice", ac.Realm)
}

func TestResolverRejectsMissingCredentials(t *testing.T) {
	res := &Resolver{}
	req := httptest.NewRequest(http.MethodGet, "/api/realm/usr_alice/usage", nil)
	_, err := res.Resolve(req)
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestLooksLikeJWT(t *testing.T) {
	assert.True(t, looksLikeJWT("a.b.c"))
	assert.False(t, looksLikeJWT(strings.TrimPrefix("strata_usr_abc", "")))
}

func TestContextAllowsKey(t *testing.T) {
	k := digest.Key("sha256:abc")
	other := digest.Key("sha256:def")

	unrestricted := &Context{}
	assert.True(t, unrestricted.AllowsKey(k))

	restricted := &Context{AllowedKeys: []digest.Key{k}}
	assert.True(t, restricted.AllowsKey(k))
	assert.False(t, restricted.AllowsKey(other))
}
