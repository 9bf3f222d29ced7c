package token

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
)

func TestMemoryStoreUserTokenRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	raw, tok, err := s.CreateUserToken(ctx, "user-1", time.Hour)
	require.NoError(t, err)
	assert.Contains(t, raw, UserTokenPrefix)

	got, err := s.Get(ctx, tok.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, KindUserToken, got.Kind)
}

func TestMemoryStoreExpiredTokenIsAbsent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, tok, err := s.CreateUserToken(ctx, "user-1", -time.Second)
	require.NoError(t, err)

	got, err := s.Get(ctx, tok.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreTicketSingleCommit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	_, tok, err := s.CreateTicket(ctx, "usr_1", "issuer", nil, &CommitConfig{Quota: 1024}, time.Hour)
	require.NoError(t, err)

	root := digest.Of([]byte("root"))
	ok, err := s.MarkTicketCommitted(ctx, tok.ID, root)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.MarkTicketCommitted(ctx, tok.ID, root)
	require.NoError(t, err)
	assert.False(t, ok, "a second commit on the same ticket must fail")
}

func TestMemoryStorePendingAuthFlow(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	pa, err := s.CreatePendingAuth(ctx, "pubkey-1", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, pa.Code)

	ok, err := s.ValidatePendingAuthCode(ctx, "pubkey-1", "000000")
	require.NoError(t, err)
	if pa.Code != "000000" {
		assert.False(t, ok)
	}

	ok, err = s.ValidatePendingAuthCode(ctx, "pubkey-1", pa.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.DeletePendingAuth(ctx, "pubkey-1"))
	got, err := s.GetPendingAuth(ctx, "pubkey-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHashTokenIsDeterministic(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
}
