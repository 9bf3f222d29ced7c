package pendingauth

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client), mr
}

func TestCreateAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	pa, err := s.Create(context.Background(), "pk1", time.Minute)
	require.NoError(t, err)
	require.Len(t, pa.Code, 6)

	got, err := s.Get(context.Background(), "pk1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, pa.Code, got.Code)
	assert.False(t, got.Approved)
}

func TestValidateCode(t *testing.T) {
	s, _ := newTestStore(t)
	pa, err := s.Create(context.Background(), "pk1", time.Minute)
	require.NoError(t, err)

	ok, err := s.ValidateCode(context.Background(), "pk1", pa.Code)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ValidateCode(context.Background(), "pk1", "000000")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestApproveBindsUser(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Create(context.Background(), "pk1", time.Minute)
	require.NoError(t, err)

	require.NoError(t, s.Approve(context.Background(), "pk1", "alice"))

	got, err := s.Get(context.Background(), "pk1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Approved)
	assert.Equal(t, "alice", got.UserID)
}

func TestExpiryViaMiniredisFastForward(t *testing.T) {
	s, mr := newTestStore(t)
	_, err := s.Create(context.Background(), "pk1", time.Second)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	got, err := s.Get(context.Background(), "pk1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRateLimiterAllowsThenBlocks(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	rl := NewRateLimiter(client, 2, time.Minute)
	ctx := context.Background()

	res, err := rl.Check(ctx, "pk1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	require.NoError(t, rl.Record(ctx, "pk1"))

	res, err = rl.Check(ctx, "pk1")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	require.NoError(t, rl.Record(ctx, "pk1"))

	res, err = rl.Check(ctx, "pk1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}
