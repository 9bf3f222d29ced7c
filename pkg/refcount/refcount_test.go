package refcount

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
)

func TestMemoryCounterIncrementDecrement(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	key := digest.Of([]byte("hello"))

	res, err := c.Increment(ctx, "usr_1", key, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Count)
	assert.True(t, res.WasZeroBefore)

	res, err = c.Increment(ctx, "usr_1", key, 5, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Count)
	assert.False(t, res.WasZeroBefore)

	dres, err := c.Decrement(ctx, "usr_1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dres.Count)
	assert.False(t, dres.BecameZero)

	dres, err = c.Decrement(ctx, "usr_1", key)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dres.Count)
	assert.True(t, dres.BecameZero)

	entry, err := c.Get(ctx, "usr_1", key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, StatePending, entry.GCState)
}

func TestMemoryCounterDecrementAbsentIsSilent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	key := digest.Of([]byte("absent"))

	res, err := c.Decrement(ctx, "usr_1", key)
	require.NoError(t, err)
	assert.Zero(t, res)
}

func TestMemoryCounterCrossRealmIsolation(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	key := digest.Of([]byte("shared"))

	_, err := c.Increment(ctx, "usr_1", key, 1, 1)
	require.NoError(t, err)

	e, err := c.Get(ctx, "usr_2", key)
	require.NoError(t, err)
	assert.Nil(t, e)

	global, err := c.CountGlobal(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 1, global)

	_, err = c.Increment(ctx, "usr_2", key, 1, 1)
	require.NoError(t, err)
	global, err = c.CountGlobal(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, global)
}

func TestMemoryCounterListPending(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	key1 := digest.Of([]byte("one"))
	key2 := digest.Of([]byte("two"))

	_, err := c.Increment(ctx, "usr_1", key1, 1, 1)
	require.NoError(t, err)
	_, err = c.Decrement(ctx, "usr_1", key1)
	require.NoError(t, err)

	_, err = c.Increment(ctx, "usr_1", key2, 1, 1)
	require.NoError(t, err)
	_, err = c.Decrement(ctx, "usr_1", key2)
	require.NoError(t, err)

	page, err := c.ListPending(ctx, time.Now().Add(time.Hour), 10, "")
	require.NoError(t, err)
	assert.Len(t, page.Entries, 2)
	assert.Empty(t, page.NextCursor)

	page, err = c.ListPending(ctx, time.Now().Add(time.Hour), 1, "")
	require.NoError(t, err)
	assert.Len(t, page.Entries, 1)
	assert.NotEmpty(t, page.NextCursor)
}

func TestMemoryCounterProtectionWindow(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCounter()
	key := digest.Of([]byte("fresh"))

	_, err := c.Increment(ctx, "usr_1", key, 1, 1)
	require.NoError(t, err)
	_, err = c.Decrement(ctx, "usr_1", key)
	require.NoError(t, err)

	page, err := c.ListPending(ctx, time.Now().Add(-time.Hour), 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Entries)
}
