package depot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	root := digest.Of([]byte("root-1"))

	d, err := s.Create(ctx, "usr_alice", MainDepotName, "", root)
	require.NoError(t, err)
	assert.Equal(t, int64(1), d.Version)
	assert.Equal(t, root, d.Root)

	got, err := s.Get(ctx, "usr_alice", d.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, d.ID, got.ID)

	byName, err := s.GetByName(ctx, "usr_alice", MainDepotName)
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, d.ID, byName.ID)
}

func TestMemoryStoreNameConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	root := digest.Of([]byte("x"))

	_, err := s.Create(ctx, "usr_alice", "release", "", root)
	require.NoError(t, err)

	_, err = s.Create(ctx, "usr_alice", "release", "", root)
	assert.ErrorIs(t, err, ErrNameConflict)

	// Same name in a different realm is fine.
	_, err = s.Create(ctx, "usr_bob", "release", "", root)
	assert.NoError(t, err)
}

func TestMemoryStoreUpdateRootVersioning(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	rootA := digest.Of([]byte("a"))
	rootB := digest.Of([]byte("b"))

	d, err := s.Create(ctx, "usr_alice", MainDepotName, "", rootA)
	require.NoError(t, err)

	updated, err := s.UpdateRoot(ctx, "usr_alice", d.ID, d.Version, rootB, "release b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)
	assert.Equal(t, rootB, updated.Root)

	// Stale version is rejected.
	_, err = s.UpdateRoot(ctx, "usr_alice", d.ID, 1, rootA, "stale retry")
	assert.ErrorIs(t, err, ErrVersionConflict)

	hist, err := s.History(ctx, "usr_alice", d.ID, 0)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, int64(2), hist[0].Version) // newest first
	assert.Equal(t, int64(1), hist[1].Version)
}

func TestMemoryStoreMainDepotUndeletable(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	d, err := s.Create(ctx, "usr_alice", MainDepotName, "", digest.Of([]byte("x")))
	require.NoError(t, err)

	err = s.Delete(ctx, "usr_alice", d.ID)
	assert.ErrorIs(t, err, ErrMainUndeletable)
}

func TestMemoryStoreDeleteNonMainDepot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	d, err := s.Create(ctx, "usr_alice", "scratch", "", digest.Of([]byte("x")))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "usr_alice", d.ID))

	got, err := s.Get(ctx, "usr_alice", d.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreUpdateRootMissingDepot(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	got, err := s.UpdateRoot(ctx, "usr_alice", "nope", 1, digest.Of([]byte("x")), "")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_, err := s.Create(ctx, "usr_alice", MainDepotName, "", digest.Of([]byte("a")))
	require.NoError(t, err)
	_, err = s.Create(ctx, "usr_alice", "release", "", digest.Of([]byte("b")))
	require.NoError(t, err)
	_, err = s.Create(ctx, "usr_bob", MainDepotName, "", digest.Of([]byte("c")))
	require.NoError(t, err)

	out, err := s.List(ctx, "usr_alice")
	require.NoError(t, err)
	assert.Len(t, out, 2)
}
