package blobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFSStore(t.TempDir(), 0)
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"fs":     fs,
	}
}

func TestStorePutGetHasErase(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte("hello")
			key := digest.Of(payload)

			ok, err := store.Has(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Put(ctx, key, payload))

			ok, err = store.Has(ctx, key)
			require.NoError(t, err)
			assert.True(t, ok)

			got, ok, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, payload, got)

			require.NoError(t, store.Erase(ctx, key))
			ok, err = store.Has(ctx, key)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreRejectsHashMismatch(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			wrongKey := digest.Of([]byte("other"))
			err := store.Put(ctx, wrongKey, []byte("hello"))
			require.Error(t, err)
			var hm *digest.HashMismatch
			assert.ErrorAs(t, err, &hm)
		})
	}
}

func TestStorePutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			payload := []byte("world")
			key := digest.Of(payload)
			require.NoError(t, store.Put(ctx, key, payload))
			require.NoError(t, store.Put(ctx, key, payload))

			got, ok, err := store.Get(ctx, key)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, payload, got)
		})
	}
}

func TestEraseAbsentIsNotAnError(t *testing.T) {
	ctx := context.Background()
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			key := digest.Of([]byte("never put"))
			assert.NoError(t, store.Erase(ctx, key))
		})
	}
}

func TestLayoutFanOut(t *testing.T) {
	key := digest.Of([]byte("hello"))
	p := Layout(key)
	assert.Contains(t, p, "cas/sha256/")
	assert.Equal(t, string(key)[len(digest.Prefix):len(digest.Prefix)+2], p[len("cas/sha256/"):len("cas/sha256/")+2])
}
