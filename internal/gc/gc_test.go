package gc

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/internal/events"
	"github.com/wisbric/strata/pkg/blobstore"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
	"github.com/wisbric/strata/pkg/ownership"
	"github.com/wisbric/strata/pkg/refcount"
	"github.com/wisbric/strata/pkg/usage"
)

func newCollector(t *testing.T, window time.Duration) (*Collector, blobstore.Store, refcount.Counter, ownership.Ledger, usage.Meter) {
	t.Helper()
	blobs := blobstore.NewMemoryStore()
	refs := refcount.NewMemoryCounter()
	own := ownership.NewMemoryLedger()
	meter := usage.NewMemoryMeter()

	c := &Collector{
		Blobs:     blobs,
		Ownership: own,
		RefCount:  refs,
		Usage:     meter,
		Events:    events.NoopPublisher{},
		Logger:    slog.Default(),
		Config:    Config{ProtectionWindow: window, BatchSize: 10, MaxBatches: 5},
	}
	return c, blobs, refs, own, meter
}

func putChunk(t *testing.T, ctx context.Context, blobs blobstore.Store, realm string, refs refcount.Counter, own ownership.Ledger, data []byte) digest.Key {
	t.Helper()
	node := &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: data}
	encoded, err := nodecodec.Encode(node)
	require.NoError(t, err)
	key := digest.Of(encoded)
	require.NoError(t, blobs.Put(ctx, key, encoded))
	require.NoError(t, own.Add(ctx, realm, key, "chunk", "application/octet-stream", uint64(len(data)), "tester"))
	_, err = refs.Increment(ctx, realm, key, uint64(len(encoded)), uint64(len(data)))
	require.NoError(t, err)
	return key
}

func TestCollectorReclaimsZeroCountEntry(t *testing.T) {
	ctx := context.Background()
	c, blobs, refs, own, meter := newCollector(t, time.Nanosecond) // 1ns window -> eligible at once (0 falls back to the 72h default)

	realm := "usr_alice"
	key := putChunk(t, ctx, blobs, realm, refs, own, []byte("hello"))
	// Record the put's usage the way the upload handler does, so reclaiming
	// the entry brings the realm back to zero.
	entry, err := refs.Get(ctx, realm, key)
	require.NoError(t, err)
	require.NoError(t, meter.Apply(ctx, realm, int64(entry.PhysicalSize), int64(entry.LogicalSize), 1))

	dec, err := refs.Decrement(ctx, realm, key)
	require.NoError(t, err)
	assert.True(t, dec.BecameZero)

	result, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Reclaimed)
	assert.Equal(t, 1, result.BlobsErased)

	has, err := blobs.Has(ctx, key)
	require.NoError(t, err)
	assert.False(t, has)

	ownHas, err := own.Has(ctx, realm, key)
	require.NoError(t, err)
	assert.False(t, ownHas)

	summary, err := meter.Get(ctx, realm)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.NodeCount)
}

func TestCollectorRespectsProtectionWindow(t *testing.T) {
	ctx := context.Background()
	c, blobs, refs, own, _ := newCollector(t, time.Hour)

	realm := "usr_alice"
	key := putChunk(t, ctx, blobs, realm, refs, own, []byte("hello"))
	_, err := refs.Decrement(ctx, realm, key)
	require.NoError(t, err)

	result, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned) // freshly pending, inside protection window

	has, err := blobs.Has(ctx, key)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCollectorCrossRealmSurvival(t *testing.T) {
	ctx := context.Background()
	c, blobs, refs, own, _ := newCollector(t, time.Nanosecond)

	data := []byte("shared")
	k1 := putChunk(t, ctx, blobs, "usr_alice", refs, own, data)
	k2 := putChunk(t, ctx, blobs, "usr_bob", refs, own, data)
	assert.Equal(t, k1, k2)

	_, err := refs.Decrement(ctx, "usr_alice", k1)
	require.NoError(t, err)

	result, err := c.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Reclaimed)
	assert.Equal(t, 0, result.BlobsErased) // usr_bob still holds a reference

	has, err := blobs.Has(ctx, k1)
	require.NoError(t, err)
	assert.True(t, has)
}
