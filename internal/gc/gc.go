// Package gc implements the garbage collector from spec.md §4.11: it
// scans for RefCountEntry rows that have sat pending past the protection
// window, decrements their children, and erases blobs whose global
// refcount has dropped to zero.
package gc

import (
	"context"
	"log/slog"
	"time"

	"github.com/wisbric/strata/internal/events"
	"github.com/wisbric/strata/pkg/blobstore"
	"github.com/wisbric/strata/pkg/nodecodec"
	"github.com/wisbric/strata/pkg/ownership"
	"github.com/wisbric/strata/pkg/refcount"
	"github.com/wisbric/strata/pkg/usage"
)

// Config bounds a single run.
type Config struct {
	ProtectionWindow time.Duration // default 72h
	BatchSize        int
	MaxBatches       int
}

func (c Config) withDefaults() Config {
	if c.ProtectionWindow <= 0 {
		c.ProtectionWindow = 72 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.MaxBatches <= 0 {
		c.MaxBatches = 20
	}
	return c
}

// Collector runs GC passes over a single realm-spanning RefCounter.
type Collector struct {
	Blobs     blobstore.Store
	Ownership ownership.Ledger
	RefCount  refcount.Counter
	Usage     usage.Meter
	Events    events.Publisher
	Logger    *slog.Logger
	Config    Config
}

// RunResult summarizes one pass.
type RunResult struct {
	Scanned     int
	Reclaimed   int
	BlobsErased int
	Errors      int
}

// Run executes up to Config.MaxBatches batches of Config.BatchSize
// pending entries older than the protection window, per spec.md §4.11.
// Per-entry failures are logged and counted, never aborting the run.
func (c *Collector) Run(ctx context.Context) (RunResult, error) {
	cfg := c.Config.withDefaults()
	var result RunResult

	threshold := time.Now().Add(-cfg.ProtectionWindow)
	cursor := ""

	for batch := 0; batch < cfg.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := c.RefCount.ListPending(ctx, threshold, cfg.BatchSize, cursor)
		if err != nil {
			return result, err
		}
		if len(page.Entries) == 0 {
			break
		}

		for _, entry := range page.Entries {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			result.Scanned++
			erased, err := c.reclaimOne(ctx, entry)
			if err != nil {
				result.Errors++
				c.Logger.Error("gc: reclaim failed", "realm", entry.Realm, "key", entry.Key, "error", err)
				continue
			}
			result.Reclaimed++
			if erased {
				result.BlobsErased++
			}
		}

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	return result, nil
}

func (c *Collector) reclaimOne(ctx context.Context, entry refcount.Entry) (blobErased bool, err error) {
	raw, ok, err := c.Blobs.Get(ctx, entry.Key)
	if err != nil {
		return false, err
	}

	if ok {
		node, err := nodecodec.Decode(raw)
		if err != nil {
			c.Logger.Warn("gc: undecodable node during reclaim, skipping children", "key", entry.Key, "error", err)
		} else {
			for _, child := range node.Children {
				if _, err := c.RefCount.Decrement(ctx, entry.Realm, child.Digest); err != nil {
					c.Logger.Error("gc: child decrement failed", "realm", entry.Realm, "parent", entry.Key, "child", child.Digest, "error", err)
				}
			}
		}
	}

	if err := c.Usage.Apply(ctx, entry.Realm, -int64(entry.PhysicalSize), -int64(entry.LogicalSize), -1); err != nil {
		return false, err
	}
	if err := c.Ownership.Remove(ctx, entry.Realm, entry.Key); err != nil {
		return false, err
	}
	if err := c.RefCount.Delete(ctx, entry.Realm, entry.Key); err != nil {
		return false, err
	}

	global, err := c.RefCount.CountGlobal(ctx, entry.Key)
	if err != nil {
		return false, err
	}
	if global == 0 {
		if err := c.Blobs.Erase(ctx, entry.Key); err != nil {
			return false, err
		}
		blobErased = true
		if c.Events != nil {
			_ = c.Events.Publish(ctx, entry.Realm, events.TypeGCReclaimed, events.GCReclaimedPayload{
				Key:          string(entry.Key),
				PhysicalSize: entry.PhysicalSize,
			})
		}
	}

	return blobErased, nil
}
