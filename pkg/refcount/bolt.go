package refcount

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wisbric/strata/pkg/digest"
)

var bucketRefcount = []byte("refcount_entries")

// BoltCounter is the embedded-mode RefCounter backend. bbolt transactions
// already serialise at the database level, so a single read-modify-write
// transaction per key satisfies the linearisability requirement.
type BoltCounter struct {
	db *bolt.DB
}

func NewBoltCounter(db *bolt.DB) (*BoltCounter, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRefcount)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("refcount: init bucket: %w", err)
	}
	return &BoltCounter{db: db}, nil
}

func boltRefKey(realm string, key digest.Key) []byte {
	return []byte(realm + "\x00" + string(key))
}

func (c *BoltCounter) Increment(_ context.Context, realm string, key digest.Key, physicalSize, logicalSize uint64) (IncrementResult, error) {
	var result IncrementResult
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefcount)
		k := boltRefKey(realm, key)
		raw := b.Get(k)
		var e Entry
		if raw == nil {
			e = Entry{Realm: realm, Key: key, Count: 1, PhysicalSize: physicalSize, LogicalSize: logicalSize, GCState: StateActive, FirstSeenAt: time.Now().UTC()}
			result = IncrementResult{Count: 1, WasZeroBefore: true}
		} else {
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			result.WasZeroBefore = e.Count == 0
			e.Count++
			e.GCState = StateActive
			result.Count = e.Count
		}
		out, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(k, out)
	})
	return result, err
}

func (c *BoltCounter) Decrement(_ context.Context, realm string, key digest.Key) (DecrementResult, error) {
	var result DecrementResult
	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRefcount)
		k := boltRefKey(realm, key)
		raw := b.Get(k)
		if raw == nil {
			return nil
		}
		var e Entry
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		if e.Count <= 0 {
			return nil
		}
		e.Count--
		if e.Count == 0 {
			e.GCState = StatePending
		}
		result = DecrementResult{Count: e.Count, BecameZero: e.Count == 0}
		out, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(k, out)
	})
	return result, err
}

func (c *BoltCounter) Get(_ context.Context, realm string, key digest.Key) (*Entry, error) {
	var e *Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketRefcount).Get(boltRefKey(realm, key))
		if raw == nil {
			return nil
		}
		var entry Entry
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		e = &entry
		return nil
	})
	return e, err
}

func (c *BoltCounter) ListPending(_ context.Context, beforeTime time.Time, limit int, cursor string) (PendingPage, error) {
	var all []Entry
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefcount).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.GCState == StatePending && e.FirstSeenAt.Before(beforeTime) {
				all = append(all, e)
			}
			return nil
		})
	})
	if err != nil {
		return PendingPage{}, err
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].FirstSeenAt.Equal(all[j].FirstSeenAt) {
			return all[i].FirstSeenAt.Before(all[j].FirstSeenAt)
		}
		if all[i].Realm != all[j].Realm {
			return all[i].Realm < all[j].Realm
		}
		return all[i].Key < all[j].Key
	})

	start := 0
	if cursor != "" {
		for i, e := range all {
			if string(e.Realm)+"/"+string(e.Key) == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := PendingPage{}
	if start < len(all) {
		page.Entries = all[start:end]
	}
	if end < len(all) {
		last := all[end-1]
		page.NextCursor = last.Realm + "/" + string(last.Key)
	}
	return page, nil
}

func (c *BoltCounter) CountGlobal(_ context.Context, key digest.Key) (int, error) {
	n := 0
	err := c.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefcount).ForEach(func(_, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			if e.Key == key && e.Count > 0 {
				n++
			}
			return nil
		})
	})
	return n, err
}

func (c *BoltCounter) Delete(_ context.Context, realm string, key digest.Key) error {
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRefcount).Delete(boltRefKey(realm, key))
	})
}
