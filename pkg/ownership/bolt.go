package ownership

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wisbric/strata/pkg/digest"
)

var bucketOwnership = []byte("ownership_entries")

// BoltLedger is the embedded-mode OwnershipLedger backend, selected via
// STRATA_STORAGE_BACKEND=embedded for standalone deployments without Postgres.
// It follows the bucket-per-entity-type pattern: one flat bucket keyed by
// "realm\x00key".
type BoltLedger struct {
	db *bolt.DB
}

func NewBoltLedger(db *bolt.DB) (*BoltLedger, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketOwnership)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ownership: init bucket: %w", err)
	}
	return &BoltLedger{db: db}, nil
}

func boltOwnershipKey(realm string, key digest.Key) []byte {
	return []byte(realm + "\x00" + string(key))
}

func (l *BoltLedger) Add(_ context.Context, realm string, key digest.Key, kind, contentType string, byteSize uint64, creator string) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOwnership)
		k := boltOwnershipKey(realm, key)
		if b.Get(k) != nil {
			return nil
		}
		e := Entry{Realm: realm, Key: key, Kind: kind, ContentType: contentType, ByteSize: byteSize, CreatedAt: time.Now().UTC(), CreatedBy: creator}
		raw, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(k, raw)
	})
}

func (l *BoltLedger) Has(_ context.Context, realm string, key digest.Key) (bool, error) {
	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(bucketOwnership).Get(boltOwnershipKey(realm, key)) != nil
		return nil
	})
	return found, err
}

func (l *BoltLedger) Check(_ context.Context, realm string, keys []digest.Key) ([]digest.Key, []digest.Key, error) {
	var present, missing []digest.Key
	err := l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOwnership)
		for _, k := range keys {
			if b.Get(boltOwnershipKey(realm, k)) != nil {
				present = append(present, k)
			} else {
				missing = append(missing, k)
			}
		}
		return nil
	})
	return present, missing, err
}

func (l *BoltLedger) List(_ context.Context, realm string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = 25
	}
	var all []Entry
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketOwnership).Cursor()
		prefix := []byte(realm + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("ownership: decode entry: %w", err)
			}
			all = append(all, e)
		}
		return nil
	})
	if err != nil {
		return Page{}, err
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := 0
	if cursor != "" {
		for i, e := range all {
			if string(e.Key) == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := Page{}
	if start < len(all) {
		page.Entries = all[start:end]
	}
	if end < len(all) {
		page.NextCursor = string(all[end-1].Key)
	}
	return page, nil
}

func (l *BoltLedger) Remove(_ context.Context, realm string, key digest.Key) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOwnership).Delete(boltOwnershipKey(realm, key))
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}
