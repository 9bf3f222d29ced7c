package audit

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

var bucketAuditLog = []byte("audit_log_entries")

// BoltStore is the embedded-mode audit Store, selected via
// STRATA_STORAGE_BACKEND=embedded for standalone deployments without Postgres.
// Entries are keyed "realm\x00createdAtUnixNano\x00id" so a bucket cursor
// walk naturally yields each realm's entries in time order.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAuditLog)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("audit: init bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func boltAuditKey(realm string, createdAtNano int64, id string) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(createdAtNano))
	return []byte(realm + "\x00" + string(buf[:]) + "\x00" + id)
}

func (s *BoltStore) InsertBatch(_ context.Context, entries []Entry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAuditLog)
		for _, e := range entries {
			raw, err := json.Marshal(e)
			if err != nil {
				return err
			}
			k := boltAuditKey(e.Realm, e.CreatedAt.UnixNano(), uuid.NewString())
			if err := b.Put(k, raw); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) List(_ context.Context, realm string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = 25
	}
	var all []Entry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAuditLog).Cursor()
		prefix := []byte(realm + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasAuditPrefix(k, prefix); k, v = c.Next() {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("audit: decode entry: %w", err)
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
			if fmt.Sprintf("%d", e.CreatedAt.UnixNano()) == cursor {
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
		page.NextCursor = fmt.Sprintf("%d", all[end-1].CreatedAt.UnixNano())
	}
	return page, nil
}

func hasAuditPrefix(b, prefix []byte) bool {
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
