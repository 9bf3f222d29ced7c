package depot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/wisbric/strata/pkg/digest"
)

var (
	bucketDepots     = []byte("depots")
	bucketDepotNames = []byte("depot_names")
	bucketDepotHist  = []byte("depot_history")
)

// BoltStore is the embedded-mode DepotStore backend. bbolt's
// single-writer transaction model makes the create/update-root sequence
// trivially atomic, satisfying the same guarantee PostgresStore provides
// via an explicit SQL transaction.
type BoltStore struct {
	db       *bolt.DB
	archiver Archiver
}

func NewBoltStore(db *bolt.DB, archiver Archiver) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketDepots, bucketDepotNames, bucketDepotHist} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("depot: init buckets: %w", err)
	}
	return &BoltStore{db: db, archiver: archiver}, nil
}

func boltDepotKey(realm, id string) []byte  { return []byte(realm + "\x00" + id) }
func boltNameKey(realm, name string) []byte { return []byte(realm + "\x00" + name) }
func boltHistKey(realm, id string, v int64) []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%020d", realm, id, v))
}

func (s *BoltStore) Create(_ context.Context, realm, name, description string, initialRoot digest.Key) (*Depot, error) {
	var d Depot
	err := s.db.Update(func(tx *bolt.Tx) error {
		names := tx.Bucket(bucketDepotNames)
		nk := boltNameKey(realm, name)
		if names.Get(nk) != nil {
			return ErrNameConflict
		}
		now := time.Now().UTC()
		d = Depot{Realm: realm, ID: uuid.NewString(), Name: name, Description: description, Root: initialRoot, Version: 1, CreatedAt: now, UpdatedAt: now}
		raw, err := json.Marshal(d)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDepots).Put(boltDepotKey(realm, d.ID), raw); err != nil {
			return err
		}
		if err := names.Put(nk, []byte(d.ID)); err != nil {
			return err
		}
		h := HistoryEntry{Version: 1, Root: initialRoot, CreatedAt: now}
		hraw, err := json.Marshal(h)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDepotHist).Put(boltHistKey(realm, d.ID, 1), hraw)
	})
	if err != nil {
		return nil, err
	}
	if s.archiver != nil {
		s.archiver.Append(context.Background(), realm, d.ID, HistoryEntry{Version: 1, Root: initialRoot, CreatedAt: d.CreatedAt})
	}
	return &d, nil
}

func (s *BoltStore) Get(_ context.Context, realm, depotID string) (*Depot, error) {
	var d *Depot
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDepots).Get(boltDepotKey(realm, depotID))
		if raw == nil {
			return nil
		}
		var entry Depot
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		d = &entry
		return nil
	})
	return d, err
}

func (s *BoltStore) GetByName(ctx context.Context, realm, name string) (*Depot, error) {
	var id string
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketDepotNames).Get(boltNameKey(realm, name))
		if raw != nil {
			id = string(raw)
		}
		return nil
	})
	if err != nil || id == "" {
		return nil, err
	}
	return s.Get(ctx, realm, id)
}

func (s *BoltStore) List(_ context.Context, realm string) ([]Depot, error) {
	var out []Depot
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDepots).Cursor()
		prefix := []byte(realm + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasPrefixBytes(k, prefix); k, v = c.Next() {
			var d Depot
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) UpdateRoot(_ context.Context, realm, depotID string, expectedVersion int64, newRoot digest.Key, message string) (*Depot, error) {
	var d *Depot
	err := s.db.Update(func(tx *bolt.Tx) error {
		depots := tx.Bucket(bucketDepots)
		key := boltDepotKey(realm, depotID)
		raw := depots.Get(key)
		if raw == nil {
			return nil
		}
		var entry Depot
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		if entry.Version != expectedVersion {
			return ErrVersionConflict
		}
		now := time.Now().UTC()
		entry.Root = newRoot
		entry.Version++
		entry.UpdatedAt = now

		out, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		if err := depots.Put(key, out); err != nil {
			return err
		}

		h := HistoryEntry{Version: entry.Version, Root: newRoot, CreatedAt: now, Message: message}
		hraw, err := json.Marshal(h)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketDepotHist).Put(boltHistKey(realm, depotID, entry.Version), hraw); err != nil {
			return err
		}
		d = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	if d != nil && s.archiver != nil {
		s.archiver.Append(context.Background(), realm, depotID, HistoryEntry{Version: d.Version, Root: newRoot, CreatedAt: d.UpdatedAt, Message: message})
	}
	return d, nil
}

func (s *BoltStore) History(_ context.Context, realm, depotID string, limit int) ([]HistoryEntry, error) {
	var out []HistoryEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDepotHist).Cursor()
		prefix := []byte(realm + "\x00" + depotID + "\x00")
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if !hasPrefixBytes(k, prefix) {
				if string(k) < string(prefix) {
					break
				}
				continue
			}
			var h HistoryEntry
			if err := json.Unmarshal(v, &h); err != nil {
				return err
			}
			out = append(out, h)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) Delete(_ context.Context, realm, depotID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		depots := tx.Bucket(bucketDepots)
		key := boltDepotKey(realm, depotID)
		raw := depots.Get(key)
		if raw == nil {
			return nil
		}
		var d Depot
		if err := json.Unmarshal(raw, &d); err != nil {
			return err
		}
		if d.Name == MainDepotName {
			return ErrMainUndeletable
		}
		if err := depots.Delete(key); err != nil {
			return err
		}
		return tx.Bucket(bucketDepotNames).Delete(boltNameKey(realm, d.Name))
	})
}

func hasPrefixBytes(b, prefix []byte) bool {
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
