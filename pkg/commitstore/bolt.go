package commitstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/wisbric/strata/pkg/digest"
)

var bucketCommits = []byte("commits")

// BoltStore is the embedded-mode CommitStore backend.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketCommits)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("commitstore: init bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func boltCommitKey(realm string, root digest.Key) []byte {
	return []byte(realm + "\x00" + string(root))
}

func (s *BoltStore) Create(_ context.Context, realm string, root digest.Key, creator, title string) (*Commit, error) {
	var c Commit
	err := s.db.Update(func(tx *bolt.Tx) error {
		c = Commit{Realm: realm, Root: root, Title: title, CreatedBy: creator}
		c.CreatedAt = time.Now().UTC()
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketCommits).Put(boltCommitKey(realm, root), raw)
	})
	return &c, err
}

func (s *BoltStore) Get(_ context.Context, realm string, root digest.Key) (*Commit, error) {
	var c *Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCommits).Get(boltCommitKey(realm, root))
		if raw == nil {
			return nil
		}
		var entry Commit
		if err := json.Unmarshal(raw, &entry); err != nil {
			return err
		}
		c = &entry
		return nil
	})
	return c, err
}

func (s *BoltStore) UpdateTitle(_ context.Context, realm string, root digest.Key, title string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketCommits)
		k := boltCommitKey(realm, root)
		raw := b.Get(k)
		if raw == nil {
			return errNotFound
		}
		var c Commit
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		c.Title = title
		out, err := json.Marshal(c)
		if err != nil {
			return err
		}
		return b.Put(k, out)
	})
}

func (s *BoltStore) Delete(_ context.Context, realm string, root digest.Key) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCommits).Delete(boltCommitKey(realm, root))
	})
}

func (s *BoltStore) List(_ context.Context, realm string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = 25
	}
	var all []Commit
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketCommits).Cursor()
		prefix := []byte(realm + "\x00")
		for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
			var entry Commit
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			all = append(all, entry)
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
			if string(e.Root) == cursor {
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
		page.Commits = all[start:end]
	}
	if end < len(all) {
		page.NextCursor = string(all[end-1].Root)
	}
	return page, nil
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
