package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketUsage = []byte("usage_summaries")

// BoltMeter is the embedded-mode UsageMeter backend.
type BoltMeter struct {
	db *bolt.DB
}

func NewBoltMeter(db *bolt.DB) (*BoltMeter, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketUsage)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("usage: init bucket: %w", err)
	}
	return &BoltMeter{db: db}, nil
}

func (m *BoltMeter) Get(_ context.Context, realm string) (Summary, error) {
	s := Summary{Realm: realm}
	err := m.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketUsage).Get([]byte(realm))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &s)
	})
	return s, err
}

func (m *BoltMeter) Apply(_ context.Context, realm string, deltaPhysical, deltaLogical, deltaNodes int64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		s := Summary{Realm: realm}
		if raw := b.Get([]byte(realm)); raw != nil {
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
		}
		s.PhysicalBytes += deltaPhysical
		s.LogicalBytes += deltaLogical
		s.NodeCount += deltaNodes
		s.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put([]byte(realm), out)
	})
}

func (m *BoltMeter) SetQuota(_ context.Context, realm string, bytes int64) error {
	return m.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketUsage)
		s := Summary{Realm: realm}
		if raw := b.Get([]byte(realm)); raw != nil {
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
		}
		s.QuotaLimit = bytes
		s.UpdatedAt = time.Now().UTC()
		out, err := json.Marshal(s)
		if err != nil {
			return err
		}
		return b.Put([]byte(realm), out)
	})
}

func (m *BoltMeter) CheckQuota(ctx context.Context, realm string, wouldAddBytes int64) (bool, Summary, error) {
	s, err := m.Get(ctx, realm)
	if err != nil {
		return false, Summary{}, err
	}
	if s.QuotaLimit == 0 {
		return true, s, nil
	}
	return s.PhysicalBytes+wouldAddBytes <= s.QuotaLimit, s, nil
}
