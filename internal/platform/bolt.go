package platform

import (
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// OpenBoltDB opens (creating if absent) the embedded bbolt database used
// by the "embedded" backend selectors, a single-process alternative to
// Postgres for small or air-gapped deployments.
func OpenBoltDB(path string) (*bolt.DB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt db %s: %w", path, err)
	}
	return db, nil
}
