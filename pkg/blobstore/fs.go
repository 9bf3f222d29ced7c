package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wisbric/strata/pkg/digest"
)

// FSStore is a filesystem-backed Store using the "cas/sha256/xx/xxxx"
// fan-out layout. It keeps a bounded, process-local positive-existence
// cache so repeated Has checks on hot keys avoid a stat syscall; negative
// results are never cached (spec.md §4.1).
type FSStore struct {
	root  string
	cache *lru.Cache[digest.Key, struct{}]
}

// DefaultCacheSize is the minimum positive-existence cache size mandated
// by spec.md §5 ("size bound ≥ 10 000").
const DefaultCacheSize = 10_000

// NewFSStore opens (creating if absent) a filesystem blob store rooted at
// dir, with a positive-existence cache of cacheSize entries.
func NewFSStore(dir string, cacheSize int) (*FSStore, error) {
	if cacheSize < DefaultCacheSize {
		cacheSize = DefaultCacheSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root %s: %w", dir, err)
	}
	c, err := lru.New[digest.Key, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("blobstore: init cache: %w", err)
	}
	return &FSStore{root: dir, cache: c}, nil
}

func (s *FSStore) path(key digest.Key) string {
	return filepath.Join(s.root, filepath.FromSlash(Layout(key)))
}

func (s *FSStore) Has(_ context.Context, key digest.Key) (bool, error) {
	if _, ok := s.cache.Get(key); ok {
		return true, nil
	}
	if _, err := os.Stat(s.path(key)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("blobstore: stat %s: %w", key, err)
	}
	s.cache.Add(key, struct{}{})
	return true, nil
}

func (s *FSStore) Get(_ context.Context, key digest.Key) ([]byte, bool, error) {
	b, err := os.ReadFile(s.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	s.cache.Add(key, struct{}{})
	return b, true, nil
}

func (s *FSStore) Put(_ context.Context, key digest.Key, b []byte) error {
	actual := digest.Of(b)
	if actual != key {
		return &digest.HashMismatch{Expected: key, Actual: actual}
	}

	dst := s.path(key)
	if _, err := os.Stat(dst); err == nil {
		s.cache.Add(key, struct{}{})
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir for %s: %w", key, err)
	}

	// Write to a per-call temp file then rename, so concurrent puts of the
	// same key race harmlessly to the same final bytes instead of
	// corrupting a partially-written file.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".tmp-*")
	if err != nil {
		return fmt.Errorf("blobstore: create temp for %s: %w", key, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: write temp for %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: close temp for %s: %w", key, err)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		// Another concurrent put may have already won; treat an existing
		// destination as success rather than a hard error.
		if _, statErr := os.Stat(dst); statErr == nil {
			s.cache.Add(key, struct{}{})
			return nil
		}
		return fmt.Errorf("blobstore: rename temp for %s: %w", key, err)
	}

	s.cache.Add(key, struct{}{})
	return nil
}

func (s *FSStore) Erase(_ context.Context, key digest.Key) error {
	s.cache.Remove(key)
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("blobstore: erase %s: %w", key, err)
	}
	return nil
}
