package blobstore

import (
	"context"
	"sync"

	"github.com/wisbric/strata/pkg/digest"
)

// MemoryStore is an in-process Store used by tests and as the blob store
// when the embedded blob-store backend is selected; it is never durable
// across restarts.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[digest.Key][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[digest.Key][]byte)}
}

func (s *MemoryStore) Has(_ context.Context, key digest.Key) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, key digest.Key) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, true, nil
}

func (s *MemoryStore) Put(_ context.Context, key digest.Key, b []byte) error {
	actual := digest.Of(b)
	if actual != key {
		return &digest.HashMismatch{Expected: key, Actual: actual}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	s.data[key] = cp
	return nil
}

func (s *MemoryStore) Erase(_ context.Context, key digest.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}
