package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process audit Store for unit tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries []Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertBatch(_ context.Context, entries []Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *MemoryStore) List(_ context.Context, realm string, limit int, cursor string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 {
		limit = 25
	}
	var all []Entry
	for _, e := range s.entries {
		if e.Realm == realm {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := 0
	if cursor != "" {
		for i, e := range all {
			if e.CreatedAt.String() == cursor {
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
		page.NextCursor = all[end-1].CreatedAt.String()
	}
	return page, nil
}
