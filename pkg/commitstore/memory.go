package commitstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

type memKey struct {
	realm string
	root  digest.Key
}

// MemoryStore is an in-process CommitStore for unit tests.
type MemoryStore struct {
	mu      sync.Mutex
	commits map[memKey]*Commit
	seq     int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{commits: make(map[memKey]*Commit)}
}

func (s *MemoryStore) Create(_ context.Context, realm string, root digest.Key, creator, title string) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c := &Commit{Realm: realm, Root: root, Title: title, CreatedBy: creator, CreatedAt: time.Now().Add(time.Duration(s.seq) * time.Nanosecond)}
	s.commits[memKey{realm, root}] = c
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, realm string, root digest.Key) (*Commit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[memKey{realm, root}]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateTitle(_ context.Context, realm string, root digest.Key, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.commits[memKey{realm, root}]
	if !ok {
		return errNotFound
	}
	c.Title = title
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, realm string, root digest.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.commits, memKey{realm, root})
	return nil
}

func (s *MemoryStore) List(_ context.Context, realm string, limit int, cursor string) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []Commit
	for _, c := range s.commits {
		if c.Realm == realm {
			all = append(all, *c)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := 0
	if cursor != "" {
		for i, c := range all {
			if string(c.Root) == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 25
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

type notFoundError struct{}

func (notFoundError) Error() string { return "commitstore: not found" }

var errNotFound = notFoundError{}
