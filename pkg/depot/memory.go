package depot

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/strata/pkg/digest"
)

type memRecord struct {
	depot   Depot
	history []HistoryEntry
}

// MemoryStore is an in-process DepotStore for unit tests.
type MemoryStore struct {
	mu     sync.Mutex
	depots map[string]map[string]*memRecord // realm -> id -> record
	byName map[string]map[string]string     // realm -> name -> id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		depots: make(map[string]map[string]*memRecord),
		byName: make(map[string]map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, realm, name, description string, initialRoot digest.Key) (*Depot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byName[realm]; !ok {
		s.byName[realm] = make(map[string]string)
		s.depots[realm] = make(map[string]*memRecord)
	}
	if _, taken := s.byName[realm][name]; taken {
		return nil, ErrNameConflict
	}

	id := uuid.NewString()
	now := time.Now().UTC()
	d := Depot{Realm: realm, ID: id, Name: name, Description: description, Root: initialRoot, Version: 1, CreatedAt: now, UpdatedAt: now}
	rec := &memRecord{depot: d, history: []HistoryEntry{{Version: 1, Root: initialRoot, CreatedAt: now}}}
	s.depots[realm][id] = rec
	s.byName[realm][name] = id

	cp := d
	return &cp, nil
}

func (s *MemoryStore) Get(_ context.Context, realm, depotID string) (*Depot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.depots[realm][depotID]
	if !ok {
		return nil, nil
	}
	cp := rec.depot
	return &cp, nil
}

func (s *MemoryStore) GetByName(_ context.Context, realm, name string) (*Depot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byName[realm][name]
	if !ok {
		return nil, nil
	}
	cp := s.depots[realm][id].depot
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, realm string) ([]Depot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Depot
	for _, rec := range s.depots[realm] {
		out = append(out, rec.depot)
	}
	return out, nil
}

func (s *MemoryStore) UpdateRoot(_ context.Context, realm, depotID string, expectedVersion int64, newRoot digest.Key, message string) (*Depot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.depots[realm][depotID]
	if !ok {
		return nil, nil
	}
	if rec.depot.Version != expectedVersion {
		return nil, ErrVersionConflict
	}
	now := time.Now().UTC()
	rec.depot.Root = newRoot
	rec.depot.Version++
	rec.depot.UpdatedAt = now
	rec.history = append(rec.history, HistoryEntry{Version: rec.depot.Version, Root: newRoot, CreatedAt: now, Message: message})

	cp := rec.depot
	return &cp, nil
}

func (s *MemoryStore) History(_ context.Context, realm, depotID string, limit int) ([]HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.depots[realm][depotID]
	if !ok {
		return nil, nil
	}
	out := make([]HistoryEntry, len(rec.history))
	for i := range rec.history {
		out[len(rec.history)-1-i] = rec.history[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, realm, depotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.depots[realm][depotID]
	if !ok {
		return nil
	}
	if rec.depot.Name == MainDepotName {
		return ErrMainUndeletable
	}
	delete(s.depots[realm], depotID)
	delete(s.byName[realm], rec.depot.Name)
	return nil
}
