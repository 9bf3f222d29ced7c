package usage

import (
	"context"
	"sync"
	"time"
)

// MemoryMeter is an in-process UsageMeter for unit tests.
type MemoryMeter struct {
	mu   sync.Mutex
	data map[string]*Summary
}

func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{data: make(map[string]*Summary)}
}

func (m *MemoryMeter) get(realm string) *Summary {
	s, ok := m.data[realm]
	if !ok {
		s = &Summary{Realm: realm}
		m.data[realm] = s
	}
	return s
}

func (m *MemoryMeter) Get(_ context.Context, realm string) (Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.get(realm), nil
}

func (m *MemoryMeter) Apply(_ context.Context, realm string, deltaPhysical, deltaLogical, deltaNodes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(realm)
	s.PhysicalBytes += deltaPhysical
	s.LogicalBytes += deltaLogical
	s.NodeCount += deltaNodes
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryMeter) SetQuota(_ context.Context, realm string, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.get(realm)
	s.QuotaLimit = bytes
	s.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryMeter) CheckQuota(_ context.Context, realm string, wouldAddBytes int64) (bool, Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := *m.get(realm)
	if s.QuotaLimit == 0 {
		return true, s, nil
	}
	return s.PhysicalBytes+wouldAddBytes <= s.QuotaLimit, s, nil
}
