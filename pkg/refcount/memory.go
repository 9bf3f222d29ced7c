package refcount

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

type memKey struct {
	realm string
	key   digest.Key
}

// MemoryCounter is an in-process RefCounter for unit tests. A single mutex
// serialises all operations, which trivially satisfies the linearisability
// requirement for same-key concurrent callers.
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[memKey]*Entry
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{entries: make(map[memKey]*Entry)}
}

func (c *MemoryCounter) Increment(_ context.Context, realm string, key digest.Key, physicalSize, logicalSize uint64) (IncrementResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mk := memKey{realm, key}
	e, ok := c.entries[mk]
	if !ok {
		e = &Entry{Realm: realm, Key: key, Count: 1, PhysicalSize: physicalSize, LogicalSize: logicalSize, GCState: StateActive, FirstSeenAt: time.Now().UTC()}
		c.entries[mk] = e
		return IncrementResult{Count: 1, WasZeroBefore: true}, nil
	}
	wasZero := e.Count == 0
	e.Count++
	e.GCState = StateActive
	return IncrementResult{Count: e.Count, WasZeroBefore: wasZero}, nil
}

func (c *MemoryCounter) Decrement(_ context.Context, realm string, key digest.Key) (DecrementResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[memKey{realm, key}]
	if !ok || e.Count <= 0 {
		return DecrementResult{}, nil
	}
	e.Count--
	if e.Count == 0 {
		e.GCState = StatePending
	}
	return DecrementResult{Count: e.Count, BecameZero: e.Count == 0}, nil
}

func (c *MemoryCounter) Get(_ context.Context, realm string, key digest.Key) (*Entry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[memKey{realm, key}]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

func (c *MemoryCounter) ListPending(_ context.Context, beforeTime time.Time, limit int, cursor string) (PendingPage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var all []Entry
	for _, e := range c.entries {
		if e.GCState == StatePending && e.FirstSeenAt.Before(beforeTime) {
			all = append(all, *e)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].FirstSeenAt.Equal(all[j].FirstSeenAt) {
			return all[i].FirstSeenAt.Before(all[j].FirstSeenAt)
		}
		if all[i].Realm != all[j].Realm {
			return all[i].Realm < all[j].Realm
		}
		return all[i].Key < all[j].Key
	})

	start := 0
	if cursor != "" {
		for i, e := range all {
			if string(e.Realm)+"/"+string(e.Key) == cursor {
				start = i + 1
				break
			}
		}
	}
	if limit <= 0 {
		limit = 100
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	page := PendingPage{}
	if start < len(all) {
		page.Entries = all[start:end]
	}
	if end < len(all) {
		last := all[end-1]
		page.NextCursor = last.Realm + "/" + string(last.Key)
	}
	return page, nil
}

func (c *MemoryCounter) CountGlobal(_ context.Context, key digest.Key) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.entries {
		if e.Key == key && e.Count > 0 {
			n++
		}
	}
	return n, nil
}

func (c *MemoryCounter) Delete(_ context.Context, realm string, key digest.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, memKey{realm, key})
	return nil
}
