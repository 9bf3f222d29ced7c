package ownership

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

// MemoryLedger is an in-process OwnershipLedger for unit tests.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[memKey]Entry
	seq     int64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[memKey]Entry)}
}

func (l *MemoryLedger) Add(_ context.Context, realm string, key digest.Key, kind, contentType string, byteSize uint64, creator string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	mk := memKey{realm, key}
	if _, ok := l.entries[mk]; ok {
		return nil
	}
	l.seq++
	l.entries[mk] = Entry{
		Realm:       realm,
		Key:         key,
		Kind:        kind,
		ContentType: contentType,
		ByteSize:    byteSize,
		CreatedAt:   time.Now().Add(time.Duration(l.seq) * time.Nanosecond),
		CreatedBy:   creator,
	}
	return nil
}

func (l *MemoryLedger) Has(_ context.Context, realm string, key digest.Key) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.entries[memKey{realm, key}]
	return ok, nil
}

func (l *MemoryLedger) Check(_ context.Context, realm string, keys []digest.Key) ([]digest.Key, []digest.Key, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var present, missing []digest.Key
	for _, k := range keys {
		if _, ok := l.entries[memKey{realm, k}]; ok {
			present = append(present, k)
		} else {
			missing = append(missing, k)
		}
	}
	return present, missing, nil
}

func (l *MemoryLedger) List(_ context.Context, realm string, limit int, cursor string) (Page, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var all []Entry
	for _, e := range l.entries {
		if e.Realm == realm {
			all = append(all, e)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	start := 0
	if cursor != "" {
		for i, e := range all {
			if string(e.Key) == cursor {
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
		page.Entries = all[start:end]
	}
	if end < len(all) {
		page.NextCursor = string(all[end-1].Key)
	}
	return page, nil
}

func (l *MemoryLedger) Remove(_ context.Context, realm string, key digest.Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, memKey{realm, key})
	return nil
}
