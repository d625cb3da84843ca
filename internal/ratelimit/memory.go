package ratelimit

import (
	"context"
	"sync"
	"time"
)

// sweepEvery controls how often expired entries are dropped from the map.
const sweepEvery = 256

// MemoryStore keeps windows in process memory. Counters are lost on restart
// and are not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Entry
	calls   int
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*Entry)}
}

func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration, now time.Time) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.calls%sweepEvery == 0 {
		s.sweepLocked(now)
	}

	entry, ok := s.entries[key]
	if !ok || !now.Before(entry.ResetAt) {
		entry = &Entry{Count: 1, ResetAt: now.Add(window)}
		s.entries[key] = entry
		return *entry, nil
	}
	entry.Count++
	return *entry, nil
}

// Len returns the number of tracked keys, expired or not.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) sweepLocked(now time.Time) {
	for key, entry := range s.entries {
		if !now.Before(entry.ResetAt) {
			delete(s.entries, key)
		}
	}
}

func (s *MemoryStore) Close() error { return nil }
