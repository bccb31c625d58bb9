package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	memoryIdleTTL     = 10 * time.Minute
	memoryPruneAtSize = 4096
)

type memoryEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps one token bucket per key in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]*memoryEntry)}
}

// Allow takes one token from the key's bucket, which refills perMinute tokens per minute.
func (s *MemoryStore) Allow(_ context.Context, key string, perMinute int, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) >= memoryPruneAtSize {
		s.prune(now)
	}
	entry, ok := s.entries[key]
	if !ok {
		entry = &memoryEntry{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)}
		s.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1), nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) prune(now time.Time) {
	for key, entry := range s.entries {
		if now.Sub(entry.lastSeen) > memoryIdleTTL {
			delete(s.entries, key)
		}
	}
}
