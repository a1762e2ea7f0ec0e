package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

// MemoryStore is a TTL-bounded, size-limited in-memory cache. Expiry is
// passive: entries are dropped on lookup once stale, with a background prune
// as a backstop against unread garbage.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]*entry
	maxEntries int
	nowFunc    func() time.Time
	stop       chan struct{}
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock, for tests.
func WithClock(fn func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.nowFunc = fn
	}
}

// NewMemory creates a MemoryStore that evicts the oldest entry when
// maxEntries is exceeded.
func NewMemory(maxEntries int, opts ...MemoryOption) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	s := &MemoryStore{
		entries:    make(map[string]*entry),
		maxEntries: maxEntries,
		nowFunc:    time.Now,
		stop:       make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.pruneLoop()
	return s
}

// Get returns the cached value or ErrMiss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, ErrMiss
	}
	if s.nowFunc().Sub(e.createdAt) > e.ttl {
		delete(s.entries, key)
		return nil, ErrMiss
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Put stores a value under the given key. At capacity the oldest entry is
// evicted to make room.
func (s *MemoryStore) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	cp := make([]byte, len(value))
	copy(cp, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[key]; !exists && len(s.entries) >= s.maxEntries {
		s.evictOldest()
	}
	s.entries[key] = &entry{value: cp, createdAt: s.nowFunc(), ttl: ttl}
	return nil
}

// Stop terminates the background prune goroutine.
func (s *MemoryStore) Stop() {
	close(s.stop)
}

// Len returns the number of live entries (including not-yet-pruned expired
// ones).
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// evictOldest removes the entry with the earliest createdAt. Caller must
// hold s.mu.
func (s *MemoryStore) evictOldest() {
	var oldestKey string
	var oldestTime time.Time
	first := true
	for k, e := range s.entries {
		if first || e.createdAt.Before(oldestTime) {
			oldestKey = k
			oldestTime = e.createdAt
			first = false
		}
	}
	if !first {
		delete(s.entries, oldestKey)
	}
}

func (s *MemoryStore) pruneLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := s.nowFunc()
			s.mu.Lock()
			for k, e := range s.entries {
				if now.Sub(e.createdAt) > e.ttl {
					delete(s.entries, k)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}
