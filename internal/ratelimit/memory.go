package ratelimit

import (
	"context"
	"sync"
	"time"
)

// gcEvery is the number of increments between sweeps of expired buckets.
const gcEvery = 5000

type bucket struct {
	count   int64
	resetAt time.Time
}

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	now      func() time.Time
	cleanupN uint64
}

// MemoryOption customizes a MemoryStore.
type MemoryOption func(*MemoryStore)

// MemoryClock overrides the wall clock used to open and expire windows.
func MemoryClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Increment implements Store.
func (s *MemoryStore) Increment(_ context.Context, key string, window time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	// Sweep before touching key so an expired bucket for key is dropped too.
	s.cleanupN++
	if s.cleanupN >= gcEvery {
		for k, b := range s.buckets {
			if !now.Before(b.resetAt) {
				delete(s.buckets, k)
			}
		}
		s.cleanupN = 0
	}

	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(window)}
		s.buckets[key] = b
		return Counter{Count: 1, ResetAt: b.resetAt}, nil
	}
	b.count++
	return Counter{Count: b.count, ResetAt: b.resetAt}, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Len reports the number of tracked buckets, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}
