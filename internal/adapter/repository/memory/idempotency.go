package memory

import (
	"context"
	"sync"
	"time"
)

var processingMarker = []byte("processing")

// idempotencySweepInterval is the least time between two sweeps of expired
// keys. Expired keys are ignored on lookup in between.
const idempotencySweepInterval = time.Minute

// IdempotencyStore is a process-local usecase.IdempotencyStore used when no
// Redis server is configured.
type IdempotencyStore struct {
	mu      sync.Mutex
	entries   map[string]idempotencyEntry
	now       func() time.Time
	lastSweep time.Time
}

type idempotencyEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewIdempotencyStore creates an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	s := &IdempotencyStore{
		entries: make(map[string]idempotencyEntry),
		now:     time.Now,
	}
	s.lastSweep = s.now()
	return s
}

// CheckAndSet claims key unless a live entry exists, in which case the stored
// value is returned.
func (s *IdempotencyStore) CheckAndSet(ctx context.Context, key string, response []byte, ttl time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		return true, append([]byte(nil), e.value...), nil
	}

	value := response
	if value == nil {
		value = processingMarker
	}
	s.entries[key] = idempotencyEntry{value: append([]byte(nil), value...), expiresAt: now.Add(ttl)}
	s.sweep(now)
	return false, nil, nil
}

// Update stores the final response for key.
func (s *IdempotencyStore) Update(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = idempotencyEntry{value: append([]byte(nil), response...), expiresAt: s.now().Add(ttl)}
	return nil
}

// Release drops key.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// sweep drops expired entries at most once per idempotencySweepInterval.
// Caller holds mu.
func (s *IdempotencyStore) sweep(now time.Time) {
	if now.Sub(s.lastSweep) < idempotencySweepInterval {
		return
	}
	s.lastSweep = now
	for k, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, k)
		}
	}
}
