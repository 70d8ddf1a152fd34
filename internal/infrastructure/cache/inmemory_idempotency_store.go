package cache

import (
	"context"
	"sync"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
)

// sweepEvery is how many writes may happen between expiry sweeps
const sweepEvery = 256

// InMemoryIdempotencyStore keeps finished transaction ids for the lifetime of
// one engine process. Expired ids are swept lazily on write.
type InMemoryIdempotencyStore struct {
	mu     sync.Mutex
	expiry map[string]time.Time
	writes int
	now    func() time.Time
}

// NewInMemoryIdempotencyStore creates an empty store
func NewInMemoryIdempotencyStore() *InMemoryIdempotencyStore {
	return &InMemoryIdempotencyStore{
		expiry: make(map[string]time.Time),
		now:    time.Now,
	}
}

// MarkProcessed implements shared.IdempotencyStore
func (s *InMemoryIdempotencyStore) MarkProcessed(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.expiry[key]; ok && now.Before(until) {
		return false, nil
	}
	s.expiry[key] = now.Add(ttl)

	if s.writes++; s.writes >= sweepEvery {
		s.sweepLocked(now)
	}
	return true, nil
}

// IsProcessed implements shared.IdempotencyStore
func (s *InMemoryIdempotencyStore) IsProcessed(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.expiry[key]
	return ok && s.now().Before(until), nil
}

// Sweep drops expired ids and returns how many were removed
func (s *InMemoryIdempotencyStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now())
}

func (s *InMemoryIdempotencyStore) sweepLocked(now time.Time) int {
	s.writes = 0
	removed := 0
	for key, until := range s.expiry {
		if !now.Before(until) {
			delete(s.expiry, key)
			removed++
		}
	}
	return removed
}

// Size returns the number of stored ids, expired or not
func (s *InMemoryIdempotencyStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.expiry)
}

// Close forgets every id
func (s *InMemoryIdempotencyStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.expiry)
	return nil
}

var _ shared.IdempotencyStore = (*InMemoryIdempotencyStore)(nil)
