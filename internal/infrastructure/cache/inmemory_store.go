package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
)

// InMemoryStore implements shared.KeyValueStore with a process-local map.
// Values are copied on the way in and out so callers cannot mutate stored bytes.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]shared.Entry
}

// NewInMemoryStore creates an empty in-memory key-value store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string]shared.Entry)}
}

// Get returns the entry for key
func (s *InMemoryStore) Get(_ context.Context, key string) (*shared.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return &shared.Entry{Value: cloneBytes(e.Value), StoredAt: e.StoredAt}, nil
}

// Set replaces the value for key
func (s *InMemoryStore) Set(_ context.Context, key string, value []byte, storedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[key] = shared.Entry{Value: cloneBytes(value), StoredAt: storedAt}
	return nil
}

// Delete removes key; deleting a missing key is not an error
func (s *InMemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// Keys lists keys with the given prefix in ascending order
func (s *InMemoryStore) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for k := range s.entries {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op
func (s *InMemoryStore) Close() error {
	return nil
}

// Size returns the number of stored entries (for testing/monitoring)
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

var _ shared.KeyValueStore = (*InMemoryStore)(nil)
