package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
	"go.uber.org/zap"
)

// TieredStore implements a two-tier key-value store.
// L1: process-local InMemoryStore (fast, lost on restart)
// L2: a persistent store such as Redis or SQL (authoritative)
// Reads go L1 then L2 and populate L1 on an L2 hit; writes go to L2 first
// and reach L1 only after L2 accepted them.
type TieredStore struct {
	l1     *InMemoryStore
	l2     shared.KeyValueStore
	logger *zap.Logger

	l1Hits   atomic.Int64
	l1Misses atomic.Int64
	l2Hits   atomic.Int64
	l2Misses atomic.Int64
}

// TieredStats is a snapshot of hit/miss counters
type TieredStats struct {
	L1Hits   int64 `json:"l1_hits"`
	L1Misses int64 `json:"l1_misses"`
	L2Hits   int64 `json:"l2_hits"`
	L2Misses int64 `json:"l2_misses"`
}

// NewTieredStore creates a tiered store over the persistent l2 store
func NewTieredStore(l2 shared.KeyValueStore, logger *zap.Logger) *TieredStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TieredStore{
		l1:     NewInMemoryStore(),
		l2:     l2,
		logger: logger,
	}
}

// Get retrieves an entry (L1 -> L2)
func (c *TieredStore) Get(ctx context.Context, key string) (*shared.Entry, error) {
	if e, err := c.l1.Get(ctx, key); err == nil {
		c.l1Hits.Add(1)
		return e, nil
	}
	c.l1Misses.Add(1)

	e, err := c.l2.Get(ctx, key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			c.l2Misses.Add(1)
		}
		return nil, err
	}
	c.l2Hits.Add(1)

	if err := c.l1.Set(ctx, key, e.Value, e.StoredAt); err != nil {
		c.logger.Warn("failed to populate L1 cache", zap.String("key", key), zap.Error(err))
	}
	return e, nil
}

// Set writes to L2, then L1
func (c *TieredStore) Set(ctx context.Context, key string, value []byte, storedAt time.Time) error {
	if err := c.l2.Set(ctx, key, value, storedAt); err != nil {
		_ = c.l1.Delete(ctx, key)
		return err
	}
	return c.l1.Set(ctx, key, value, storedAt)
}

// Delete removes key from both tiers
func (c *TieredStore) Delete(ctx context.Context, key string) error {
	if err := c.l2.Delete(ctx, key); err != nil {
		return err
	}
	return c.l1.Delete(ctx, key)
}

// Keys lists keys from the authoritative tier
func (c *TieredStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	return c.l2.Keys(ctx, prefix)
}

// Close closes the persistent tier
func (c *TieredStore) Close() error {
	return c.l2.Close()
}

// Stats returns hit/miss counters
func (c *TieredStore) Stats() TieredStats {
	return TieredStats{
		L1Hits:   c.l1Hits.Load(),
		L1Misses: c.l1Misses.Load(),
		L2Hits:   c.l2Hits.Load(),
		L2Misses: c.l2Misses.Load(),
	}
}

var _ shared.KeyValueStore = (*TieredStore)(nil)
