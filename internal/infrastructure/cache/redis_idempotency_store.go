package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// RedisIdempotencyStore shares finished transaction ids between engines that
// use the same Redis device cache. Each id is a key holding the time it was
// marked, expiring with its TTL.
type RedisIdempotencyStore struct {
	rdb    redis.Cmdable
	prefix string
	now    func() time.Time
}

// NewRedisIdempotencyStore uses rdb without owning it; Close leaves it open
func NewRedisIdempotencyStore(rdb redis.Cmdable, keyPrefix string) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{
		rdb:    rdb,
		prefix: keyPrefix + "finished:",
		now:    time.Now,
	}
}

// MarkProcessed implements shared.IdempotencyStore with SET NX
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	err := s.rdb.SetArgs(ctx, s.prefix+key, s.now().UTC().Format(time.RFC3339), redis.SetArgs{
		Mode: "NX",
		TTL:  ttl,
	}).Err()
	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("mark %s finished: %w", key, err)
	}
	return true, nil
}

// IsProcessed implements shared.IdempotencyStore
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check %s finished: %w", key, err)
	}
	return n == 1, nil
}

// Close implements shared.IdempotencyStore
func (s *RedisIdempotencyStore) Close() error {
	return nil
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
