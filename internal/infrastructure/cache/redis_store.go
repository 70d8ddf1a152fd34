package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

const (
	fieldValue    = "value"
	fieldStoredAt = "stored_at"
	kvNamespace   = "kv:"
	scanBatchSize = 100
)

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisClient connects to Redis and verifies the connection with a ping
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// RedisStore implements shared.KeyValueStore on Redis hashes. Each key maps to
// one hash holding the value and its write time, written in a single HSET.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a store on an existing client. The client is closed by Close.
func NewRedisStore(client *redis.Client, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + kvNamespace,
	}
}

// Get returns the entry for key
func (s *RedisStore) Get(ctx context.Context, key string) (*shared.Entry, error) {
	fields, err := s.client.HGetAll(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	value, ok := fields[fieldValue]
	if !ok {
		return nil, shared.ErrNotFound
	}

	storedAt, err := time.Parse(time.RFC3339Nano, fields[fieldStoredAt])
	if err != nil {
		return nil, fmt.Errorf("invalid stored_at for key %q: %w", key, err)
	}
	return &shared.Entry{Value: []byte(value), StoredAt: storedAt}, nil
}

// Set replaces the value for key
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, storedAt time.Time) error {
	err := s.client.HSet(ctx, s.keyPrefix+key,
		fieldValue, value,
		fieldStoredAt, storedAt.UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix in ascending order using SCAN
func (s *RedisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := escapeGlob(s.keyPrefix+prefix) + "*"
	keys := make([]string, 0)

	iter := s.client.Scan(ctx, 0, pattern, scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), s.keyPrefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan keys with prefix %q: %w", prefix, err)
	}

	sort.Strings(keys)
	return dedupeSorted(keys), nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	if err := s.client.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}

// Client returns the underlying Redis client (for sharing with other stores)
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// escapeGlob escapes the characters Redis MATCH patterns treat specially
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SCAN may return a key more than once
func dedupeSorted(keys []string) []string {
	if len(keys) < 2 {
		return keys
	}
	out := keys[:1]
	for _, k := range keys[1:] {
		if k != out[len(out)-1] {
			out = append(out, k)
		}
	}
	return out
}

var _ shared.KeyValueStore = (*RedisStore)(nil)
