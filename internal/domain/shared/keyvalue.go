package shared

import (
	"context"
	"time"
)

// Entry is a value held by a KeyValueStore together with the time it was written
type Entry struct {
	Value    []byte
	StoredAt time.Time
}

// KeyValueStore is the device cache port. Every Set replaces the whole value
// for a key atomically; readers never observe a partially written entry.
type KeyValueStore interface {
	// Get returns ErrNotFound when the key is absent
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, value []byte, storedAt time.Time) error
	Delete(ctx context.Context, key string) error
	// Keys lists keys starting with prefix, sorted ascending
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}
