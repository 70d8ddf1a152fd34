package shared

import (
	"context"
	"time"
)

// IdempotencyStore is a set of keys with per-key expiry. The engine records
// store transaction ids in it once they were finished so a replayed receipt
// never finishes the same transaction twice.
type IdempotencyStore interface {
	// MarkProcessed adds key for ttl. It reports false when key was already
	// present and unexpired.
	MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsProcessed(ctx context.Context, key string) (bool, error)
	Close() error
}
