package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedIdempotencyStore() (*InMemoryIdempotencyStore, func(time.Duration)) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewInMemoryIdempotencyStore()
	store.now = func() time.Time { return now }
	return store, func(d time.Duration) { now = now.Add(d) }
}

func TestInMemoryIdempotencyStore_MarkProcessed(t *testing.T) {
	ctx := context.Background()
	store, advance := newClockedIdempotencyStore()

	first, err := store.MarkProcessed(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	second, err := store.MarkProcessed(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, first)
	assert.False(t, second)

	advance(time.Minute)
	again, err := store.MarkProcessed(ctx, "txn-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, again, "an expired id can be marked again")
}

func TestInMemoryIdempotencyStore_IsProcessed(t *testing.T) {
	ctx := context.Background()
	store, advance := newClockedIdempotencyStore()

	processed, err := store.IsProcessed(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, processed)

	_, _ = store.MarkProcessed(ctx, "txn-1", time.Minute)
	processed, _ = store.IsProcessed(ctx, "txn-1")
	assert.True(t, processed)

	advance(time.Hour)
	processed, _ = store.IsProcessed(ctx, "txn-1")
	assert.False(t, processed)
}

func TestInMemoryIdempotencyStore_Sweep(t *testing.T) {
	ctx := context.Background()
	store, advance := newClockedIdempotencyStore()

	_, _ = store.MarkProcessed(ctx, "short-1", time.Minute)
	_, _ = store.MarkProcessed(ctx, "short-2", time.Minute)
	_, _ = store.MarkProcessed(ctx, "long", time.Hour)

	advance(2 * time.Minute)
	assert.Equal(t, 2, store.Sweep())
	assert.Equal(t, 1, store.Size())
}

func TestInMemoryIdempotencyStore_SweepsOnWrite(t *testing.T) {
	ctx := context.Background()
	store, advance := newClockedIdempotencyStore()

	_, _ = store.MarkProcessed(ctx, "old", time.Second)
	advance(time.Minute)
	for i := 1; i < sweepEvery; i++ {
		_, _ = store.MarkProcessed(ctx, fmt.Sprintf("txn-%d", i), time.Hour)
	}

	assert.Equal(t, sweepEvery-1, store.Size())
}

func TestInMemoryIdempotencyStore_Close(t *testing.T) {
	store, _ := newClockedIdempotencyStore()
	_, _ = store.MarkProcessed(context.Background(), "txn-1", time.Hour)

	require.NoError(t, store.Close())
	require.NoError(t, store.Close())
	assert.Zero(t, store.Size())
}
