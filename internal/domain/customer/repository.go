package customer

import (
	"context"
	"time"
)

// CachedInfo is a persisted CustomerInfo with the time it was written
type CachedInfo struct {
	Info     CustomerInfo
	CachedAt time.Time
}

// Repository persists the last known CustomerInfo per app user
type Repository interface {
	// Load returns shared.ErrNotFound when nothing is cached for the user
	Load(ctx context.Context, appUserID string) (*CachedInfo, error)
	Save(ctx context.Context, info CustomerInfo, cachedAt time.Time) error
	Clear(ctx context.Context, appUserID string) error
}
