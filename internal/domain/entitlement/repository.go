package entitlement

import (
	"context"
	"time"
)

// StoredMapping is a persisted Mapping with the time it was fetched
type StoredMapping struct {
	Mapping   Mapping
	FetchedAt time.Time
}

// Repository persists the last fetched Mapping
type Repository interface {
	// Load returns shared.ErrNotFound when no mapping was ever stored
	Load(ctx context.Context) (*StoredMapping, error)
	Save(ctx context.Context, mapping Mapping, fetchedAt time.Time) error
}
