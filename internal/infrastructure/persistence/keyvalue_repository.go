package persistence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyValueRepository implements shared.KeyValueStore on the device_cache_entries table
type KeyValueRepository struct {
	db *gorm.DB
}

// NewKeyValueRepository creates a new key-value repository
func NewKeyValueRepository(db *gorm.DB) *KeyValueRepository {
	return &KeyValueRepository{db: db}
}

// Get returns the entry for key
func (r *KeyValueRepository) Get(ctx context.Context, key string) (*shared.Entry, error) {
	var model models.DeviceCacheEntry
	if err := r.db.WithContext(ctx).Where("cache_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return &shared.Entry{Value: model.Value, StoredAt: model.StoredAt.UTC()}, nil
}

// Set upserts the value for key in a single statement
func (r *KeyValueRepository) Set(ctx context.Context, key string, value []byte, storedAt time.Time) error {
	if value == nil {
		value = []byte{}
	}
	model := models.DeviceCacheEntry{
		CacheKey:  key,
		Value:     value,
		StoredAt:  storedAt.UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "stored_at", "updated_at"}),
	}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// Delete removes key
func (r *KeyValueRepository) Delete(ctx context.Context, key string) error {
	err := r.db.WithContext(ctx).Where("cache_key = ?", key).Delete(&models.DeviceCacheEntry{}).Error
	if err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}

// Keys lists keys with the given prefix in ascending order
func (r *KeyValueRepository) Keys(ctx context.Context, prefix string) ([]string, error) {
	var candidates []string
	err := r.db.WithContext(ctx).
		Model(&models.DeviceCacheEntry{}).
		Where(`cache_key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Pluck("cache_key", &candidates).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list keys with prefix %q: %w", prefix, err)
	}

	// LIKE is case-insensitive on sqlite and ORDER BY follows the column
	// collation on postgres, so filter and sort bytewise here.
	keys := make([]string, 0, len(candidates))
	for _, k := range candidates {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the Database owns the connection
func (r *KeyValueRepository) Close() error {
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ shared.KeyValueStore = (*KeyValueRepository)(nil)
