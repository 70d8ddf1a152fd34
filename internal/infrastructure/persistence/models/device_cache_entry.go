// Package models holds the gorm models backing the SQL device cache.
package models

import "time"

// DeviceCacheEntry is one key of the device cache
type DeviceCacheEntry struct {
	CacheKey  string    `gorm:"column:cache_key;type:varchar(512);primaryKey"`
	Value     []byte    `gorm:"column:value;not null"`
	StoredAt  time.Time `gorm:"column:stored_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the table name for gorm
func (DeviceCacheEntry) TableName() string {
	return "device_cache_entries"
}
