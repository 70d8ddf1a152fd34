package attribute

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
)

const (
	EventTypeSynced     = "subscriber_attributes.synced"
	EventTypeSyncFailed = "subscriber_attributes.sync_failed"
)

// SyncedEvent is published after a batch of attributes was acknowledged
type SyncedEvent struct {
	shared.BaseDomainEvent
	Keys   []string `json:"keys"`
	Errors []Error  `json:"errors,omitempty"`
}

// NewSyncedEvent creates a SyncedEvent
func NewSyncedEvent(appUserID string, keys []string, errs []Error, at time.Time) *SyncedEvent {
	return &SyncedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSynced, appUserID, at),
		Keys:            keys,
		Errors:          errs,
	}
}

// SyncFailedEvent is published when an upload failed and will be retried
type SyncFailedEvent struct {
	shared.BaseDomainEvent
	Reason string `json:"reason"`
}

// NewSyncFailedEvent creates a SyncFailedEvent
func NewSyncFailedEvent(appUserID string, err error, at time.Time) *SyncFailedEvent {
	return &SyncFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeSyncFailed, appUserID, at),
		Reason:          err.Error(),
	}
}
