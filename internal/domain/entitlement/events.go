package entitlement

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
)

const (
	EventTypeMappingRefreshed     = "entitlement_mapping.refreshed"
	EventTypeMappingRefreshFailed = "entitlement_mapping.refresh_failed"
)

// MappingRefreshedEvent is published after a mapping fetch was stored
type MappingRefreshedEvent struct {
	shared.BaseDomainEvent
	Products int `json:"products"`
}

// NewMappingRefreshedEvent creates a MappingRefreshedEvent
func NewMappingRefreshedEvent(m Mapping, at time.Time) *MappingRefreshedEvent {
	return &MappingRefreshedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMappingRefreshed, "", at),
		Products:        m.Len(),
	}
}

// MappingRefreshFailedEvent is published when a mapping fetch failed
type MappingRefreshFailedEvent struct {
	shared.BaseDomainEvent
	Reason string `json:"reason"`
}

// NewMappingRefreshFailedEvent creates a MappingRefreshFailedEvent
func NewMappingRefreshFailedEvent(err error, at time.Time) *MappingRefreshFailedEvent {
	return &MappingRefreshFailedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeMappingRefreshFailed, "", at),
		Reason:          err.Error(),
	}
}
