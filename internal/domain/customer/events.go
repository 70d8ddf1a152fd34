package customer

import (
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
)

// EventTypeOfflineComputed is published when a backend outage was masked by offline entitlements
const EventTypeOfflineComputed = "customer_info.offline_computed"

// OfflineComputedEvent carries the entitlements granted while the backend was unreachable
type OfflineComputedEvent struct {
	shared.BaseDomainEvent
	ActiveEntitlements []string `json:"active_entitlements"`
	Cause              string   `json:"cause"`
}

// NewOfflineComputedEvent creates an OfflineComputedEvent for info
func NewOfflineComputedEvent(info CustomerInfo, cause error, at time.Time) *OfflineComputedEvent {
	e := &OfflineComputedEvent{
		BaseDomainEvent:    shared.NewBaseDomainEvent(EventTypeOfflineComputed, info.AppUserID, at),
		ActiveEntitlements: info.Entitlements.ActiveIdentifiers(),
	}
	if cause != nil {
		e.Cause = cause.Error()
	}
	return e
}
