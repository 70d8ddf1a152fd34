package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is a notification the engine publishes after a state change
// a caller may want to observe: a finished transaction, a refreshed mapping,
// an offline computation. Events carry the user they concern when there is one.
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AppUserID() string
}

// BaseDomainEvent is embedded by concrete events. Its JSON form is the
// envelope served by the events feed.
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"app_user_id,omitempty"`
}

// NewBaseDomainEvent stamps a fresh event id
func NewBaseDomainEvent(eventType, appUserID string, occurredAt time.Time) BaseDomainEvent {
	return BaseDomainEvent{ID: uuid.New(), Type: eventType, Timestamp: occurredAt, UserID: appUserID}
}

func (e BaseDomainEvent) EventID() uuid.UUID    { return e.ID }
func (e BaseDomainEvent) EventType() string     { return e.Type }
func (e BaseDomainEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseDomainEvent) AppUserID() string     { return e.UserID }

var _ DomainEvent = BaseDomainEvent{}
