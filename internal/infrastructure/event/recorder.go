package event

import (
	"context"
	"sync"

	"github.com/entitlesync/engine/internal/domain/shared"
)

// Recorder keeps the most recent events in a bounded ring, newest last.
// It backs the sidecar's event feed and doubles as a publisher in tests.
type Recorder struct {
	mu       sync.Mutex
	capacity int
	events   []shared.DomainEvent
}

// NewRecorder creates a Recorder holding at most capacity events
func NewRecorder(capacity int) *Recorder {
	if capacity <= 0 {
		capacity = 256
	}
	return &Recorder{capacity: capacity}
}

// Handle implements shared.EventHandler
func (r *Recorder) Handle(_ context.Context, event shared.DomainEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	if over := len(r.events) - r.capacity; over > 0 {
		r.events = append([]shared.DomainEvent(nil), r.events[over:]...)
	}
	return nil
}

// EventTypes implements shared.EventHandler; the recorder sees everything
func (r *Recorder) EventTypes() []string {
	return nil
}

// Publish implements shared.EventPublisher
func (r *Recorder) Publish(ctx context.Context, events ...shared.DomainEvent) error {
	for _, e := range events {
		_ = r.Handle(ctx, e)
	}
	return nil
}

// Events returns a snapshot of recorded events
func (r *Recorder) Events() []shared.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]shared.DomainEvent(nil), r.events...)
}

// OfType returns recorded events with the given type
func (r *Recorder) OfType(eventType string) []shared.DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []shared.DomainEvent
	for _, e := range r.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// Types returns the type of every recorded event in order
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]string, len(r.events))
	for i, e := range r.events {
		types[i] = e.EventType()
	}
	return types
}

// Reset drops all recorded events
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var (
	_ shared.EventHandler   = (*Recorder)(nil)
	_ shared.EventPublisher = (*Recorder)(nil)
)
