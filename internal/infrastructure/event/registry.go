package event

import (
	"slices"
	"sync"

	"github.com/entitlesync/engine/internal/domain/shared"
)

// subscription binds a handler to the event types it asked for. A nil type
// set matches every event.
type subscription struct {
	handler shared.EventHandler
	types   map[string]struct{}
}

func (s subscription) matches(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// HandlerRegistry tracks bus subscriptions. Dispatch order is typed
// subscriptions first, then catch-all ones, each in subscription order.
type HandlerRegistry struct {
	mu   sync.RWMutex
	subs []subscription
}

// NewHandlerRegistry creates an empty registry
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{}
}

// Add subscribes handler to eventTypes, or to every event when none are given.
// Adding the same handler again extends its type set.
func (r *HandlerRegistry) Add(handler shared.EventHandler, eventTypes ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var types map[string]struct{}
	if len(eventTypes) > 0 {
		types = make(map[string]struct{}, len(eventTypes))
		for _, t := range eventTypes {
			types[t] = struct{}{}
		}
	}
	r.subs = append(r.subs, subscription{handler: handler, types: types})
}

// Remove drops every subscription of handler
func (r *HandlerRegistry) Remove(handler shared.EventHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = slices.DeleteFunc(r.subs, func(s subscription) bool { return s.handler == handler })
}

// Handlers returns the handlers an event of eventType is dispatched to.
// A handler subscribed both ways appears once per matching subscription.
func (r *HandlerRegistry) Handlers(eventType string) []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var typed, catchAll []shared.EventHandler
	for _, s := range r.subs {
		switch {
		case s.types == nil:
			catchAll = append(catchAll, s.handler)
		case s.matches(eventType):
			typed = append(typed, s.handler)
		}
	}
	return append(typed, catchAll...)
}

// All returns each subscribed handler once
func (r *HandlerRegistry) All() []shared.EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]shared.EventHandler, 0, len(r.subs))
	for _, s := range r.subs {
		if !slices.Contains(out, s.handler) {
			out = append(out, s.handler)
		}
	}
	return out
}

// Len returns the number of live subscriptions
func (r *HandlerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}
