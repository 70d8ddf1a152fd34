package event

import (
	"context"
	"testing"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

type mockHandler struct {
	eventTypes []string
	handled    []shared.DomainEvent
}

func newMockHandler(eventTypes ...string) *mockHandler {
	return &mockHandler{eventTypes: eventTypes}
}

func (h *mockHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	h.handled = append(h.handled, event)
	return nil
}

func (h *mockHandler) EventTypes() []string {
	return h.eventTypes
}

func TestHandlerRegistry_Handlers(t *testing.T) {
	tests := []struct {
		name      string
		subscribe func(r *HandlerRegistry, typed, catchAll shared.EventHandler)
		eventType string
		want      func(typed, catchAll shared.EventHandler) []shared.EventHandler
	}{
		{
			name: "typed subscription matches its types only",
			subscribe: func(r *HandlerRegistry, typed, _ shared.EventHandler) {
				r.Add(typed, "transaction.finished", "transaction.finish_skipped")
			},
			eventType: "entitlement_mapping.refreshed",
			want:      func(shared.EventHandler, shared.EventHandler) []shared.EventHandler { return nil },
		},
		{
			name: "catch-all sees everything",
			subscribe: func(r *HandlerRegistry, _, catchAll shared.EventHandler) {
				r.Add(catchAll)
			},
			eventType: "anything",
			want: func(_, catchAll shared.EventHandler) []shared.EventHandler {
				return []shared.EventHandler{catchAll}
			},
		},
		{
			name: "typed before catch-all regardless of order",
			subscribe: func(r *HandlerRegistry, typed, catchAll shared.EventHandler) {
				r.Add(catchAll)
				r.Add(typed, "transaction.finished")
			},
			eventType: "transaction.finished",
			want: func(typed, catchAll shared.EventHandler) []shared.EventHandler {
				return []shared.EventHandler{typed, catchAll}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewHandlerRegistry()
			typed, catchAll := newMockHandler(), newMockHandler()
			tt.subscribe(r, typed, catchAll)

			got := r.Handlers(tt.eventType)
			want := tt.want(typed, catchAll)
			if !assert.Len(t, got, len(want)) {
				return
			}
			for i := range want {
				assert.Same(t, want[i], got[i])
			}
		})
	}
}

func TestHandlerRegistry_Remove(t *testing.T) {
	r := NewHandlerRegistry()
	h1 := newMockHandler()
	h2 := newMockHandler()
	r.Add(h1, "a", "b")
	r.Add(h2, "a")
	r.Add(h1)

	r.Remove(h1)

	handlers := r.Handlers("a")
	if assert.Len(t, handlers, 1) {
		assert.Same(t, h2, handlers[0])
	}
	assert.Empty(t, r.Handlers("b"))
	assert.Equal(t, 1, r.Len())
}

func TestHandlerRegistry_AllDedupes(t *testing.T) {
	r := NewHandlerRegistry()
	h := newMockHandler()
	r.Add(h, "a", "b")
	r.Add(h)

	assert.Len(t, r.All(), 1)
	assert.Equal(t, 2, r.Len())
}
