package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type testEvent struct {
	shared.BaseDomainEvent
	Detail string `json:"detail"`
}

func newTestEvent(eventType, appUserID string) *testEvent {
	return &testEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(eventType, appUserID, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)),
		Detail:          "detail",
	}
}

type failingHandler struct {
	calls int
}

func (h *failingHandler) Handle(context.Context, shared.DomainEvent) error {
	h.calls++
	return errors.New("boom")
}

func (h *failingHandler) EventTypes() []string { return nil }

type panickingHandler struct{}

func (panickingHandler) Handle(context.Context, shared.DomainEvent) error { panic("kaboom") }
func (panickingHandler) EventTypes() []string                             { return nil }

func TestInMemoryEventBus_Publish(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus(zap.NewNop())
	require.NoError(t, bus.Start(ctx))

	h := newMockHandler("transaction.finished")
	bus.Subscribe(h)

	err := bus.Publish(ctx,
		newTestEvent("transaction.finished", "user-1"),
		newTestEvent("transaction.finish_skipped", "user-1"),
	)
	require.NoError(t, err)

	require.Len(t, h.handled, 1)
	assert.Equal(t, "transaction.finished", h.handled[0].EventType())
	assert.Equal(t, "user-1", h.handled[0].AppUserID())
	assert.Equal(t, int64(2), bus.Published())
	require.NoError(t, bus.Stop(ctx))
}

func TestInMemoryEventBus_SubscribeExplicitTypes(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus(nil)
	h := newMockHandler("ignored")
	bus.Subscribe(h, "a")

	require.NoError(t, bus.Publish(ctx, newTestEvent("a", "u"), newTestEvent("ignored", "u")))
	assert.Len(t, h.handled, 1)
}

func TestInMemoryEventBus_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus(nil)
	h := newMockHandler("a")
	bus.Subscribe(h)
	bus.Unsubscribe(h)

	require.NoError(t, bus.Publish(ctx, newTestEvent("a", "u")))
	assert.Empty(t, h.handled)
}

func TestInMemoryEventBus_HandlerFailuresDoNotPropagate(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.ErrorLevel)
	bus := NewInMemoryEventBus(zap.New(core))

	failing := &failingHandler{}
	after := newMockHandler()
	bus.Subscribe(failing)
	bus.Subscribe(panickingHandler{})
	bus.Subscribe(after)

	err := bus.Publish(ctx, newTestEvent("a", "u"))
	require.NoError(t, err)

	assert.Equal(t, 1, failing.calls)
	assert.Len(t, after.handled, 1)
	failures := logs.FilterMessage("event handler failed").All()
	require.Len(t, failures, 2)
	assert.Equal(t, "boom", failures[0].ContextMap()["error"])
	assert.Contains(t, failures[1].ContextMap()["error"], "handler panicked: kaboom")
}

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(2)

	require.NoError(t, r.Publish(ctx, newTestEvent("a", "u"), newTestEvent("b", "u"), newTestEvent("a", "v")))

	assert.Equal(t, []string{"b", "a"}, r.Types())
	assert.Len(t, r.OfType("a"), 1)
	assert.Equal(t, "v", r.OfType("a")[0].AppUserID())

	r.Reset()
	assert.Empty(t, r.Events())
}

func TestRecorder_AsBusSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := NewInMemoryEventBus(nil)
	r := NewRecorder(0)
	bus.Subscribe(r)

	require.NoError(t, bus.Publish(ctx, newTestEvent("x", "u"), newTestEvent("y", "u")))
	assert.Equal(t, []string{"x", "y"}, r.Types())
}

func TestLogHandler(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := NewLogHandler(zap.New(core))

	require.NoError(t, h.Handle(context.Background(), newTestEvent("transaction.finished", "user-9")))

	entries := logs.FilterMessage("engine event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "transaction.finished", fields["event_type"])
	assert.Equal(t, "user-9", fields["app_user_id"])
}
