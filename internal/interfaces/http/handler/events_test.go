package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/entitlesync/engine/internal/domain/entitlement"
	"github.com/entitlesync/engine/internal/infrastructure/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededRecorder(t *testing.T) *event.Recorder {
	t.Helper()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := event.NewRecorder(16)
	require.NoError(t, rec.Publish(context.Background(),
		entitlement.NewMappingRefreshFailedEvent(errors.New("timeout"), at),
		entitlement.NewMappingRefreshedEvent(entitlement.Mapping{}, at.Add(time.Minute)),
		entitlement.NewMappingRefreshFailedEvent(errors.New("502"), at.Add(2*time.Minute)),
	))
	return rec
}

func TestEventsHandler_List(t *testing.T) {
	engine := newTestEngine(NewEventsHandler(seededRecorder(t)))

	w, resp := doJSON(t, engine, http.MethodGet, "/v1/events", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	events := resp.Data.([]any)
	require.Len(t, events, 3)
	assert.Equal(t, entitlement.EventTypeMappingRefreshFailed, events[0].(map[string]any)["type"])
	assert.Equal(t, "502", events[2].(map[string]any)["reason"])
}

func TestEventsHandler_FilterAndLimit(t *testing.T) {
	engine := newTestEngine(NewEventsHandler(seededRecorder(t)))

	_, resp := doJSON(t, engine, http.MethodGet, "/v1/events?type="+entitlement.EventTypeMappingRefreshFailed+"&limit=1", nil)
	events := resp.Data.([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "502", events[0].(map[string]any)["reason"])

	_, resp = doJSON(t, engine, http.MethodGet, "/v1/events?type=unknown", nil)
	assert.Empty(t, resp.Data)
}

func TestEventsHandler_BadLimit(t *testing.T) {
	engine := newTestEngine(NewEventsHandler(event.NewRecorder(4)))

	w, resp := doJSON(t, engine, http.MethodGet, "/v1/events?limit=-2", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.False(t, resp.Success)
}
