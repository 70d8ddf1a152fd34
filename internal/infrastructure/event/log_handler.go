package event

import (
	"context"

	"github.com/entitlesync/engine/internal/domain/shared"
	"go.uber.org/zap"
)

// LogHandler writes every event as one structured log line
type LogHandler struct {
	logger *zap.Logger
}

// NewLogHandler creates a LogHandler
func NewLogHandler(logger *zap.Logger) *LogHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogHandler{logger: logger.Named("events")}
}

// Handle implements shared.EventHandler
func (h *LogHandler) Handle(_ context.Context, event shared.DomainEvent) error {
	h.logger.Info("engine event",
		zap.String("event_type", event.EventType()),
		zap.String("event_id", event.EventID().String()),
		zap.String("app_user_id", event.AppUserID()),
		zap.Time("occurred_at", event.OccurredAt()),
		zap.Any("event", event),
	)
	return nil
}

// EventTypes implements shared.EventHandler
func (h *LogHandler) EventTypes() []string {
	return nil
}
