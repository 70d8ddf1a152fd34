// Package customerinfo decides which CustomerInfo a backend call resolves to
// and keeps the last authoritative value cached per app user.
package customerinfo

import (
	"context"

	"github.com/entitlesync/engine/internal/application/offline"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// ResponseHandler arbitrates between a backend response and an offline computation
type ResponseHandler struct {
	offline   *offline.Manager
	publisher shared.EventPublisher
	clock     shared.Clock
	logger    *zap.Logger
	metrics   *telemetry.PurchaseMetrics
}

// NewResponseHandler creates a new ResponseHandler. offlineManager may be nil,
// in which case outages are always propagated.
func NewResponseHandler(
	offlineManager *offline.Manager,
	publisher shared.EventPublisher,
	clock shared.Clock,
	logger *zap.Logger,
) *ResponseHandler {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResponseHandler{
		offline:   offlineManager,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("customer_info_handler"),
	}
}

// SetMetrics sets the purchase metrics collector
func (h *ResponseHandler) SetMetrics(m *telemetry.PurchaseMetrics) {
	h.metrics = m
}

// Handle resolves the outcome of a backend call that returns CustomerInfo.
//
// A successful response is returned as decoded, keeping its verification
// result. Semantic failures are returned unchanged. An outage-class failure
// is replaced by an offline computation when one is possible for the user;
// otherwise, or when the computation fails, the original failure is returned.
func (h *ResponseHandler) Handle(
	ctx context.Context,
	appUserID string,
	resp purchase.CustomerInfoResponse,
	backendErr error,
) (customer.CustomerInfo, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "customer_info", "handle_response",
		telemetry.WithAttribute("app_user_id", appUserID))
	defer span.End()

	if backendErr == nil {
		if len(resp.AttributeErrors) > 0 {
			h.logger.Warn("backend rejected subscriber attributes",
				zap.String("app_user_id", appUserID),
				zap.Any("attribute_errors", resp.AttributeErrors))
		}
		info := resp.Info
		if info.Origin == "" {
			info = info.WithOrigin(customer.OriginNetwork)
		}
		telemetry.SetOK(span)
		return info, nil
	}

	telemetry.RecordError(span, backendErr)

	if !purchase.IsOutage(backendErr) || h.offline == nil {
		return customer.CustomerInfo{}, backendErr
	}

	creator, ok := h.offline.CreatorIfAvailable()
	if !ok || !h.offline.ShouldComputeOffline(ctx, appUserID) {
		return customer.CustomerInfo{}, backendErr
	}

	info, err := creator.Create(ctx, appUserID)
	if err != nil {
		h.logger.Warn("offline customer info computation failed",
			zap.String("app_user_id", appUserID),
			zap.NamedError("backend_error", backendErr),
			zap.Error(err))
		return customer.CustomerInfo{}, backendErr
	}

	h.logger.Info("backend unreachable, serving offline entitlements",
		zap.String("app_user_id", appUserID),
		zap.Strings("active_entitlements", info.Entitlements.ActiveIdentifiers()),
		zap.NamedError("backend_error", backendErr))
	telemetry.AddEvent(span, "offline_entitlements_computed")
	if h.metrics != nil {
		h.metrics.RecordOfflineFallback(ctx)
	}
	h.publish(ctx, customer.NewOfflineComputedEvent(info, backendErr, h.clock.Now()))
	return info, nil
}

func (h *ResponseHandler) publish(ctx context.Context, e shared.DomainEvent) {
	if err := h.publisher.Publish(ctx, e); err != nil {
		h.logger.Warn("failed to publish event", zap.String("event_type", e.EventType()), zap.Error(err))
	}
}
