package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// PurchaseOutcome labels how a purchase call resolved
type PurchaseOutcome string

const (
	PurchaseOutcomeSucceeded PurchaseOutcome = "succeeded"
	PurchaseOutcomeCancelled PurchaseOutcome = "cancelled"
	PurchaseOutcomePending   PurchaseOutcome = "pending"
	PurchaseOutcomeFailed    PurchaseOutcome = "failed"
	PurchaseOutcomeRejected  PurchaseOutcome = "rejected"
)

// PostOutcome labels how a receipt post resolved
type PostOutcome string

const (
	PostOutcomeSuccess         PostOutcome = "success"
	PostOutcomeComputedOffline PostOutcome = "computed_offline"
	PostOutcomeFinishable      PostOutcome = "finishable_error"
	PostOutcomeRetryable       PostOutcome = "retryable_error"
)

// Attribute keys for purchase metrics
var (
	AttrPurchaseOutcome = attribute.Key("purchase.outcome")
	AttrPostOutcome     = attribute.Key("receipt_post.outcome")
)

// PendingTransactionsProvider reports how many posted-but-unfinished transactions are stored
type PendingTransactionsProvider interface {
	PendingCount(ctx context.Context) (int64, error)
}

// PurchaseMetrics tracks purchases, receipt posts and offline fallbacks.
type PurchaseMetrics struct {
	meter  metric.Meter
	logger *zap.Logger

	purchasesTotal        *Counter
	offlineFallbacksTotal *Counter
	receiptPostDuration   *Histogram
	pendingTransactions   *Gauge

	pendingProvider PendingTransactionsProvider

	stopChan    chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
}

// PurchaseMetricsConfig holds configuration for purchase metrics.
type PurchaseMetricsConfig struct {
	Meter           metric.Meter
	Logger          *zap.Logger
	PendingProvider PendingTransactionsProvider
}

// ReceiptPostBuckets are bucket boundaries for receipt post latency (milliseconds).
var ReceiptPostBuckets = []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

// NewPurchaseMetrics creates a new PurchaseMetrics instance.
func NewPurchaseMetrics(cfg PurchaseMetricsConfig) (*PurchaseMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	pm := &PurchaseMetrics{
		meter:           cfg.Meter,
		logger:          logger,
		pendingProvider: cfg.PendingProvider,
		stopChan:        make(chan struct{}),
	}

	in := NewInstruments(cfg.Meter)
	pm.purchasesTotal = in.Counter(Instrument{
		Name:        "purchases_total",
		Description: "Total number of purchase calls by outcome",
		Unit:        "{purchases}",
	})
	pm.offlineFallbacksTotal = in.Counter(Instrument{
		Name:        "offline_fallbacks_total",
		Description: "Number of backend outages masked by offline entitlements",
		Unit:        "{fallbacks}",
	})
	pm.receiptPostDuration = in.Histogram(Instrument{
		Name:        "receipt_post_duration_ms",
		Description: "Latency of receipt posts to the entitlement backend",
		Unit:        "ms",
		Buckets:     ReceiptPostBuckets,
	})
	pm.pendingTransactions = in.Gauge(Instrument{
		Name:        "pending_transactions",
		Description: "Posted transactions that are not finished yet",
		Unit:        "{transactions}",
	})
	if err := in.Err(); err != nil {
		return nil, err
	}

	return pm, nil
}

// RecordPurchase counts a settled purchase call.
func (pm *PurchaseMetrics) RecordPurchase(ctx context.Context, productID string, outcome PurchaseOutcome) {
	pm.purchasesTotal.Inc(ctx,
		AttrProductID.String(productID),
		AttrPurchaseOutcome.String(string(outcome)),
	)
}

// RecordOfflineFallback counts a CustomerInfo computed offline.
func (pm *PurchaseMetrics) RecordOfflineFallback(ctx context.Context) {
	pm.offlineFallbacksTotal.Inc(ctx)
}

// RecordReceiptPost records the latency of one receipt post.
func (pm *PurchaseMetrics) RecordReceiptPost(ctx context.Context, d time.Duration, outcome PostOutcome) {
	pm.receiptPostDuration.Record(ctx, float64(d.Microseconds())/1000,
		AttrPostOutcome.String(string(outcome)),
	)
}

// StartPeriodicCollection samples the pending transaction gauge every interval
// until Stop is called or ctx ends. It is non-blocking.
func (pm *PurchaseMetrics) StartPeriodicCollection(ctx context.Context, interval time.Duration) {
	pm.collectOnce.Do(func() {
		if interval <= 0 {
			interval = time.Minute
		}
		go pm.runPeriodicCollection(ctx, interval)
	})
}

func (pm *PurchaseMetrics) runPeriodicCollection(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.collectPending(ctx)
	for {
		select {
		case <-pm.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.collectPending(ctx)
		}
	}
}

func (pm *PurchaseMetrics) collectPending(ctx context.Context) {
	if pm.pendingProvider == nil {
		return
	}
	n, err := pm.pendingProvider.PendingCount(ctx)
	if err != nil {
		pm.logger.Warn("Failed to count pending transactions", zap.Error(err))
		return
	}
	pm.pendingTransactions.Record(ctx, n)
}

// Stop stops the periodic collection.
func (pm *PurchaseMetrics) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.stopChan)
	})
}

// ErrMeterNil is returned when meter is nil.
var ErrMeterNil = &MetricsError{Op: "NewPurchaseMetrics", Err: "meter cannot be nil"}

// MetricsError represents a metrics-related error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}
