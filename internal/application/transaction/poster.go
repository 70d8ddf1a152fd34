// Package transaction posts completed store transactions to the backend and
// finishes them once the backend has accepted them.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Config holds poster configuration
type Config struct {
	// FinishTransactions is false when the app finishes transactions itself
	FinishTransactions bool
	// PostTimeout bounds one receipt post
	PostTimeout time.Duration
	// FinishedTTL is how long finished transaction ids are remembered
	FinishedTTL time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		FinishTransactions: true,
		PostTimeout:        60 * time.Second,
		FinishedTTL:        30 * 24 * time.Hour,
	}
}

// Poster turns completed store transactions into authoritative CustomerInfo
type Poster struct {
	backend   purchase.ReceiptPoster
	finisher  purchase.TransactionFinisher
	customers *customerinfo.Manager
	pending   purchase.PendingTransactionRepository
	finished  shared.IdempotencyStore
	publisher shared.EventPublisher
	clock     shared.Clock
	logger    *zap.Logger
	metrics   *telemetry.PurchaseMetrics
	config    Config

	group singleflight.Group
}

// NewPoster creates a new Poster
func NewPoster(
	backend purchase.ReceiptPoster,
	finisher purchase.TransactionFinisher,
	customers *customerinfo.Manager,
	pending purchase.PendingTransactionRepository,
	finished shared.IdempotencyStore,
	publisher shared.EventPublisher,
	clock shared.Clock,
	logger *zap.Logger,
	config Config,
) *Poster {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := DefaultConfig()
	if config.PostTimeout <= 0 {
		config.PostTimeout = d.PostTimeout
	}
	if config.FinishedTTL <= 0 {
		config.FinishedTTL = d.FinishedTTL
	}
	return &Poster{
		backend:   backend,
		finisher:  finisher,
		customers: customers,
		pending:   pending,
		finished:  finished,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("transaction_poster"),
		config:    config,
	}
}

// SetMetrics sets the purchase metrics collector
func (p *Poster) SetMetrics(m *telemetry.PurchaseMetrics) {
	p.metrics = m
}

// Post posts one transaction's receipt and resolves it to CustomerInfo.
//
// Posts for a transaction id already in flight share its result. Once issued,
// a post runs to completion even if ctx ends; the caller just stops waiting.
func (p *Poster) Post(ctx context.Context, post purchase.ReceiptPost) (customer.CustomerInfo, error) {
	txnID := post.Transaction.TransactionID
	if txnID == "" {
		return customer.CustomerInfo{}, purchase.NewError(purchase.ErrorCodePurchaseInvalid, "transaction id must not be empty")
	}

	ch := p.group.DoChan(txnID, func() (any, error) {
		postCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.config.PostTimeout)
		defer cancel()
		return p.post(postCtx, post)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return customer.CustomerInfo{}, res.Err
		}
		return res.Val.(customer.CustomerInfo), nil
	case <-ctx.Done():
		return customer.CustomerInfo{}, ctx.Err()
	}
}

func (p *Poster) post(ctx context.Context, post purchase.ReceiptPost) (customer.CustomerInfo, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "transaction_poster", "post",
		telemetry.WithAttribute("transaction_id", post.Transaction.TransactionID),
		telemetry.WithAttribute("product_id", post.ProductID))
	defer span.End()

	tx := post.Transaction
	log := p.logger.With(
		zap.String("app_user_id", post.AppUserID),
		zap.String("transaction_id", tx.TransactionID),
		zap.String("product_id", tx.ProductID),
	)

	p.rememberPending(ctx, post, log)

	started := time.Now()
	resp, backendErr := p.backend.PostReceipt(ctx, post)
	elapsed := time.Since(started)

	info, err := p.customers.Handler().Handle(ctx, post.AppUserID, resp, backendErr)
	switch {
	case err == nil && info.IsComputedOffline():
		p.cache(ctx, info, log)
		p.recordPost(ctx, elapsed, telemetry.PostOutcomeComputedOffline)
		log.Info("receipt post deferred, serving offline entitlements")
		p.publish(ctx, purchase.NewTransactionFinishSkippedEvent(post.AppUserID, tx, purchase.SkipReasonComputedOffline, p.clock.Now()))
		telemetry.SetOK(span)
		return info, nil

	case err == nil:
		p.cache(ctx, info, log)
		p.finish(ctx, post.AppUserID, tx, nil, log)
		p.forgetPending(ctx, tx.TransactionID, log)
		p.recordPost(ctx, elapsed, telemetry.PostOutcomeSuccess)
		telemetry.SetOK(span)
		return info, nil

	case purchase.IsFinishable(err):
		telemetry.RecordError(span, err)
		log.Debug("receipt rejected, finishing transaction", zap.Error(err))
		p.finish(ctx, post.AppUserID, tx, err, log)
		p.forgetPending(ctx, tx.TransactionID, log)
		p.recordPost(ctx, elapsed, telemetry.PostOutcomeFinishable)
		return customer.CustomerInfo{}, err

	default:
		telemetry.RecordError(span, err)
		log.Debug("receipt post failed, transaction kept for retry", zap.Error(err))
		p.recordPost(ctx, elapsed, telemetry.PostOutcomeRetryable)
		p.publish(ctx, purchase.NewTransactionFinishSkippedEvent(post.AppUserID, tx, purchase.SkipReasonRetryable, p.clock.Now()))
		return customer.CustomerInfo{}, err
	}
}

// finish calls the store finish operation at most once per transaction id
func (p *Poster) finish(ctx context.Context, appUserID string, tx purchase.StoreTransaction, cause error, log *zap.Logger) {
	if !p.config.FinishTransactions || p.finisher == nil {
		p.publish(ctx, purchase.NewTransactionFinishSkippedEvent(appUserID, tx, purchase.SkipReasonFinishingDisabled, p.clock.Now()))
		return
	}

	done, err := p.finished.IsProcessed(ctx, tx.TransactionID)
	if err != nil {
		log.Warn("failed to check finished transactions", zap.Error(err))
	}
	if done {
		p.publish(ctx, purchase.NewTransactionFinishSkippedEvent(appUserID, tx, purchase.SkipReasonAlreadyFinished, p.clock.Now()))
		return
	}

	if err := p.finisher.FinishTransaction(ctx, tx); err != nil {
		log.Error("store failed to finish transaction", zap.Error(err))
		return
	}
	if _, err := p.finished.MarkProcessed(ctx, tx.TransactionID, p.config.FinishedTTL); err != nil {
		log.Warn("failed to remember finished transaction", zap.Error(err))
	}

	log.Info("transaction finished")
	p.publish(ctx, purchase.NewTransactionFinishedEvent(appUserID, tx, cause, p.clock.Now()))
}

func (p *Poster) rememberPending(ctx context.Context, post purchase.ReceiptPost, log *zap.Logger) {
	record := purchase.PendingTransaction{Post: post, CreatedAt: p.clock.Now()}
	existing, err := p.pending.Get(ctx, post.Transaction.TransactionID)
	switch {
	case err == nil:
		record.CreatedAt = existing.CreatedAt
		record.Attempts = existing.Attempts
	case !errors.Is(err, shared.ErrNotFound):
		log.Warn("failed to read pending transaction", zap.Error(err))
	}
	record.Attempts++

	if err := p.pending.Save(ctx, record); err != nil {
		log.Warn("failed to store pending transaction", zap.Error(err))
	}
}

func (p *Poster) forgetPending(ctx context.Context, txnID string, log *zap.Logger) {
	if err := p.pending.Delete(ctx, txnID); err != nil {
		log.Warn("failed to delete pending transaction", zap.Error(err))
	}
}

func (p *Poster) cache(ctx context.Context, info customer.CustomerInfo, log *zap.Logger) {
	if err := p.customers.Cache(ctx, info); err != nil {
		log.Warn("failed to cache customer info", zap.Error(err))
	}
}

func (p *Poster) recordPost(ctx context.Context, d time.Duration, outcome telemetry.PostOutcome) {
	if p.metrics != nil {
		p.metrics.RecordReceiptPost(ctx, d, outcome)
	}
}

func (p *Poster) publish(ctx context.Context, e shared.DomainEvent) {
	if err := p.publisher.Publish(ctx, e); err != nil {
		p.logger.Warn("failed to publish event", zap.String("event_type", e.EventType()), zap.Error(err))
	}
}

// SyncReport summarises one pending transaction retry pass
type SyncReport struct {
	Outcome purchase.SyncOutcome `json:"outcome"`
	Retried int                  `json:"retried"`
	Failed  int                  `json:"failed"`
}

// SyncPending re-posts every stored pending transaction on behalf of
// appUserID and publishes the pass outcome. Failed retries stay stored.
func (p *Poster) SyncPending(ctx context.Context, appUserID string) (SyncReport, error) {
	records, err := p.pending.List(ctx)
	if err != nil {
		return SyncReport{}, fmt.Errorf("failed to list pending transactions: %w", err)
	}

	report := SyncReport{Outcome: purchase.SyncNothingToRetry}
	for _, record := range records {
		if ctx.Err() != nil {
			break
		}
		post := record.Post
		post.InitiationSource = purchase.InitiationQueue
		if appUserID != "" {
			post.AppUserID = appUserID
		}

		report.Retried++
		if _, err := p.Post(ctx, post); err != nil {
			report.Failed++
			p.logger.Warn("pending transaction retry failed",
				zap.String("transaction_id", record.TransactionID()),
				zap.Error(err))
		}
	}
	if report.Retried > 0 {
		report.Outcome = purchase.SyncRetried
	}

	p.logger.Debug("pending transaction pass completed",
		zap.String("outcome", string(report.Outcome)),
		zap.Int("retried", report.Retried),
		zap.Int("failed", report.Failed))
	p.publish(ctx, purchase.NewTransactionsSyncedEvent(appUserID, report.Outcome, report.Retried, report.Failed, p.clock.Now()))
	return report, ctx.Err()
}
