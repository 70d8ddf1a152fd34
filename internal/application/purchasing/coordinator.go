// Package purchasing coordinates purchases: one in-flight purchase per
// product, store routing, and handing completed transactions to the poster.
package purchasing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/application/transaction"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds coordinator configuration
type Config struct {
	ObserverMode bool
}

// Result is the settled outcome of a purchase call. CustomerInfo is the best
// value available locally when the purchase did not produce a new one.
type Result struct {
	Transaction   *purchase.StoreTransaction `json:"transaction,omitempty"`
	CustomerInfo  customer.CustomerInfo      `json:"customer_info"`
	UserCancelled bool                       `json:"user_cancelled"`
}

// Coordinator is the single entry point for purchases
type Coordinator struct {
	route     StoreRoute
	poster    *transaction.Poster
	customers *customerinfo.Manager
	identity  customer.Identity
	clock     shared.Clock
	logger    *zap.Logger
	metrics   *telemetry.PurchaseMetrics
	config    Config

	mu       sync.Mutex
	inFlight map[string]*purchase.Token
}

// NewCoordinator creates a new Coordinator
func NewCoordinator(
	route StoreRoute,
	poster *transaction.Poster,
	customers *customerinfo.Manager,
	identity customer.Identity,
	clock shared.Clock,
	logger *zap.Logger,
	config Config,
) *Coordinator {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		route:     route,
		poster:    poster,
		customers: customers,
		identity:  identity,
		clock:     clock,
		logger:    logger.Named("purchase_coordinator").With(zap.String("route", string(route.Kind()))),
		config:    config,
		inFlight:  make(map[string]*purchase.Token),
	}
}

// SetMetrics sets the purchase metrics collector
func (c *Coordinator) SetMetrics(m *telemetry.PurchaseMetrics) {
	c.metrics = m
}

// Route returns the route purchases go to
func (c *Coordinator) Route() RouteKind {
	return c.route.Kind()
}

// Purchase buys product and returns exactly one of: a transaction with fresh
// CustomerInfo, a user cancellation, or an error. A second call for a product
// that is still being purchased fails with OperationAlreadyInProgress and
// never reaches the store.
func (c *Coordinator) Purchase(ctx context.Context, product purchase.StoreProduct, params purchase.Params) (Result, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "purchase_coordinator", "purchase",
		telemetry.WithAttribute("product_id", product.ID))
	defer span.End()

	appUserID := c.identity.CurrentAppUserID()
	log := c.logger.With(zap.String("app_user_id", appUserID), zap.String("product_id", product.ID))

	if err := product.Validate(); err != nil {
		return c.fail(ctx, span, log, appUserID, product.ID, telemetry.PurchaseOutcomeFailed, err)
	}

	if c.route.Kind() == RouteUnsupported {
		err := purchase.NewError(purchase.ErrorCodeProductNotAvailableForPurchase,
			"purchases are not supported with the configured store").
			WithContext("reason", c.route.reason)
		return c.fail(ctx, span, log, appUserID, product.ID, telemetry.PurchaseOutcomeFailed, err)
	}

	storeCtx, token, ok := c.acquire(ctx, product.ID)
	if !ok {
		err := purchase.NewError(purchase.ErrorCodeOperationAlreadyInProgress,
			fmt.Sprintf("purchase of %s is already in progress", product.ID))
		err.GeneratedBy = purchase.SourceCoordinator
		return c.fail(ctx, span, log, appUserID, product.ID, telemetry.PurchaseOutcomeRejected, err)
	}
	defer c.release(token)

	outcome := c.route.store.Purchase(storeCtx, product, params)
	if outcome.Kind == purchase.OutcomeFailed && storeCtx.Err() != nil && ctx.Err() == nil {
		outcome = purchase.UserCancelled()
	}

	switch outcome.Kind {
	case purchase.OutcomeUserCancelled:
		if ctx.Err() != nil {
			log.Info("purchase abandoned by caller", zap.Error(ctx.Err()))
			c.record(ctx, product.ID, telemetry.PurchaseOutcomeFailed)
			telemetry.RecordError(span, ctx.Err())
			return Result{CustomerInfo: c.bestAvailable(ctx, appUserID)}, ctx.Err()
		}
		log.Info("purchase cancelled by user")
		c.record(ctx, product.ID, telemetry.PurchaseOutcomeCancelled)
		telemetry.SetOK(span)
		return Result{CustomerInfo: c.bestAvailable(ctx, appUserID), UserCancelled: true}, nil

	case purchase.OutcomePending:
		err := purchase.NewError(purchase.ErrorCodePaymentPending, "purchase is awaiting approval")
		err.GeneratedBy = purchase.SourceStore
		return c.fail(ctx, span, log, appUserID, product.ID, telemetry.PurchaseOutcomePending, err)

	case purchase.OutcomeSucceeded:
		if outcome.Transaction == nil {
			err := purchase.NewError(purchase.ErrorCodeStoreProblem, "store reported success without a transaction")
			return c.fail(ctx, span, log, appUserID, product.ID, telemetry.PurchaseOutcomeFailed, err)
		}

	default:
		if ctx.Err() != nil {
			return Result{CustomerInfo: c.bestAvailable(ctx, appUserID)}, ctx.Err()
		}
		err := purchase.Wrap(purchase.ErrorCodeStoreProblem, purchase.SourceStore, outcome.Err)
		return c.fail(ctx, span, log, appUserID, product.ID, telemetry.PurchaseOutcomeFailed, err)
	}

	tx := *outcome.Transaction
	post := purchase.NewReceiptPost(appUserID, tx, product, params, c.config.ObserverMode)
	info, err := c.poster.Post(ctx, post)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Transaction: &tx, CustomerInfo: c.bestAvailable(ctx, appUserID)}, err
		}
		res, perr := c.fail(ctx, span, log.With(zap.String("transaction_id", tx.TransactionID)),
			appUserID, product.ID, telemetry.PurchaseOutcomeFailed, backendError(err))
		res.Transaction = &tx
		return res, perr
	}

	log.Info("purchase completed",
		zap.String("transaction_id", tx.TransactionID),
		zap.Strings("active_entitlements", info.Entitlements.ActiveIdentifiers()),
		zap.String("origin", string(info.Origin)))
	c.record(ctx, product.ID, telemetry.PurchaseOutcomeSucceeded)
	telemetry.SetOK(span)
	return Result{Transaction: &tx, CustomerInfo: info}, nil
}

// CancelPurchase aborts the store interaction for productID, if one is in
// flight. A receipt post that already started is not interrupted.
func (c *Coordinator) CancelPurchase(productID string) bool {
	c.mu.Lock()
	token, ok := c.inFlight[productID]
	c.mu.Unlock()
	if ok {
		token.Cancel()
	}
	return ok
}

// InFlight returns the product ids currently being purchased
func (c *Coordinator) InFlight() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.inFlight))
	for id := range c.inFlight {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) acquire(ctx context.Context, productID string) (context.Context, *purchase.Token, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inFlight[productID]; busy {
		return nil, nil, false
	}
	storeCtx, cancel := context.WithCancel(ctx)
	token := purchase.NewToken(productID, c.clock.Now(), cancel)
	c.inFlight[productID] = token
	return storeCtx, token, true
}

func (c *Coordinator) release(token *purchase.Token) {
	c.mu.Lock()
	if c.inFlight[token.ProductID] == token {
		delete(c.inFlight, token.ProductID)
	}
	c.mu.Unlock()
	token.Cancel()
}

// fail logs the final classification of a failed purchase once and returns it
// together with the best locally available CustomerInfo
func (c *Coordinator) fail(
	ctx context.Context,
	span trace.Span,
	log *zap.Logger,
	appUserID, productID string,
	outcome telemetry.PurchaseOutcome,
	err error,
) (Result, error) {
	telemetry.RecordError(span, err)
	switch outcome {
	case telemetry.PurchaseOutcomeRejected, telemetry.PurchaseOutcomePending:
		log.Info("purchase not completed", zap.String("outcome", string(outcome)), zap.Error(err))
	default:
		log.Warn("purchase failed", zap.Error(err))
	}
	c.record(ctx, productID, outcome)
	return Result{CustomerInfo: c.bestAvailable(ctx, appUserID)}, err
}

func (c *Coordinator) bestAvailable(ctx context.Context, appUserID string) customer.CustomerInfo {
	if c.customers == nil {
		return customer.CustomerInfo{}
	}
	info, _ := c.customers.Cached(ctx, appUserID)
	return info
}

func (c *Coordinator) record(ctx context.Context, productID string, outcome telemetry.PurchaseOutcome) {
	if c.metrics != nil {
		c.metrics.RecordPurchase(ctx, productID, outcome)
	}
}

// backendError maps a poster failure onto the caller-facing error type
func backendError(err error) error {
	var pe *purchase.Error
	if errors.As(err, &pe) {
		return err
	}
	var be *purchase.BackendError
	if errors.As(err, &be) {
		return purchase.Wrap(be.Code(), purchase.SourceBackend, err)
	}
	return purchase.Wrap(purchase.ErrorCodeUnknown, purchase.SourcePoster, err)
}
