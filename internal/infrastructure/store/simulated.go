// Package store holds storefront adapters.
package store

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrSimulatedFailure is the error carried by scripted failures
var ErrSimulatedFailure = errors.New("simulated store: purchase failed")

// SimulatedStore is an in-process storefront for test keys and demos.
// Purchases are approved after an optional delay unless an outcome was
// scripted for the product. Approved purchases are remembered and reported
// as locally purchased products so offline entitlements work against it.
type SimulatedStore struct {
	mu        sync.Mutex
	script    map[string][]purchase.OutcomeKind
	purchased []customer.PurchasedProduct
	finished  map[string]time.Time

	delay  time.Duration
	clock  shared.Clock
	logger *zap.Logger
}

// SimulatedOption configures a SimulatedStore
type SimulatedOption func(*SimulatedStore)

// WithDelay makes every purchase wait d before resolving
func WithDelay(d time.Duration) SimulatedOption {
	return func(s *SimulatedStore) {
		s.delay = d
	}
}

// WithClock sets the clock used for purchase and expiration dates
func WithClock(c shared.Clock) SimulatedOption {
	return func(s *SimulatedStore) {
		s.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) SimulatedOption {
	return func(s *SimulatedStore) {
		s.logger = l
	}
}

// NewSimulatedStore creates a new SimulatedStore
func NewSimulatedStore(opts ...SimulatedOption) *SimulatedStore {
	s := &SimulatedStore{
		script:   make(map[string][]purchase.OutcomeKind),
		finished: make(map[string]time.Time),
		clock:    shared.SystemClock{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("simulated_store")
	return s
}

// Script queues outcomes for the next purchases of productID
func (s *SimulatedStore) Script(productID string, outcomes ...purchase.OutcomeKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[productID] = append(s.script[productID], outcomes...)
}

// Purchase implements purchase.StoreAdapter. Cancelling ctx before the
// purchase resolves reports a user cancellation.
func (s *SimulatedStore) Purchase(ctx context.Context, product purchase.StoreProduct, _ purchase.Params) purchase.StoreOutcome {
	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return purchase.UserCancelled()
		}
	} else if ctx.Err() != nil {
		return purchase.UserCancelled()
	}

	switch s.next(product.ID) {
	case purchase.OutcomeUserCancelled:
		return purchase.UserCancelled()
	case purchase.OutcomePending:
		return purchase.Pending()
	case purchase.OutcomeFailed:
		return purchase.Failed(ErrSimulatedFailure)
	}

	now := s.clock.Now()
	tx := purchase.StoreTransaction{
		TransactionID: uuid.NewString(),
		ProductID:     product.ID,
		PurchaseDate:  now,
		Quantity:      1,
		Store:         customer.StoreTestStore,
		IsSandbox:     true,
	}
	tx.ReceiptData = "simulated:" + tx.TransactionID

	s.mu.Lock()
	s.purchased = append(s.purchased, purchasedProduct(product, tx))
	s.mu.Unlock()

	s.logger.Debug("simulated purchase approved",
		zap.String("product_id", product.ID),
		zap.String("transaction_id", tx.TransactionID))
	return purchase.Succeeded(tx)
}

// FinishTransaction implements purchase.TransactionFinisher
func (s *SimulatedStore) FinishTransaction(_ context.Context, tx purchase.StoreTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished[tx.TransactionID] = s.clock.Now()
	return nil
}

// Finished returns the ids of finished transactions, sorted
func (s *SimulatedStore) Finished() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.finished))
	for id := range s.finished {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CurrentlyPurchasedProducts implements purchase.PurchasedProductsFetcher.
// Expired subscriptions are left out.
func (s *SimulatedStore) CurrentlyPurchasedProducts(_ context.Context) ([]customer.PurchasedProduct, error) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]customer.PurchasedProduct, 0, len(s.purchased))
	for _, p := range s.purchased {
		if p.Subscription != nil && !customer.IsDateActive(p.Subscription.ExpirationDate, now) {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *SimulatedStore) next(productID string) purchase.OutcomeKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue := s.script[productID]
	if len(queue) == 0 {
		return purchase.OutcomeSucceeded
	}
	s.script[productID] = queue[1:]
	return queue[0]
}

func purchasedProduct(product purchase.StoreProduct, tx purchase.StoreTransaction) customer.PurchasedProduct {
	p := customer.PurchasedProduct{
		ProductID:     product.ID,
		TransactionID: tx.TransactionID,
		PurchaseDate:  tx.PurchaseDate,
		Store:         tx.Store,
		IsSandbox:     tx.IsSandbox,
	}
	if product.IsSubscription() {
		expires := addPeriod(tx.PurchaseDate, product.SubscriptionPeriod)
		p.Subscription = &customer.SubscriptionMetadata{
			ExpirationDate: &expires,
			PeriodType:     customer.PeriodNormal,
			WillRenew:      true,
			OwnershipType:  customer.OwnershipPurchased,
		}
	}
	return p
}

// addPeriod adds a single-unit ISO 8601 period such as P1W, P1M or P1Y to t.
// Unparseable periods count as one month.
func addPeriod(t time.Time, period string) time.Time {
	if len(period) < 3 || period[0] != 'P' {
		return t.AddDate(0, 1, 0)
	}
	n, err := strconv.Atoi(period[1 : len(period)-1])
	if err != nil || n <= 0 {
		return t.AddDate(0, 1, 0)
	}
	switch period[len(period)-1] {
	case 'D':
		return t.AddDate(0, 0, n)
	case 'W':
		return t.AddDate(0, 0, 7*n)
	case 'M':
		return t.AddDate(0, n, 0)
	case 'Y':
		return t.AddDate(n, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

var (
	_ purchase.StoreAdapter             = (*SimulatedStore)(nil)
	_ purchase.PurchasedProductsFetcher = (*SimulatedStore)(nil)
)
