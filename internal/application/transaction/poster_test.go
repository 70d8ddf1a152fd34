package transaction

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/application/offline"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/entitlement"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/cache"
	"github.com/entitlesync/engine/internal/infrastructure/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockBackend is a mock implementation of the receipt and customer info endpoints
type MockBackend struct {
	mock.Mock
}

func (m *MockBackend) PostReceipt(ctx context.Context, post purchase.ReceiptPost) (purchase.CustomerInfoResponse, error) {
	args := m.Called(ctx, post)
	return args.Get(0).(purchase.CustomerInfoResponse), args.Error(1)
}

func (m *MockBackend) GetCustomerInfo(ctx context.Context, appUserID string) (purchase.CustomerInfoResponse, error) {
	args := m.Called(ctx, appUserID)
	return args.Get(0).(purchase.CustomerInfoResponse), args.Error(1)
}

func (m *MockBackend) GetProductEntitlementMapping(ctx context.Context) (entitlement.Mapping, error) {
	args := m.Called(ctx)
	return args.Get(0).(entitlement.Mapping), args.Error(1)
}

// MockFinisher is a mock implementation of purchase.TransactionFinisher
type MockFinisher struct {
	mock.Mock
}

func (m *MockFinisher) FinishTransaction(ctx context.Context, tx purchase.StoreTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

// MockProductsFetcher is a mock implementation of purchase.PurchasedProductsFetcher
type MockProductsFetcher struct {
	mock.Mock
}

func (m *MockProductsFetcher) CurrentlyPurchasedProducts(ctx context.Context) ([]customer.PurchasedProduct, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]customer.PurchasedProduct), args.Error(1)
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	backend  *MockBackend
	finisher *MockFinisher
	products *MockProductsFetcher
	device   *cache.DeviceCache
	finished *cache.InMemoryIdempotencyStore
	events   *event.Recorder
	poster   *Poster
}

func newFixture(t *testing.T, cfg Config) *fixture {
	clock := shared.ClockFunc(func() time.Time { return now })
	f := &fixture{
		backend:  new(MockBackend),
		finisher: new(MockFinisher),
		products: new(MockProductsFetcher),
		device:   cache.NewDeviceCache(cache.NewInMemoryStore(), clock),
		finished: cache.NewInMemoryIdempotencyStore(),
		events:   event.NewRecorder(0),
	}
	t.Cleanup(func() { _ = f.finished.Close() })

	offlineCfg := offline.DefaultConfig()
	mappings := offline.NewMappingCache(f.device.Mappings(), f.backend, f.events, clock, nil, offlineCfg)
	offlineManager := offline.NewManager(mappings, f.products, f.device.Customers(), clock, nil, offlineCfg)
	handler := customerinfo.NewResponseHandler(offlineManager, f.events, clock, nil)
	customers := customerinfo.NewManager(f.backend, handler, f.device.Customers(), clock, nil, customerinfo.DefaultConfig())

	f.poster = NewPoster(f.backend, f.finisher, customers, f.device.PendingTransactions(), f.finished, f.events, clock, nil, cfg)
	return f
}

func receiptPost(txnID string) purchase.ReceiptPost {
	tx := purchase.StoreTransaction{
		TransactionID: txnID,
		ProductID:     "monthly_sub",
		PurchaseDate:  now,
		Quantity:      1,
		Store:         customer.StoreAppStore,
		ReceiptData:   "receipt-" + txnID,
	}
	product := purchase.StoreProduct{
		ID:           "monthly_sub",
		Type:         purchase.ProductTypeSubscription,
		Price:        decimal.RequireFromString("9.99"),
		CurrencyCode: "USD",
	}
	return purchase.NewReceiptPost("u1", tx, product, purchase.Params{}, false)
}

func proInfo() customer.CustomerInfo {
	expires := now.Add(30 * 24 * time.Hour)
	return customer.CustomerInfo{
		AppUserID:   "u1",
		RequestDate: now,
		Entitlements: customer.EntitlementInfos{
			All: map[string]customer.EntitlementInfo{
				"pro": {Identifier: "pro", IsActive: true, ProductIdentifier: "monthly_sub", ExpirationDate: &expires},
			},
			Verification: customer.VerificationVerified,
		},
		Verification: customer.VerificationVerified,
		Origin:       customer.OriginNetwork,
	}
}

func (f *fixture) pendingIDs(t *testing.T) []string {
	t.Helper()
	list, err := f.device.PendingTransactions().List(context.Background())
	require.NoError(t, err)
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.TransactionID())
	}
	return ids
}

func skipReasons(events []shared.DomainEvent) []string {
	reasons := make([]string, 0, len(events))
	for _, e := range events {
		reasons = append(reasons, e.(*purchase.TransactionFinishSkippedEvent).Reason)
	}
	return reasons
}

func TestPoster_SuccessFinishesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")

	f.backend.On("PostReceipt", mock.Anything, post).Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Twice()
	f.finisher.On("FinishTransaction", mock.Anything, post.Transaction).Return(nil).Once()

	info, err := f.poster.Post(ctx, post)
	require.NoError(t, err)
	assert.Equal(t, []string{"pro"}, info.Entitlements.ActiveIdentifiers())
	assert.Empty(t, f.pendingIDs(t))

	cached, err := f.device.Customers().Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, proInfo().Equal(cached.Info))

	// a later re-post of the same transaction does not finish it again
	_, err = f.poster.Post(ctx, post)
	require.NoError(t, err)

	f.finisher.AssertNumberOfCalls(t, "FinishTransaction", 1)
	assert.Len(t, f.events.OfType(purchase.EventTypeTransactionFinished), 1)
	assert.Equal(t, []string{purchase.SkipReasonAlreadyFinished},
		skipReasons(f.events.OfType(purchase.EventTypeTransactionFinishSkipped)))
}

func TestPoster_ConcurrentPostsCoalesce(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")

	release := make(chan time.Time)
	f.backend.On("PostReceipt", mock.Anything, post).
		WaitUntil(release).
		Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Once()
	f.finisher.On("FinishTransaction", mock.Anything, post.Transaction).Return(nil).Once()

	var wg sync.WaitGroup
	results := make([]customer.CustomerInfo, 3)
	errs := make([]error, 3)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.poster.Post(context.Background(), post)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"pro"}, results[i].Entitlements.ActiveIdentifiers())
	}
	f.backend.AssertNumberOfCalls(t, "PostReceipt", 1)
	f.finisher.AssertNumberOfCalls(t, "FinishTransaction", 1)
}

func TestPoster_RetryableFailureLeavesTransactionUnfinished(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")
	serverError := &purchase.BackendError{Kind: purchase.KindErrorResponse, StatusCode: 500, Message: "internal error"}

	f.backend.On("PostReceipt", mock.Anything, post).Return(purchase.CustomerInfoResponse{}, serverError).Once()

	_, err := f.poster.Post(context.Background(), post)

	assert.Same(t, serverError, err)
	f.finisher.AssertNotCalled(t, "FinishTransaction", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"t1"}, f.pendingIDs(t))
	assert.Empty(t, f.events.OfType(purchase.EventTypeTransactionFinished))
	assert.Equal(t, []string{purchase.SkipReasonRetryable},
		skipReasons(f.events.OfType(purchase.EventTypeTransactionFinishSkipped)))

	stored, err := f.device.PendingTransactions().Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
}

func TestPoster_FinishableFailureFinishes(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")
	invalid := &purchase.BackendError{Kind: purchase.KindErrorResponse, StatusCode: 400, Finishable: true, Message: "receipt is invalid"}

	f.backend.On("PostReceipt", mock.Anything, post).Return(purchase.CustomerInfoResponse{}, invalid).Once()
	f.finisher.On("FinishTransaction", mock.Anything, post.Transaction).Return(nil).Once()

	_, err := f.poster.Post(context.Background(), post)

	assert.Same(t, invalid, err)
	f.finisher.AssertExpectations(t)
	assert.Empty(t, f.pendingIDs(t))
	finished := f.events.OfType(purchase.EventTypeTransactionFinished)
	require.Len(t, finished, 1)
	assert.Equal(t, invalid.Error(), finished[0].(*purchase.TransactionFinishedEvent).AfterError)
}

func TestPoster_OutageServesOfflineWithoutFinishing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")
	require.NoError(t, f.device.Mappings().Save(ctx,
		entitlement.NewMapping(entitlement.Row{ProductIdentifier: "monthly_sub", Entitlements: []string{"pro"}}), now))
	expires := now.Add(30 * 24 * time.Hour)
	f.products.On("CurrentlyPurchasedProducts", mock.Anything).Return([]customer.PurchasedProduct{{
		ProductID:     "monthly_sub",
		TransactionID: "t1",
		PurchaseDate:  now,
		Subscription:  &customer.SubscriptionMetadata{ExpirationDate: &expires},
	}}, nil)
	f.backend.On("PostReceipt", mock.Anything, post).
		Return(purchase.CustomerInfoResponse{}, &purchase.BackendError{Kind: purchase.KindTimeout, Message: "deadline exceeded"}).Once()

	info, err := f.poster.Post(ctx, post)

	require.NoError(t, err)
	assert.True(t, info.IsComputedOffline())
	assert.Equal(t, []string{"pro"}, info.Entitlements.ActiveIdentifiers())
	f.finisher.AssertNotCalled(t, "FinishTransaction", mock.Anything, mock.Anything)
	assert.Equal(t, []string{"t1"}, f.pendingIDs(t))
	assert.Len(t, f.events.OfType(customer.EventTypeOfflineComputed), 1)
	assert.Equal(t, []string{purchase.SkipReasonComputedOffline},
		skipReasons(f.events.OfType(purchase.EventTypeTransactionFinishSkipped)))

	_, err = f.device.Customers().Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestPoster_FinishingDisabled(t *testing.T) {
	f := newFixture(t, Config{FinishTransactions: false})
	post := receiptPost("t1")
	f.backend.On("PostReceipt", mock.Anything, post).Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Once()

	_, err := f.poster.Post(context.Background(), post)

	require.NoError(t, err)
	f.finisher.AssertNotCalled(t, "FinishTransaction", mock.Anything, mock.Anything)
	assert.Empty(t, f.pendingIDs(t))
	assert.Equal(t, []string{purchase.SkipReasonFinishingDisabled},
		skipReasons(f.events.OfType(purchase.EventTypeTransactionFinishSkipped)))
}

func TestPoster_StoreFinishFailureIsRetriedLater(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")
	f.backend.On("PostReceipt", mock.Anything, post).Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Twice()
	f.finisher.On("FinishTransaction", mock.Anything, post.Transaction).Return(errors.New("store busy")).Once()
	f.finisher.On("FinishTransaction", mock.Anything, post.Transaction).Return(nil).Once()

	_, err := f.poster.Post(ctx, post)
	require.NoError(t, err)
	assert.Empty(t, f.events.OfType(purchase.EventTypeTransactionFinished))

	_, err = f.poster.Post(ctx, post)
	require.NoError(t, err)
	f.finisher.AssertNumberOfCalls(t, "FinishTransaction", 2)
	assert.Len(t, f.events.OfType(purchase.EventTypeTransactionFinished), 1)
}

func TestPoster_CallerCancelDoesNotAbortPost(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	post := receiptPost("t1")

	release := make(chan time.Time)
	finished := make(chan struct{})
	f.backend.On("PostReceipt", mock.Anything, post).
		WaitUntil(release).
		Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Once()
	f.finisher.On("FinishTransaction", mock.Anything, post.Transaction).
		Run(func(mock.Arguments) { close(finished) }).
		Return(nil).Once()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := f.poster.Post(ctx, post)
		errCh <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("post did not run to completion")
	}
}

func TestPoster_RejectsEmptyTransactionID(t *testing.T) {
	f := newFixture(t, DefaultConfig())
	_, err := f.poster.Post(context.Background(), purchase.ReceiptPost{})
	var pe *purchase.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, purchase.ErrorCodePurchaseInvalid, pe.Code)
	f.backend.AssertNotCalled(t, "PostReceipt", mock.Anything, mock.Anything)
}

func TestPoster_SyncPending(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing to retry", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())

		report, err := f.poster.SyncPending(ctx, "u1")

		require.NoError(t, err)
		assert.Equal(t, SyncReport{Outcome: purchase.SyncNothingToRetry}, report)
		synced := f.events.OfType(purchase.EventTypeTransactionsSynced)
		require.Len(t, synced, 1)
		assert.Equal(t, purchase.SyncNothingToRetry, synced[0].(*purchase.TransactionsSyncedEvent).Outcome)
		f.backend.AssertNotCalled(t, "PostReceipt", mock.Anything, mock.Anything)
	})

	t.Run("retries stored transactions", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		pending := f.device.PendingTransactions()
		require.NoError(t, pending.Save(ctx, purchase.PendingTransaction{Post: receiptPost("t1"), CreatedAt: now, Attempts: 1}))
		require.NoError(t, pending.Save(ctx, purchase.PendingTransaction{Post: receiptPost("t2"), CreatedAt: now, Attempts: 1}))

		f.backend.On("PostReceipt", mock.Anything, mock.MatchedBy(func(p purchase.ReceiptPost) bool {
			return p.Transaction.TransactionID == "t1" && p.InitiationSource == purchase.InitiationQueue
		})).Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Once()
		f.backend.On("PostReceipt", mock.Anything, mock.MatchedBy(func(p purchase.ReceiptPost) bool {
			return p.Transaction.TransactionID == "t2"
		})).Return(purchase.CustomerInfoResponse{}, &purchase.BackendError{Kind: purchase.KindServerDown, StatusCode: 503}).Once()
		f.finisher.On("FinishTransaction", mock.Anything, mock.Anything).Return(nil).Once()

		report, err := f.poster.SyncPending(ctx, "u1")

		require.NoError(t, err)
		assert.Equal(t, SyncReport{Outcome: purchase.SyncRetried, Retried: 2, Failed: 1}, report)
		assert.Equal(t, []string{"t2"}, f.pendingIDs(t))

		stored, err := pending.Get(ctx, "t2")
		require.NoError(t, err)
		assert.Equal(t, 2, stored.Attempts)

		synced := f.events.OfType(purchase.EventTypeTransactionsSynced)
		require.Len(t, synced, 1)
		e := synced[0].(*purchase.TransactionsSyncedEvent)
		assert.Equal(t, purchase.SyncRetried, e.Outcome)
		assert.Equal(t, 2, e.Retried)
	})
}
