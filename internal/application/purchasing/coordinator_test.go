package purchasing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/application/transaction"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/cache"
	"github.com/entitlesync/engine/internal/infrastructure/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// MockStore is a mock implementation of purchase.StoreAdapter
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Purchase(ctx context.Context, product purchase.StoreProduct, params purchase.Params) purchase.StoreOutcome {
	args := m.Called(ctx, product, params)
	if fn, ok := args.Get(0).(func(context.Context) purchase.StoreOutcome); ok {
		return fn(ctx)
	}
	return args.Get(0).(purchase.StoreOutcome)
}

func (m *MockStore) FinishTransaction(ctx context.Context, tx purchase.StoreTransaction) error {
	args := m.Called(ctx, tx)
	return args.Error(0)
}

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

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *MockStore
	backend   *MockBackend
	device    *cache.DeviceCache
	events    *event.Recorder
	customers *customerinfo.Manager
	coord     *Coordinator
	logs      *observer.ObservedLogs
}

func newFixture(t *testing.T, routeFor func(*MockStore) StoreRoute) *fixture {
	clock := shared.ClockFunc(func() time.Time { return now })
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	f := &fixture{
		store:   new(MockStore),
		backend: new(MockBackend),
		device:  cache.NewDeviceCache(cache.NewInMemoryStore(), clock),
		events:  event.NewRecorder(0),
		logs:    logs,
	}
	finished := cache.NewInMemoryIdempotencyStore()
	t.Cleanup(func() { _ = finished.Close() })

	handler := customerinfo.NewResponseHandler(nil, f.events, clock, log)
	f.customers = customerinfo.NewManager(f.backend, handler, f.device.Customers(), clock, log, customerinfo.DefaultConfig())
	poster := transaction.NewPoster(f.backend, f.store, f.customers, f.device.PendingTransactions(), finished,
		f.events, clock, log, transaction.DefaultConfig())

	f.coord = NewCoordinator(routeFor(f.store), poster, f.customers, customer.StaticIdentity("u1"), clock, log, Config{})
	return f
}

// warnings returns entries at warn level or above
func (f *fixture) warnings() []observer.LoggedEntry {
	return f.logs.Filter(func(e observer.LoggedEntry) bool { return e.Level >= zapcore.WarnLevel }).All()
}

func simulated(s *MockStore) StoreRoute { return SimulatedRoute(s) }

func monthlySub() purchase.StoreProduct {
	return purchase.StoreProduct{
		ID:                 "monthly_sub",
		Type:               purchase.ProductTypeSubscription,
		Price:              decimal.RequireFromString("9.99"),
		CurrencyCode:       "USD",
		SubscriptionPeriod: "P1M",
	}
}

func storeTransaction() purchase.StoreTransaction {
	return purchase.StoreTransaction{
		TransactionID: "t1",
		ProductID:     "monthly_sub",
		PurchaseDate:  now,
		Quantity:      1,
		Store:         customer.StoreAppStore,
		ReceiptData:   "receipt",
	}
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

func TestCoordinator_MonthlySubSucceeds(t *testing.T) {
	f := newFixture(t, simulated)
	tx := storeTransaction()

	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.Succeeded(tx)).Once()
	f.backend.On("PostReceipt", mock.Anything, mock.MatchedBy(func(p purchase.ReceiptPost) bool {
		return p.Transaction.TransactionID == "t1" && p.AppUserID == "u1" && p.InitiationSource == purchase.InitiationPurchase
	})).Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Once()
	f.store.On("FinishTransaction", mock.Anything, tx).Return(nil).Once()

	res, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})

	require.NoError(t, err)
	assert.False(t, res.UserCancelled)
	require.NotNil(t, res.Transaction)
	assert.Equal(t, "t1", res.Transaction.TransactionID)
	active := res.CustomerInfo.Entitlements.Active()
	require.Len(t, active, 1)
	assert.True(t, now.Add(30*24*time.Hour).Equal(*active["pro"].ExpirationDate))

	f.store.AssertNumberOfCalls(t, "FinishTransaction", 1)
	assert.Len(t, f.events.OfType(purchase.EventTypeTransactionFinished), 1)
	assert.Empty(t, f.coord.InFlight())
}

func TestCoordinator_MonthlySubCancelledInStore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, simulated)
	cached := proInfo()
	require.NoError(t, f.customers.Cache(ctx, cached))

	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.UserCancelled()).Once()

	res, err := f.coord.Purchase(ctx, monthlySub(), purchase.Params{})

	require.NoError(t, err)
	assert.True(t, res.UserCancelled)
	assert.Nil(t, res.Transaction)
	assert.True(t, cached.Equal(res.CustomerInfo))
	assert.True(t, res.CustomerInfo.IsLoadedFromCache())
	f.backend.AssertNotCalled(t, "PostReceipt", mock.Anything, mock.Anything)
	f.store.AssertNotCalled(t, "FinishTransaction", mock.Anything, mock.Anything)
}

func TestCoordinator_SecondPurchaseOfSameProductIsRejected(t *testing.T) {
	f := newFixture(t, simulated)
	tx := storeTransaction()

	entered := make(chan struct{})
	release := make(chan struct{})
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).
		Return(func(context.Context) purchase.StoreOutcome {
			close(entered)
			<-release
			return purchase.Succeeded(tx)
		}).Once()
	f.backend.On("PostReceipt", mock.Anything, mock.Anything).Return(purchase.CustomerInfoResponse{Info: proInfo()}, nil).Once()
	f.store.On("FinishTransaction", mock.Anything, tx).Return(nil).Once()

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, firstErr = f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})
	}()
	<-entered
	assert.Equal(t, []string{"monthly_sub"}, f.coord.InFlight())

	_, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})
	assert.ErrorIs(t, err, purchase.ErrOperationAlreadyInProgress)

	close(release)
	wg.Wait()
	require.NoError(t, firstErr)
	f.store.AssertNumberOfCalls(t, "Purchase", 1)
	assert.Empty(t, f.coord.InFlight())
}

func TestCoordinator_DifferentProductsRunConcurrently(t *testing.T) {
	f := newFixture(t, simulated)
	annual := monthlySub()
	annual.ID = "annual_sub"

	var barrier sync.WaitGroup
	barrier.Add(2)
	waitForBoth := func(context.Context) purchase.StoreOutcome {
		barrier.Done()
		barrier.Wait()
		return purchase.UserCancelled()
	}
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(waitForBoth).Once()
	f.store.On("Purchase", mock.Anything, annual, purchase.Params{}).Return(waitForBoth).Once()

	var wg sync.WaitGroup
	for _, p := range []purchase.StoreProduct{monthlySub(), annual} {
		wg.Add(1)
		go func(p purchase.StoreProduct) {
			defer wg.Done()
			res, err := f.coord.Purchase(context.Background(), p, purchase.Params{})
			assert.NoError(t, err)
			assert.True(t, res.UserCancelled)
		}(p)
	}
	wg.Wait()
}

func TestCoordinator_TokenReleasedAfterFailure(t *testing.T) {
	f := newFixture(t, simulated)
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.Failed(errors.New("billing unavailable"))).Once()
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.UserCancelled()).Once()

	_, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})
	assert.ErrorIs(t, err, purchase.ErrStoreProblem)
	var pe *purchase.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, purchase.SourceStore, pe.GeneratedBy)

	res, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})
	require.NoError(t, err)
	assert.True(t, res.UserCancelled)
}

func TestCoordinator_PendingPayment(t *testing.T) {
	f := newFixture(t, simulated)
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.Pending()).Once()

	res, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})

	assert.ErrorIs(t, err, purchase.ErrPaymentPending)
	assert.False(t, res.UserCancelled)
	f.backend.AssertNotCalled(t, "PostReceipt", mock.Anything, mock.Anything)
}

func TestCoordinator_UnsupportedRouteFailsFast(t *testing.T) {
	f := newFixture(t, func(*MockStore) StoreRoute { return UnsupportedRoute("secret api key") })

	_, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})

	assert.ErrorIs(t, err, purchase.ErrProductNotAvailableForPurchase)
	assert.Equal(t, RouteUnsupported, f.coord.Route())
	f.store.AssertNotCalled(t, "Purchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_InvalidProduct(t *testing.T) {
	f := newFixture(t, simulated)
	_, err := f.coord.Purchase(context.Background(), purchase.StoreProduct{}, purchase.Params{})
	assert.ErrorIs(t, err, purchase.ErrProductNotAvailableForPurchase)
	f.store.AssertNotCalled(t, "Purchase", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_CancelPurchase(t *testing.T) {
	f := newFixture(t, simulated)
	entered := make(chan struct{})
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).
		Return(func(ctx context.Context) purchase.StoreOutcome {
			close(entered)
			<-ctx.Done()
			return purchase.Failed(ctx.Err())
		}).Once()

	done := make(chan Result, 1)
	go func() {
		res, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})
		assert.NoError(t, err)
		done <- res
	}()
	<-entered

	assert.True(t, f.coord.CancelPurchase("monthly_sub"))
	assert.False(t, f.coord.CancelPurchase("annual_sub"))

	select {
	case res := <-done:
		assert.True(t, res.UserCancelled)
	case <-time.After(time.Second):
		t.Fatal("purchase was not cancelled")
	}
	assert.Empty(t, f.coord.InFlight())
	f.backend.AssertNotCalled(t, "PostReceipt", mock.Anything, mock.Anything)
}

func TestCoordinator_CallerDeadlineIsNotUserCancellation(t *testing.T) {
	f := newFixture(t, simulated)
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).
		Return(func(ctx context.Context) purchase.StoreOutcome {
			<-ctx.Done()
			return purchase.UserCancelled()
		}).Once()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	res, err := f.coord.Purchase(ctx, monthlySub(), purchase.Params{})

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, res.UserCancelled)
	assert.Nil(t, res.Transaction)
	assert.Empty(t, f.coord.InFlight())
	f.backend.AssertNotCalled(t, "PostReceipt", mock.Anything, mock.Anything)
}

func TestCoordinator_BackendRejectionIsWrapped(t *testing.T) {
	f := newFixture(t, simulated)
	tx := storeTransaction()
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.Succeeded(tx)).Once()
	f.backend.On("PostReceipt", mock.Anything, mock.Anything).
		Return(purchase.CustomerInfoResponse{}, &purchase.BackendError{Kind: purchase.KindErrorResponse, StatusCode: 401, Message: "invalid api key"}).Once()

	res, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})

	var pe *purchase.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, purchase.ErrorCodeInvalidCredentials, pe.Code)
	assert.Equal(t, purchase.SourceBackend, pe.GeneratedBy)
	assert.False(t, pe.Finishable)
	require.NotNil(t, res.Transaction)
	f.store.AssertNotCalled(t, "FinishTransaction", mock.Anything, mock.Anything)
}

func TestCoordinator_OutageWithoutOfflineKeepsTransactionPending(t *testing.T) {
	f := newFixture(t, simulated)
	tx := storeTransaction()
	f.store.On("Purchase", mock.Anything, monthlySub(), purchase.Params{}).Return(purchase.Succeeded(tx)).Once()
	f.backend.On("PostReceipt", mock.Anything, mock.Anything).
		Return(purchase.CustomerInfoResponse{}, &purchase.BackendError{Kind: purchase.KindOffline, Message: "no route to host"}).Once()

	_, err := f.coord.Purchase(context.Background(), monthlySub(), purchase.Params{})

	assert.ErrorIs(t, err, purchase.ErrNetwork)
	pending, lerr := f.device.PendingTransactions().List(context.Background())
	require.NoError(t, lerr)
	require.Len(t, pending, 1)
	assert.Equal(t, "t1", pending[0].TransactionID())

	warnings := f.warnings()
	require.Len(t, warnings, 1, "an outage is classified once")
	assert.Equal(t, "purchase failed", warnings[0].Message)
}
