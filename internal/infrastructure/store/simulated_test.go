package store

import (
	"context"
	"testing"
	"time"

	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var purchasedAt = time.Date(2026, 1, 31, 9, 0, 0, 0, time.UTC)

func monthly() purchase.StoreProduct {
	return purchase.StoreProduct{
		ID:                 "monthly_sub",
		Type:               purchase.ProductTypeSubscription,
		Price:              decimal.RequireFromString("4.99"),
		CurrencyCode:       "USD",
		SubscriptionPeriod: "P1M",
	}
}

func TestSimulatedStore_ApprovesByDefault(t *testing.T) {
	ctx := context.Background()
	s := NewSimulatedStore(WithClock(shared.ClockFunc(func() time.Time { return purchasedAt })))

	outcome := s.Purchase(ctx, monthly(), purchase.Params{})

	require.Equal(t, purchase.OutcomeSucceeded, outcome.Kind)
	tx := outcome.Transaction
	require.NotNil(t, tx)
	assert.NotEmpty(t, tx.TransactionID)
	assert.Equal(t, "monthly_sub", tx.ProductID)
	assert.Equal(t, customer.StoreTestStore, tx.Store)
	assert.Equal(t, "simulated:"+tx.TransactionID, tx.ReceiptData)

	products, err := s.CurrentlyPurchasedProducts(ctx)
	require.NoError(t, err)
	require.Len(t, products, 1)
	require.NotNil(t, products[0].Subscription)
	assert.Equal(t, time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), *products[0].Subscription.ExpirationDate)

	require.NoError(t, s.FinishTransaction(ctx, *tx))
	assert.Equal(t, []string{tx.TransactionID}, s.Finished())
}

func TestSimulatedStore_ScriptedOutcomes(t *testing.T) {
	ctx := context.Background()
	s := NewSimulatedStore()
	s.Script("monthly_sub", purchase.OutcomeUserCancelled, purchase.OutcomePending, purchase.OutcomeFailed)

	assert.Equal(t, purchase.OutcomeUserCancelled, s.Purchase(ctx, monthly(), purchase.Params{}).Kind)
	assert.Equal(t, purchase.OutcomePending, s.Purchase(ctx, monthly(), purchase.Params{}).Kind)
	failed := s.Purchase(ctx, monthly(), purchase.Params{})
	assert.Equal(t, purchase.OutcomeFailed, failed.Kind)
	assert.ErrorIs(t, failed.Err, ErrSimulatedFailure)
	assert.Equal(t, purchase.OutcomeSucceeded, s.Purchase(ctx, monthly(), purchase.Params{}).Kind)
}

func TestSimulatedStore_CancelDuringDelay(t *testing.T) {
	s := NewSimulatedStore(WithDelay(time.Minute))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan purchase.StoreOutcome, 1)
	go func() { done <- s.Purchase(ctx, monthly(), purchase.Params{}) }()
	cancel()

	select {
	case outcome := <-done:
		assert.Equal(t, purchase.OutcomeUserCancelled, outcome.Kind)
	case <-time.After(time.Second):
		t.Fatal("purchase did not observe cancellation")
	}
}

func TestSimulatedStore_ExpiredSubscriptionsAreNotReported(t *testing.T) {
	now := purchasedAt
	s := NewSimulatedStore(WithClock(shared.ClockFunc(func() time.Time { return now })))
	s.Purchase(context.Background(), monthly(), purchase.Params{})
	s.Purchase(context.Background(), purchase.StoreProduct{ID: "lifetime", Type: purchase.ProductTypeNonConsumable}, purchase.Params{})

	now = purchasedAt.AddDate(0, 2, 0)
	products, err := s.CurrentlyPurchasedProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "lifetime", products[0].ProductID)
}

func TestAddPeriod(t *testing.T) {
	base := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		period string
		want   time.Time
	}{
		{"P3D", base.AddDate(0, 0, 3)},
		{"P1W", base.AddDate(0, 0, 7)},
		{"P6M", base.AddDate(0, 6, 0)},
		{"P1Y", base.AddDate(1, 0, 0)},
		{"", base.AddDate(0, 1, 0)},
		{"PXM", base.AddDate(0, 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			assert.Equal(t, tt.want, addPeriod(base, tt.period))
		})
	}
}
