package cache

import (
	"context"
	"testing"
	"time"

	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/entitlement"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeviceCache() *DeviceCache {
	return NewDeviceCache(NewInMemoryStore(), shared.ClockFunc(func() time.Time { return storedAt }))
}

func TestDeviceCache_Customers(t *testing.T) {
	ctx := context.Background()
	repo := newTestDeviceCache().Customers()

	_, err := repo.Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	expires := storedAt.Add(30 * 24 * time.Hour)
	info := customer.CustomerInfo{
		AppUserID:   "u1",
		RequestDate: storedAt,
		Entitlements: customer.EntitlementInfos{
			All: map[string]customer.EntitlementInfo{
				"pro": {Identifier: "pro", IsActive: true, ProductIdentifier: "monthly_sub", ExpirationDate: &expires},
			},
			Verification: customer.VerificationVerified,
		},
		Verification: customer.VerificationVerified,
		Origin:       customer.OriginNetwork,
	}
	require.NoError(t, repo.Save(ctx, info, storedAt))

	cached, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, storedAt.Equal(cached.CachedAt))
	assert.True(t, info.Equal(cached.Info))
	assert.Equal(t, []string{"pro"}, cached.Info.Entitlements.ActiveIdentifiers())

	require.NoError(t, repo.Clear(ctx, "u1"))
	_, err = repo.Load(ctx, "u1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDeviceCache_Mappings(t *testing.T) {
	ctx := context.Background()
	repo := newTestDeviceCache().Mappings()

	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, shared.ErrNotFound)

	m := entitlement.NewMapping(entitlement.Row{ProductIdentifier: "monthly_sub", Entitlements: []string{"pro", "ads_free"}})
	require.NoError(t, repo.Save(ctx, m, storedAt))

	stored, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, storedAt.Equal(stored.FetchedAt))
	assert.Equal(t, []string{"ads_free", "pro"}, stored.Mapping.EntitlementsFor("monthly_sub"))
}

func TestDeviceCache_Attributes(t *testing.T) {
	ctx := context.Background()
	repo := newTestDeviceCache().Attributes()

	set, err := repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, set)

	require.NoError(t, repo.Save(ctx, "u1", attribute.Set{"$email": attribute.New("$email", "a@b.c", storedAt)}))
	require.NoError(t, repo.Save(ctx, "u0", attribute.Set{"team": attribute.New("team", "red", storedAt)}))

	set, err = repo.Load(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", set["$email"].Value)
	assert.False(t, set["$email"].IsSynced)

	users, err := repo.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u0", "u1"}, users)

	require.NoError(t, repo.Delete(ctx, "u0"))
	users, err = repo.Users(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, users)
}

func TestDeviceCache_PendingTransactions(t *testing.T) {
	ctx := context.Background()
	device := newTestDeviceCache()
	repo := device.PendingTransactions()

	newPending := func(txnID string) purchase.PendingTransaction {
		tx := purchase.StoreTransaction{TransactionID: txnID, ProductID: "monthly_sub", PurchaseDate: storedAt}
		product := purchase.StoreProduct{ID: "monthly_sub", Price: decimal.RequireFromString("9.99"), CurrencyCode: "USD"}
		return purchase.PendingTransaction{Post: purchase.NewReceiptPost("u1", tx, product, purchase.Params{}, false), CreatedAt: storedAt}
	}

	require.NoError(t, repo.Save(ctx, newPending("t2")))
	require.NoError(t, repo.Save(ctx, newPending("t1")))

	got, err := repo.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("9.99").Equal(got.Post.Price))
	assert.Equal(t, "u1", got.Post.AppUserID)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t1", list[0].TransactionID())
	assert.Equal(t, "t2", list[1].TransactionID())

	count, err := device.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, repo.Delete(ctx, "t1"))
	_, err = repo.Get(ctx, "t1")
	assert.ErrorIs(t, err, shared.ErrNotFound)

	err = repo.Save(ctx, purchase.PendingTransaction{})
	assert.Error(t, err)
}
