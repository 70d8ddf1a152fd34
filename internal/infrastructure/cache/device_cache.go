package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/entitlesync/engine/internal/domain/attribute"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/entitlement"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
)

// Device cache key layout
const (
	customerInfoPrefix       = "customer_info:"
	entitlementMappingKey    = "entitlement_mapping"
	subscriberAttrsPrefix    = "subscriber_attributes:"
	pendingTransactionPrefix = "pending_transaction:"
)

// DeviceCache stores the engine's persisted state as JSON documents in a
// shared.KeyValueStore. Every write replaces a whole document.
type DeviceCache struct {
	store shared.KeyValueStore
	now   func() time.Time
}

// NewDeviceCache creates a device cache over store
func NewDeviceCache(store shared.KeyValueStore, clock shared.Clock) *DeviceCache {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	return &DeviceCache{store: store, now: clock.Now}
}

// Customers returns the CustomerInfo repository view
func (c *DeviceCache) Customers() customer.Repository {
	return &customerInfoCache{c}
}

// Mappings returns the entitlement mapping repository view
func (c *DeviceCache) Mappings() entitlement.Repository {
	return &mappingCache{c}
}

// Attributes returns the subscriber attribute repository view
func (c *DeviceCache) Attributes() attribute.Repository {
	return &attributeCache{c}
}

// PendingTransactions returns the pending transaction repository view
func (c *DeviceCache) PendingTransactions() purchase.PendingTransactionRepository {
	return &pendingCache{c}
}

// PendingCount returns the number of stored pending transactions
func (c *DeviceCache) PendingCount(ctx context.Context) (int64, error) {
	keys, err := c.store.Keys(ctx, pendingTransactionPrefix)
	if err != nil {
		return 0, err
	}
	return int64(len(keys)), nil
}

// Close closes the underlying store
func (c *DeviceCache) Close() error {
	return c.store.Close()
}

func (c *DeviceCache) load(ctx context.Context, key string, dst any) (time.Time, error) {
	e, err := c.store.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	if err := json.Unmarshal(e.Value, dst); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode %q: %w", key, err)
	}
	return e.StoredAt, nil
}

func (c *DeviceCache) save(ctx context.Context, key string, v any, at time.Time) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %q: %w", key, err)
	}
	return c.store.Set(ctx, key, data, at)
}

type customerInfoCache struct{ c *DeviceCache }

func (r *customerInfoCache) Load(ctx context.Context, appUserID string) (*customer.CachedInfo, error) {
	var info customer.CustomerInfo
	at, err := r.c.load(ctx, customerInfoPrefix+appUserID, &info)
	if err != nil {
		return nil, err
	}
	return &customer.CachedInfo{Info: info, CachedAt: at}, nil
}

func (r *customerInfoCache) Save(ctx context.Context, info customer.CustomerInfo, cachedAt time.Time) error {
	return r.c.save(ctx, customerInfoPrefix+info.AppUserID, info, cachedAt)
}

func (r *customerInfoCache) Clear(ctx context.Context, appUserID string) error {
	return r.c.store.Delete(ctx, customerInfoPrefix+appUserID)
}

type mappingCache struct{ c *DeviceCache }

func (r *mappingCache) Load(ctx context.Context) (*entitlement.StoredMapping, error) {
	var m entitlement.Mapping
	at, err := r.c.load(ctx, entitlementMappingKey, &m)
	if err != nil {
		return nil, err
	}
	return &entitlement.StoredMapping{Mapping: m, FetchedAt: at}, nil
}

func (r *mappingCache) Save(ctx context.Context, m entitlement.Mapping, fetchedAt time.Time) error {
	return r.c.save(ctx, entitlementMappingKey, m, fetchedAt)
}

type attributeCache struct{ c *DeviceCache }

func (r *attributeCache) Load(ctx context.Context, appUserID string) (attribute.Set, error) {
	set := attribute.Set{}
	if _, err := r.c.load(ctx, subscriberAttrsPrefix+appUserID, &set); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return attribute.Set{}, nil
		}
		return nil, err
	}
	return set, nil
}

func (r *attributeCache) Save(ctx context.Context, appUserID string, attrs attribute.Set) error {
	return r.c.save(ctx, subscriberAttrsPrefix+appUserID, attrs, r.c.now())
}

func (r *attributeCache) Delete(ctx context.Context, appUserID string) error {
	return r.c.store.Delete(ctx, subscriberAttrsPrefix+appUserID)
}

func (r *attributeCache) Users(ctx context.Context) ([]string, error) {
	keys, err := r.c.store.Keys(ctx, subscriberAttrsPrefix)
	if err != nil {
		return nil, err
	}
	users := make([]string, 0, len(keys))
	for _, k := range keys {
		users = append(users, strings.TrimPrefix(k, subscriberAttrsPrefix))
	}
	return users, nil
}

type pendingCache struct{ c *DeviceCache }

func (r *pendingCache) Get(ctx context.Context, transactionID string) (*purchase.PendingTransaction, error) {
	var p purchase.PendingTransaction
	if _, err := r.c.load(ctx, pendingTransactionPrefix+transactionID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *pendingCache) Save(ctx context.Context, p purchase.PendingTransaction) error {
	if p.TransactionID() == "" {
		return shared.NewDomainError("INVALID_INPUT", "pending transaction has no transaction id")
	}
	return r.c.save(ctx, pendingTransactionPrefix+p.TransactionID(), p, r.c.now())
}

func (r *pendingCache) Delete(ctx context.Context, transactionID string) error {
	return r.c.store.Delete(ctx, pendingTransactionPrefix+transactionID)
}

func (r *pendingCache) List(ctx context.Context) ([]purchase.PendingTransaction, error) {
	keys, err := r.c.store.Keys(ctx, pendingTransactionPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]purchase.PendingTransaction, 0, len(keys))
	for _, k := range keys {
		p, err := r.Get(ctx, strings.TrimPrefix(k, pendingTransactionPrefix))
		if err != nil {
			if errors.Is(err, shared.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TransactionID() < out[j].TransactionID() })
	return out, nil
}
