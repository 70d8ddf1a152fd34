package offline

import (
	"context"
	"errors"
	"fmt"

	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"go.uber.org/zap"
)

// ErrMappingUnavailable is returned by Creator.Create when no mapping was ever fetched
var ErrMappingUnavailable = errors.New("offline entitlements: no product entitlement mapping cached")

// CustomerInfoCreator computes CustomerInfo from local data
type CustomerInfoCreator interface {
	Create(ctx context.Context, appUserID string) (customer.CustomerInfo, error)
}

// Manager decides whether offline CustomerInfo may be computed and hands out creators
type Manager struct {
	mappings  *MappingCache
	products  purchase.PurchasedProductsFetcher
	customers customer.Repository
	clock     shared.Clock
	logger    *zap.Logger
	config    Config
}

// NewManager creates a new Manager. products may be nil when the platform
// cannot read local transactions.
func NewManager(
	mappings *MappingCache,
	products purchase.PurchasedProductsFetcher,
	customers customer.Repository,
	clock shared.Clock,
	logger *zap.Logger,
	config Config,
) *Manager {
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		mappings:  mappings,
		products:  products,
		customers: customers,
		clock:     clock,
		logger:    logger.Named("offline_entitlements"),
		config:    config.withDefaults(),
	}
}

// Mappings returns the mapping cache
func (m *Manager) Mappings() *MappingCache {
	return m.mappings
}

// CreatorIfAvailable returns a creator, or false when offline computation can
// never succeed in this configuration. Absence is not an error.
func (m *Manager) CreatorIfAvailable() (CustomerInfoCreator, bool) {
	if m.products == nil || !m.config.Supported || m.config.ObserverMode || m.config.CustomEntitlementComputation {
		return nil, false
	}
	return &Creator{mappings: m.mappings, products: m.products, clock: m.clock}, true
}

// ShouldComputeOffline is false once an authoritative CustomerInfo is cached
// for the user; offline computation only fills the gap when there is none.
func (m *Manager) ShouldComputeOffline(ctx context.Context, appUserID string) bool {
	if m.config.CustomEntitlementComputation {
		return false
	}
	cached, err := m.customers.Load(ctx, appUserID)
	if errors.Is(err, shared.ErrNotFound) {
		return true
	}
	if err != nil {
		m.logger.Warn("failed to read cached customer info",
			zap.String("app_user_id", appUserID),
			zap.Error(err))
		return true
	}
	return cached.Info.IsComputedOffline()
}

// Creator computes CustomerInfo from the device's purchases and the cached mapping
type Creator struct {
	mappings *MappingCache
	products purchase.PurchasedProductsFetcher
	clock    shared.Clock
}

// Create fetches purchased products and builds an offline CustomerInfo.
// An empty mapping is valid and yields no entitlements.
func (c *Creator) Create(ctx context.Context, appUserID string) (customer.CustomerInfo, error) {
	mapping, ok, err := c.mappings.Current(ctx)
	if err != nil {
		return customer.CustomerInfo{}, err
	}
	if !ok {
		return customer.CustomerInfo{}, ErrMappingUnavailable
	}

	products, err := c.products.CurrentlyPurchasedProducts(ctx)
	if err != nil {
		return customer.CustomerInfo{}, fmt.Errorf("failed to read purchased products: %w", err)
	}

	return customer.BuildOffline(products, mapping, appUserID, c.clock.Now()), nil
}

var _ CustomerInfoCreator = (*Creator)(nil)
