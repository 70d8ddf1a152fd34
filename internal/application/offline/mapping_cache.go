// Package offline keeps the product entitlement mapping fresh and computes
// CustomerInfo locally when the backend cannot be reached.
package offline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/entitlesync/engine/internal/domain/entitlement"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotAvailable is returned when offline entitlements cannot be used in the current mode
var ErrNotAvailable = errors.New("offline entitlements: not available in observer or custom entitlement computation mode")

const refreshKey = "product_entitlement_mapping"

// Config controls offline entitlement behaviour
type Config struct {
	// MappingTTL is how long a fetched mapping is considered fresh
	MappingTTL time.Duration
	// FetchTimeout bounds a single mapping fetch
	FetchTimeout                 time.Duration
	ObserverMode                 bool
	CustomEntitlementComputation bool
	// Supported is false on platforms without local transaction introspection
	Supported bool
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		MappingTTL:   25 * time.Hour,
		FetchTimeout: 30 * time.Second,
		Supported:    true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MappingTTL <= 0 {
		c.MappingTTL = d.MappingTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = d.FetchTimeout
	}
	return c
}

// MappingCache holds the last fetched product entitlement mapping and
// refreshes it from the backend when its TTL has elapsed
type MappingCache struct {
	repo      entitlement.Repository
	fetcher   purchase.MappingFetcher
	publisher shared.EventPublisher
	clock     shared.Clock
	logger    *zap.Logger
	config    Config

	group singleflight.Group
}

// NewMappingCache creates a new MappingCache
func NewMappingCache(
	repo entitlement.Repository,
	fetcher purchase.MappingFetcher,
	publisher shared.EventPublisher,
	clock shared.Clock,
	logger *zap.Logger,
	config Config,
) *MappingCache {
	if publisher == nil {
		publisher = shared.NopPublisher{}
	}
	if clock == nil {
		clock = shared.SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MappingCache{
		repo:      repo,
		fetcher:   fetcher,
		publisher: publisher,
		clock:     clock,
		logger:    logger.Named("mapping_cache"),
		config:    config.withDefaults(),
	}
}

// Current returns the stored mapping. ok is false when none was ever fetched.
func (c *MappingCache) Current(ctx context.Context) (entitlement.Mapping, bool, error) {
	stored, err := c.repo.Load(ctx)
	if errors.Is(err, shared.ErrNotFound) {
		return entitlement.Mapping{}, false, nil
	}
	if err != nil {
		return entitlement.Mapping{}, false, fmt.Errorf("failed to load entitlement mapping: %w", err)
	}
	return stored.Mapping, true, nil
}

// IsStale reports whether the TTL since the last successful fetch has elapsed.
// A mapping that was never fetched or cannot be read is stale.
func (c *MappingCache) IsStale(ctx context.Context) bool {
	stored, err := c.repo.Load(ctx)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			c.logger.Warn("failed to read stored entitlement mapping", zap.Error(err))
		}
		return true
	}
	return c.clock.Now().Sub(stored.FetchedAt) >= c.config.MappingTTL
}

// RefreshIfStale fetches and stores the mapping when it is stale. It returns
// before any network call when the mapping is fresh. Concurrent callers share
// one fetch; a caller whose ctx ends stops waiting without aborting the fetch.
func (c *MappingCache) RefreshIfStale(ctx context.Context) error {
	if c.config.ObserverMode || c.config.CustomEntitlementComputation {
		return ErrNotAvailable
	}
	if !c.IsStale(ctx) {
		return nil
	}

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.FetchTimeout)
		defer cancel()
		return nil, c.refresh(fetchCtx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *MappingCache) refresh(ctx context.Context) error {
	mapping, err := c.fetcher.GetProductEntitlementMapping(ctx)
	now := c.clock.Now()
	if err != nil {
		c.logger.Warn("entitlement mapping refresh failed", zap.Error(err))
		c.publish(ctx, entitlement.NewMappingRefreshFailedEvent(err, now))
		return fmt.Errorf("failed to fetch entitlement mapping: %w", err)
	}

	if err := c.repo.Save(ctx, mapping, now); err != nil {
		c.logger.Error("failed to store entitlement mapping", zap.Error(err))
		c.publish(ctx, entitlement.NewMappingRefreshFailedEvent(err, now))
		return fmt.Errorf("failed to store entitlement mapping: %w", err)
	}

	c.logger.Debug("entitlement mapping refreshed", zap.Int("products", mapping.Len()))
	c.publish(ctx, entitlement.NewMappingRefreshedEvent(mapping, now))
	return nil
}

func (c *MappingCache) publish(ctx context.Context, e shared.DomainEvent) {
	if err := c.publisher.Publish(ctx, e); err != nil {
		c.logger.Warn("failed to publish event", zap.String("event_type", e.EventType()), zap.Error(err))
	}
}
