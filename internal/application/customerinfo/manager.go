package customerinfo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNotCached is returned by FromCacheOnly when nothing is cached for the user
var ErrNotCached = errors.New("customer info: nothing cached for app user")

// FetchPolicy selects how CustomerInfo trades freshness for latency
type FetchPolicy int

const (
	// CachedOrFetched returns the cached value and refreshes it in the background when stale
	CachedOrFetched FetchPolicy = iota
	// FetchCurrent always asks the backend
	FetchCurrent
	// NotStaleCachedOrFetched returns the cached value only while it is fresh
	NotStaleCachedOrFetched
	// FromCacheOnly never touches the network
	FromCacheOnly
)

// String returns the policy name
func (p FetchPolicy) String() string {
	switch p {
	case CachedOrFetched:
		return "cached_or_fetched"
	case FetchCurrent:
		return "fetch_current"
	case NotStaleCachedOrFetched:
		return "not_stale_cached_or_fetched"
	case FromCacheOnly:
		return "from_cache_only"
	}
	return "unknown"
}

// ParseFetchPolicy parses a policy name, defaulting to CachedOrFetched
func ParseFetchPolicy(s string) FetchPolicy {
	for _, p := range []FetchPolicy{FetchCurrent, NotStaleCachedOrFetched, FromCacheOnly} {
		if p.String() == s {
			return p
		}
	}
	return CachedOrFetched
}

// Config holds cache TTLs
type Config struct {
	CacheTTL           time.Duration
	BackgroundCacheTTL time.Duration
	FetchTimeout       time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		CacheTTL:           5 * time.Minute,
		BackgroundCacheTTL: 25 * time.Hour,
		FetchTimeout:       30 * time.Second,
	}
}

// Manager fetches CustomerInfo through the ResponseHandler and caches it.
//
// Authoritative values are persisted. Offline computed values are only held in
// memory until the next authoritative value replaces them.
type Manager struct {
	fetcher purchase.CustomerInfoFetcher
	handler *ResponseHandler
	repo    customer.Repository
	clock   shared.Clock
	logger  *zap.Logger
	config  Config

	mu      sync.RWMutex
	offline map[string]customer.CustomerInfo

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewManager creates a new Manager
func NewManager(
	fetcher purchase.CustomerInfoFetcher,
	handler *ResponseHandler,
	repo customer.Repository,
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
	d := DefaultConfig()
	if config.CacheTTL <= 0 {
		config.CacheTTL = d.CacheTTL
	}
	if config.BackgroundCacheTTL <= 0 {
		config.BackgroundCacheTTL = d.BackgroundCacheTTL
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = d.FetchTimeout
	}
	return &Manager{
		fetcher: fetcher,
		handler: handler,
		repo:    repo,
		clock:   clock,
		logger:  logger.Named("customer_info"),
		config:  config,
		offline: make(map[string]customer.CustomerInfo),
	}
}

// Handler returns the response handler
func (m *Manager) Handler() *ResponseHandler {
	return m.handler
}

// CustomerInfo returns CustomerInfo for the user according to policy
func (m *Manager) CustomerInfo(ctx context.Context, appUserID string, policy FetchPolicy) (customer.CustomerInfo, error) {
	switch policy {
	case FetchCurrent:
		return m.FetchAndCache(ctx, appUserID)

	case FromCacheOnly:
		if info, ok := m.Cached(ctx, appUserID); ok {
			return info, nil
		}
		return customer.CustomerInfo{}, ErrNotCached

	case NotStaleCachedOrFetched:
		if info, ok := m.Cached(ctx, appUserID); ok && !m.IsStale(ctx, appUserID, false) {
			return info, nil
		}
		return m.FetchAndCache(ctx, appUserID)

	default:
		info, ok := m.Cached(ctx, appUserID)
		if !ok {
			return m.FetchAndCache(ctx, appUserID)
		}
		if m.IsStale(ctx, appUserID, false) {
			m.refreshInBackground(ctx, appUserID)
		}
		return info, nil
	}
}

// FetchAndCache asks the backend for CustomerInfo and caches the resolved value.
// Concurrent fetches for one user share a single backend call.
func (m *Manager) FetchAndCache(ctx context.Context, appUserID string) (customer.CustomerInfo, error) {
	ch := m.group.DoChan(appUserID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.FetchTimeout)
		defer cancel()

		resp, err := m.fetcher.GetCustomerInfo(fetchCtx, appUserID)
		info, err := m.handler.Handle(fetchCtx, appUserID, resp, err)
		if err != nil {
			return customer.CustomerInfo{}, err
		}
		if err := m.Cache(fetchCtx, info); err != nil {
			m.logger.Warn("failed to cache customer info", zap.String("app_user_id", appUserID), zap.Error(err))
		}
		return info, nil
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

// Cache stores info as the latest value for its user. Offline computed values
// stay in memory; anything else is persisted and supersedes them.
func (m *Manager) Cache(ctx context.Context, info customer.CustomerInfo) error {
	if info.AppUserID == "" {
		return fmt.Errorf("customer info: %w", shared.ErrInvalidInput)
	}

	if info.IsComputedOffline() {
		m.mu.Lock()
		m.offline[info.AppUserID] = info
		m.mu.Unlock()
		return nil
	}

	if err := m.repo.Save(ctx, info, m.clock.Now()); err != nil {
		return fmt.Errorf("failed to persist customer info: %w", err)
	}
	m.mu.Lock()
	delete(m.offline, info.AppUserID)
	m.mu.Unlock()
	return nil
}

// Cached returns the best value held locally without touching the network.
// Persisted values are tagged as loaded from cache.
func (m *Manager) Cached(ctx context.Context, appUserID string) (customer.CustomerInfo, bool) {
	m.mu.RLock()
	info, ok := m.offline[appUserID]
	m.mu.RUnlock()
	if ok {
		return info, true
	}

	cached, err := m.repo.Load(ctx, appUserID)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			m.logger.Warn("failed to read cached customer info", zap.String("app_user_id", appUserID), zap.Error(err))
		}
		return customer.CustomerInfo{}, false
	}
	return cached.Info.WithOrigin(customer.OriginCache), true
}

// IsStale reports whether the persisted value for the user is older than the
// foreground or background TTL. Offline values are always stale.
func (m *Manager) IsStale(ctx context.Context, appUserID string, background bool) bool {
	m.mu.RLock()
	_, offline := m.offline[appUserID]
	m.mu.RUnlock()
	if offline {
		return true
	}

	cached, err := m.repo.Load(ctx, appUserID)
	if err != nil {
		return true
	}
	ttl := m.config.CacheTTL
	if background {
		ttl = m.config.BackgroundCacheTTL
	}
	return m.clock.Now().Sub(cached.CachedAt) >= ttl
}

// Clear drops every cached value for the user
func (m *Manager) Clear(ctx context.Context, appUserID string) error {
	m.mu.Lock()
	delete(m.offline, appUserID)
	m.mu.Unlock()
	return m.repo.Clear(ctx, appUserID)
}

// Wait blocks until background refreshes finish
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) refreshInBackground(ctx context.Context, appUserID string) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if _, err := m.FetchAndCache(context.WithoutCancel(ctx), appUserID); err != nil {
			m.logger.Debug("background customer info refresh failed",
				zap.String("app_user_id", appUserID),
				zap.Error(err))
		}
	}()
}
