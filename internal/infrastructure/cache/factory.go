package cache

import (
	"context"
	"fmt"

	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Stores is the pair of stores backing the device cache
type Stores struct {
	KeyValue    shared.KeyValueStore
	Idempotency shared.IdempotencyStore
	// Driver is the driver actually in use after any fallback
	Driver string
}

// Close closes both stores
func (s *Stores) Close() error {
	idemErr := s.Idempotency.Close()
	if err := s.KeyValue.Close(); err != nil {
		return err
	}
	return idemErr
}

// StoreFactory creates device cache stores based on configuration
type StoreFactory struct {
	cacheConfig config.CacheConfig
	redisConfig config.RedisConfig
	sqlStore    shared.KeyValueStore
	logger      *zap.Logger
}

// StoreFactoryOption is a functional option for configuring the factory
type StoreFactoryOption func(*StoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.logger = logger
	}
}

// WithSQLStore provides the store used by the sql driver
func WithSQLStore(store shared.KeyValueStore) StoreFactoryOption {
	return func(f *StoreFactory) {
		f.sqlStore = store
	}
}

// NewStoreFactory creates a new factory
func NewStoreFactory(cacheCfg config.CacheConfig, redisCfg config.RedisConfig, opts ...StoreFactoryOption) *StoreFactory {
	f := &StoreFactory{
		cacheConfig: cacheCfg,
		redisConfig: redisCfg,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateInMemoryStores creates process-local stores.
// Nothing survives a restart, so cached customer info and pending
// transactions are lost with the process.
func (f *StoreFactory) CreateInMemoryStores() *Stores {
	return &Stores{
		KeyValue:    NewInMemoryStore(),
		Idempotency: NewInMemoryIdempotencyStore(),
		Driver:      config.CacheDriverMemory,
	}
}

// CreateRedisStores creates Redis-backed stores sharing one client
func (f *StoreFactory) CreateRedisStores(ctx context.Context) (*Stores, error) {
	client, err := NewRedisClient(ctx, RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Redis store: %w", err)
	}

	return &Stores{
		KeyValue:    NewTieredStore(NewRedisStore(client, f.redisConfig.KeyPrefix), f.logger),
		Idempotency: NewRedisIdempotencyStore(client, f.redisConfig.KeyPrefix),
		Driver:      config.CacheDriverRedis,
	}, nil
}

// CreateSQLStores wraps the configured SQL store
func (f *StoreFactory) CreateSQLStores() (*Stores, error) {
	if f.sqlStore == nil {
		return nil, fmt.Errorf("sql cache driver selected but no SQL store configured")
	}
	return &Stores{
		KeyValue:    NewTieredStore(f.sqlStore, f.logger),
		Idempotency: NewInMemoryIdempotencyStore(),
		Driver:      config.CacheDriverSQL,
	}, nil
}

// CreateStores creates stores for the configured driver. When the driver is
// unavailable and FallbackToMemory is set, in-memory stores are returned instead.
func (f *StoreFactory) CreateStores(ctx context.Context) (*Stores, error) {
	var (
		stores *Stores
		err    error
	)
	switch f.cacheConfig.Driver {
	case config.CacheDriverMemory, "":
		return f.CreateInMemoryStores(), nil
	case config.CacheDriverRedis:
		stores, err = f.CreateRedisStores(ctx)
	case config.CacheDriverSQL:
		stores, err = f.CreateSQLStores()
	default:
		return nil, fmt.Errorf("unknown cache driver %q", f.cacheConfig.Driver)
	}
	if err == nil {
		f.logger.Info("device cache ready", zap.String("driver", stores.Driver))
		return stores, nil
	}

	if !f.cacheConfig.FallbackToMemory {
		return nil, fmt.Errorf("%s device cache required but unavailable: %w", f.cacheConfig.Driver, err)
	}

	f.logger.Warn("device cache driver unavailable, falling back to in-memory store. "+
		"Cached customer info and pending transactions will not survive a restart.",
		zap.String("driver", f.cacheConfig.Driver),
		zap.Error(err),
	)
	return f.CreateInMemoryStores(), nil
}
