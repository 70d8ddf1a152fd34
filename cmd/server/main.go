package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/entitlesync/engine/internal/application/attributesync"
	"github.com/entitlesync/engine/internal/application/customerinfo"
	"github.com/entitlesync/engine/internal/application/offline"
	"github.com/entitlesync/engine/internal/application/purchasing"
	"github.com/entitlesync/engine/internal/application/transaction"
	"github.com/entitlesync/engine/internal/domain/customer"
	"github.com/entitlesync/engine/internal/domain/purchase"
	"github.com/entitlesync/engine/internal/domain/shared"
	"github.com/entitlesync/engine/internal/infrastructure/backend"
	"github.com/entitlesync/engine/internal/infrastructure/cache"
	"github.com/entitlesync/engine/internal/infrastructure/config"
	"github.com/entitlesync/engine/internal/infrastructure/event"
	"github.com/entitlesync/engine/internal/infrastructure/logger"
	"github.com/entitlesync/engine/internal/infrastructure/migration"
	"github.com/entitlesync/engine/internal/infrastructure/persistence"
	"github.com/entitlesync/engine/internal/infrastructure/scheduler"
	"github.com/entitlesync/engine/internal/infrastructure/store"
	"github.com/entitlesync/engine/internal/infrastructure/telemetry"
	"github.com/entitlesync/engine/internal/interfaces/http/handler"
	"github.com/entitlesync/engine/internal/interfaces/http/middleware"
	"github.com/entitlesync/engine/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	baseLog, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Telemetry
	tracerProvider, err := telemetry.NewTracerProvider(ctx, telemetry.Config{
		Enabled:           cfg.Telemetry.Enabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		SamplingRatio:     cfg.Telemetry.SamplingRatio,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, telemetry.LogsConfig{
		Enabled:           cfg.Telemetry.LogsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, baseLog)
	if err != nil {
		baseLog.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	log := loggerProvider.Bridge(baseLog, logger.ParseLevel(cfg.Log.Level))
	defer func() {
		_ = log.Sync()
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, telemetry.MetricsConfig{
		Enabled:           cfg.Telemetry.MetricsEnabled,
		CollectorEndpoint: cfg.Telemetry.CollectorEndpoint,
		ExportInterval:    cfg.Telemetry.MetricsExportInterval,
		ServiceName:       cfg.Telemetry.ServiceName,
		Insecure:          cfg.Telemetry.Insecure,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	var meter metric.Meter
	if meterProvider.IsEnabled() {
		meter = meterProvider.Meter(cfg.Telemetry.ServiceName)
	}

	profiler, err := telemetry.NewProfiler(telemetry.ProfilerConfig{
		Enabled:         cfg.Telemetry.ProfilingEnabled,
		ServerAddress:   cfg.Telemetry.ProfilerAddress,
		ApplicationName: cfg.Telemetry.ServiceName,
	}, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	log.Info("Starting entitlement sync engine",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
		zap.String("store_kind", cfg.Purchases.StoreKind),
		zap.String("cache_driver", cfg.Cache.Driver),
	)

	// Device cache
	factoryOpts := []cache.StoreFactoryOption{cache.WithLogger(log)}
	var dbMetrics *telemetry.DBMetrics
	if cfg.Cache.Driver == config.CacheDriverSQL {
		db, metrics, err := openDeviceCacheDB(ctx, cfg, meter, log)
		if err != nil {
			log.Fatal("Failed to open device cache database", zap.Error(err))
		}
		dbMetrics = metrics
		factoryOpts = append(factoryOpts, cache.WithSQLStore(persistence.NewKeyValueRepository(db.DB)))
	}

	stores, err := cache.NewStoreFactory(cfg.Cache, cfg.Redis, factoryOpts...).CreateStores(ctx)
	if err != nil {
		log.Fatal("Failed to create device cache", zap.Error(err))
	}
	defer func() {
		if err := stores.Close(); err != nil {
			log.Error("Error closing device cache", zap.Error(err))
		}
	}()

	clock := shared.SystemClock{}
	deviceCache := cache.NewDeviceCache(stores.KeyValue, clock)

	// Events
	bus := event.NewInMemoryEventBus(log)
	logHandler := event.NewLogHandler(log)
	bus.Subscribe(logHandler, logHandler.EventTypes()...)
	recentEvents := event.NewRecorder(256)
	bus.Subscribe(recentEvents)
	if err := bus.Start(ctx); err != nil {
		log.Fatal("Failed to start event bus", zap.Error(err))
	}

	// Backend
	verification, err := backend.ParseVerificationMode(cfg.Backend.VerificationMode)
	if err != nil {
		log.Fatal("Invalid verification mode", zap.Error(err))
	}
	client, err := backend.NewClient(backend.Config{
		BaseURL:            cfg.Backend.BaseURL,
		APIKey:             cfg.Backend.APIKey,
		Timeout:            cfg.Backend.Timeout,
		VerificationMode:   verification,
		VerificationHeader: cfg.Backend.VerificationHeader,
		UserAgent:          cfg.App.Name + "/" + handler.Version,
	}, log)
	if err != nil {
		log.Fatal("Failed to create backend client", zap.Error(err))
	}

	identity := currentIdentity(cfg.Purchases.AppUserID)
	log.Info("Current app user", zap.String("app_user_id", identity.CurrentAppUserID()))

	route, finisher, products := buildStoreRoute(cfg.Purchases.StoreKind, log)

	// Application services
	offlineCfg := offline.Config{
		MappingTTL:                   cfg.Cache.MappingTTL,
		ObserverMode:                 cfg.Purchases.ObserverMode,
		CustomEntitlementComputation: cfg.Purchases.CustomEntitlementComputation,
		Supported:                    cfg.Purchases.OfflineEntitlements,
	}
	mappings := offline.NewMappingCache(deviceCache.Mappings(), client, bus, clock, log, offlineCfg)
	offlineManager := offline.NewManager(mappings, products, deviceCache.Customers(), clock, log, offlineCfg)

	customers := customerinfo.NewManager(
		client,
		customerinfo.NewResponseHandler(offlineManager, bus, clock, log),
		deviceCache.Customers(),
		clock,
		log,
		customerinfo.Config{
			CacheTTL:           cfg.Cache.CustomerInfoTTL,
			BackgroundCacheTTL: cfg.Cache.CustomerInfoBackgroundTTL,
		},
	)

	postCfg := transaction.DefaultConfig()
	postCfg.FinishTransactions = cfg.Purchases.FinishTransactions
	if cfg.Cache.FinishedTransactionTTL > 0 {
		postCfg.FinishedTTL = cfg.Cache.FinishedTransactionTTL
	}
	poster := transaction.NewPoster(client, finisher, customers, deviceCache.PendingTransactions(), stores.Idempotency, bus, clock, log, postCfg)

	coordinator := purchasing.NewCoordinator(route, poster, customers, identity, clock, log, purchasing.Config{
		ObserverMode: cfg.Purchases.ObserverMode,
	})

	if meter != nil {
		purchaseMetrics, err := telemetry.NewPurchaseMetrics(telemetry.PurchaseMetricsConfig{
			Meter:           meter,
			Logger:          log,
			PendingProvider: deviceCache,
		})
		if err != nil {
			log.Warn("Purchase metrics unavailable", zap.Error(err))
		} else {
			coordinator.SetMetrics(purchaseMetrics)
			poster.SetMetrics(purchaseMetrics)
		}
	}

	attributes := attributesync.NewSynchronizer(deviceCache.Attributes(), client, identity, bus, clock, log)

	// Background sync
	jobs := scheduler.SyncJobs(scheduler.Dependencies{
		Mappings:     mappings,
		Transactions: poster,
		Attributes:   attributes,
		CustomerInfo: customers,
		Identity:     identity,
	}, scheduler.Intervals{
		Mapping:      cfg.Sync.MappingInterval,
		Transactions: cfg.Sync.TransactionsInterval,
		Attributes:   cfg.Sync.AttributesInterval,
		CustomerInfo: cfg.Sync.CustomerInfoInterval,
	}, log)

	syncScheduler, err := scheduler.NewScheduler(scheduler.Config{
		Enabled:    cfg.Sync.Enabled,
		JobTimeout: cfg.Sync.JobTimeout,
	}, log, jobs)
	if err != nil {
		log.Fatal("Failed to create sync scheduler", zap.Error(err))
	}

	// HTTP
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine, err := router.NewEngine(router.EngineConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		Tracing:        tracerProvider.IsEnabled(),
		Profiling:      profiler.IsEnabled(),
		Meter:          meter,
		MaxBodySize:    cfg.HTTP.MaxBodySize,
		RequestTimeout: cfg.HTTP.WriteTimeout,
		TrustedProxies: cfg.HTTP.TrustedProxies,
	}, log)
	if err != nil {
		log.Fatal("Failed to build HTTP engine", zap.Error(err))
	}

	systemHandler := handler.NewSystemHandler(string(coordinator.Route()))
	engine.GET("/healthz", systemHandler.Health)

	syncGuard := middleware.RateLimit(middleware.NewRateLimiter(6, time.Minute))
	router.NewRouter(engine).
		Register(handler.NewPurchaseHandler(coordinator)).
		Register(handler.NewCustomerHandler(customers, attributes)).
		Register(handler.NewSyncHandler(syncScheduler, syncGuard)).
		Register(handler.NewEventsHandler(recentEvents)).
		Setup()

	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	if err := syncScheduler.Start(ctx); err != nil {
		log.Fatal("Failed to start sync scheduler", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
		if err := syncScheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("sync scheduler: %w", err))
		}
		customers.Wait()
		if err := bus.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error("Shutdown completed with errors", zap.Error(err))
	}

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if dbMetrics != nil {
		dbMetrics.Stop()
	}
	if err := profiler.Stop(); err != nil {
		log.Warn("Error stopping profiler", zap.Error(err))
	}
	if err := meterProvider.Shutdown(flushCtx); err != nil {
		log.Warn("Error shutting down meter provider", zap.Error(err))
	}
	if err := tracerProvider.Shutdown(flushCtx); err != nil {
		log.Warn("Error shutting down tracer provider", zap.Error(err))
	}
	log.Info("Server exited gracefully")
	if err := loggerProvider.Shutdown(flushCtx); err != nil {
		baseLog.Warn("Error shutting down logger provider", zap.Error(err))
	}
}

// openDeviceCacheDB connects the sql cache driver, instruments it and brings
// its schema up to date. Postgres uses the versioned migrations; sqlite is
// auto-migrated.
func openDeviceCacheDB(ctx context.Context, cfg *config.Config, meter metric.Meter, log *zap.Logger) (*persistence.Database, *telemetry.DBMetrics, error) {
	var plugins []gorm.Plugin
	if cfg.Telemetry.DBTraceEnabled {
		traceCfg := telemetry.DefaultDBTracingConfig()
		traceCfg.DBSystem = cfg.Database.Driver
		traceCfg.LogFullSQL = cfg.App.Env == "development"
		plugins = append(plugins, telemetry.NewDBTracingPlugin(traceCfg, log))
	}
	var dbMetrics *telemetry.DBMetrics
	if meter != nil {
		m, err := telemetry.NewDBMetrics(meter, telemetry.DBMetricsConfig{}, log)
		if err != nil {
			log.Warn("Database metrics unavailable", zap.Error(err))
		} else {
			dbMetrics = m
			plugins = append(plugins, m)
		}
	}

	db, err := persistence.NewDatabase(&cfg.Database,
		persistence.WithGormLogger(logger.NewGormLogger(log, logger.MapGormLogLevel(cfg.Log.Level))),
		persistence.WithPlugins(plugins...),
	)
	if err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.DB.DB()
	if err != nil {
		return nil, nil, err
	}

	switch cfg.Database.Driver {
	case config.DatabaseDriverPostgres:
		m, err := migration.New(sqlDB, log)
		if err != nil {
			return nil, nil, err
		}
		if err := m.Up(); err != nil {
			return nil, nil, fmt.Errorf("device cache migrations: %w", err)
		}
	default:
		if err := db.AutoMigrate(); err != nil {
			return nil, nil, fmt.Errorf("device cache auto-migrate: %w", err)
		}
	}

	if dbMetrics != nil {
		dbMetrics.StartPoolStatsCollection(ctx, sqlDB)
	}
	log.Info("Device cache database connected", zap.String("driver", db.Driver))
	return db, dbMetrics, nil
}

// buildStoreRoute picks where purchases go. Only the simulated store can
// finish transactions and report purchased products from inside this process.
func buildStoreRoute(kind string, log *zap.Logger) (purchasing.StoreRoute, purchase.TransactionFinisher, purchase.PurchasedProductsFetcher) {
	switch kind {
	case config.StoreKindSimulated:
		sim := store.NewSimulatedStore(store.WithLogger(log))
		return purchasing.SimulatedRoute(sim), sim, sim
	case config.StoreKindNative:
		log.Warn("No native store adapter is linked into this process, purchases will be rejected")
		return purchasing.UnsupportedRoute("native store adapter not available"), nil, nil
	default:
		return purchasing.UnsupportedRoute("purchases are not supported with this configuration"), nil, nil
	}
}

func currentIdentity(appUserID string) customer.Identity {
	if appUserID == "" {
		return customer.NewAnonymousIdentity()
	}
	return customer.StaticIdentity(appUserID)
}
