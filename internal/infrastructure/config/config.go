package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration
type Config struct {
	App       AppConfig
	Purchases PurchasesConfig
	Backend   BackendConfig
	Cache     CacheConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Sync      SyncConfig
	Telemetry TelemetryConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// Store routes
const (
	StoreKindNative      = "native"
	StoreKindSimulated   = "simulated"
	StoreKindUnsupported = "unsupported"
)

// PurchasesConfig controls purchase coordination behaviour
type PurchasesConfig struct {
	// AppUserID is the current user; an anonymous id is generated when empty
	AppUserID                    string
	StoreKind                    string // native, simulated, unsupported
	ObserverMode                 bool
	CustomEntitlementComputation bool
	FinishTransactions           bool
	// OfflineEntitlements enables computing CustomerInfo locally during backend outages
	OfflineEntitlements bool
}

// Verification modes
const (
	VerificationDisabled      = "disabled"
	VerificationInformational = "informational"
	VerificationEnforced      = "enforced"
)

// BackendConfig holds entitlement backend client settings
type BackendConfig struct {
	BaseURL            string
	APIKey             string
	Timeout            time.Duration
	VerificationMode   string // disabled, informational, enforced
	VerificationHeader string
}

// Cache drivers
const (
	CacheDriverMemory = "memory"
	CacheDriverRedis  = "redis"
	CacheDriverSQL    = "sql"
)

// Database drivers
const (
	DatabaseDriverSQLite   = "sqlite"
	DatabaseDriverPostgres = "postgres"
)

// CacheConfig holds device cache settings
type CacheConfig struct {
	Driver                    string // memory, redis, sql
	CustomerInfoTTL           time.Duration
	CustomerInfoBackgroundTTL time.Duration
	MappingTTL                time.Duration
	FinishedTransactionTTL    time.Duration
	FallbackToMemory          bool
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host      string
	Port      int
	Password  string
	DB        int
	KeyPrefix string
}

// DatabaseConfig holds database connection settings for the sql cache driver
type DatabaseConfig struct {
	Driver          string // sqlite, postgres
	Path            string // sqlite file, ":memory:" allowed
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// HTTPConfig holds sidecar HTTP server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodySize    int64
	TrustedProxies []string
}

// SyncConfig holds background sync scheduler configuration
type SyncConfig struct {
	Enabled              bool
	TransactionsInterval time.Duration
	AttributesInterval   time.Duration
	MappingInterval      time.Duration
	CustomerInfoInterval time.Duration
	JobTimeout           time.Duration
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled               bool    // Whether to enable tracing
	CollectorEndpoint     string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio         float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName           string
	Insecure              bool // Use insecure (non-TLS) connection (development only)
	MetricsEnabled        bool
	MetricsExportInterval time.Duration
	LogsEnabled           bool
	DBTraceEnabled        bool
	ProfilingEnabled      bool
	ProfilerAddress       string
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ENTITLESYNC_ prefix (e.g., ENTITLESYNC_BACKEND_API_KEY)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/entitlesync")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ENTITLESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to true cannot be detected as "empty" later
	v.SetDefault("purchases.finish_transactions", true)
	v.SetDefault("purchases.offline_entitlements", true)
	v.SetDefault("cache.fallback_to_memory", true)
	v.SetDefault("sync.enabled", true)

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Purchases: PurchasesConfig{
			AppUserID:                    v.GetString("purchases.app_user_id"),
			StoreKind:                    v.GetString("purchases.store_kind"),
			ObserverMode:                 v.GetBool("purchases.observer_mode"),
			CustomEntitlementComputation: v.GetBool("purchases.custom_entitlement_computation"),
			FinishTransactions:           v.GetBool("purchases.finish_transactions"),
			OfflineEntitlements:          v.GetBool("purchases.offline_entitlements"),
		},
		Backend: BackendConfig{
			BaseURL:            v.GetString("backend.base_url"),
			APIKey:             v.GetString("backend.api_key"),
			Timeout:            v.GetDuration("backend.timeout"),
			VerificationMode:   v.GetString("backend.verification_mode"),
			VerificationHeader: v.GetString("backend.verification_header"),
		},
		Cache: CacheConfig{
			Driver:                    v.GetString("cache.driver"),
			CustomerInfoTTL:           v.GetDuration("cache.customer_info_ttl"),
			CustomerInfoBackgroundTTL: v.GetDuration("cache.customer_info_background_ttl"),
			MappingTTL:                v.GetDuration("cache.mapping_ttl"),
			FinishedTransactionTTL:    v.GetDuration("cache.finished_transaction_ttl"),
			FallbackToMemory:          v.GetBool("cache.fallback_to_memory"),
		},
		Redis: RedisConfig{
			Host:      v.GetString("redis.host"),
			Port:      v.GetInt("redis.port"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Path:            v.GetString("database.path"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			MaxBodySize:    v.GetInt64("http.max_body_size"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Sync: SyncConfig{
			Enabled:              v.GetBool("sync.enabled"),
			TransactionsInterval: v.GetDuration("sync.transactions_interval"),
			AttributesInterval:   v.GetDuration("sync.attributes_interval"),
			MappingInterval:      v.GetDuration("sync.mapping_interval"),
			CustomerInfoInterval: v.GetDuration("sync.customer_info_interval"),
			JobTimeout:           v.GetDuration("sync.job_timeout"),
		},
		Telemetry: TelemetryConfig{
			Enabled:               v.GetBool("telemetry.enabled"),
			CollectorEndpoint:     v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:         v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:           v.GetString("telemetry.service_name"),
			Insecure:              v.GetBool("telemetry.insecure"),
			MetricsEnabled:        v.GetBool("telemetry.metrics_enabled"),
			MetricsExportInterval: v.GetDuration("telemetry.metrics_export_interval"),
			LogsEnabled:           v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:        v.GetBool("telemetry.db_trace_enabled"),
			ProfilingEnabled:      v.GetBool("telemetry.profiling_enabled"),
			ProfilerAddress:       v.GetString("telemetry.profiler_address"),
		},
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "entitlesync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Purchases.StoreKind == "" {
		cfg.Purchases.StoreKind = StoreKindSimulated
	}
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = "http://localhost:8081"
	}
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.Backend.VerificationMode == "" {
		cfg.Backend.VerificationMode = VerificationDisabled
	}
	if cfg.Backend.VerificationHeader == "" {
		cfg.Backend.VerificationHeader = "X-Signature-Verification"
	}
	if cfg.Cache.Driver == "" {
		cfg.Cache.Driver = CacheDriverMemory
	}
	if cfg.Cache.CustomerInfoTTL == 0 {
		cfg.Cache.CustomerInfoTTL = 5 * time.Minute
	}
	if cfg.Cache.CustomerInfoBackgroundTTL == 0 {
		cfg.Cache.CustomerInfoBackgroundTTL = 25 * time.Hour
	}
	if cfg.Cache.MappingTTL == 0 {
		cfg.Cache.MappingTTL = 25 * time.Hour
	}
	if cfg.Cache.FinishedTransactionTTL == 0 {
		cfg.Cache.FinishedTransactionTTL = 72 * time.Hour
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "entitlesync:"
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DatabaseDriverSQLite
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "entitlesync.db"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "entitlesync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		// Purchases block on the store and a receipt post
		cfg.HTTP.WriteTimeout = 90 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}
	if cfg.HTTP.MaxBodySize == 0 {
		cfg.HTTP.MaxBodySize = 1 << 20 // 1MB
	}
	if cfg.Sync.TransactionsInterval == 0 {
		cfg.Sync.TransactionsInterval = 5 * time.Minute
	}
	if cfg.Sync.AttributesInterval == 0 {
		cfg.Sync.AttributesInterval = time.Minute
	}
	if cfg.Sync.MappingInterval == 0 {
		cfg.Sync.MappingInterval = time.Hour
	}
	if cfg.Sync.CustomerInfoInterval == 0 {
		cfg.Sync.CustomerInfoInterval = 15 * time.Minute
	}
	if cfg.Sync.JobTimeout == 0 {
		cfg.Sync.JobTimeout = 2 * time.Minute
	}
	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317" // Default gRPC endpoint
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "entitlesync"
	}
	if cfg.Telemetry.MetricsExportInterval == 0 {
		cfg.Telemetry.MetricsExportInterval = 60 * time.Second
	}
	if cfg.Telemetry.ProfilerAddress == "" {
		cfg.Telemetry.ProfilerAddress = "http://localhost:4040"
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Purchases.StoreKind {
	case StoreKindNative, StoreKindSimulated, StoreKindUnsupported:
	default:
		return fmt.Errorf("purchases.store_kind must be one of native, simulated, unsupported; got %q", c.Purchases.StoreKind)
	}

	switch c.Backend.VerificationMode {
	case VerificationDisabled, VerificationInformational, VerificationEnforced:
	default:
		return fmt.Errorf("backend.verification_mode must be one of disabled, informational, enforced; got %q", c.Backend.VerificationMode)
	}

	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url is invalid: %w", err)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("backend.timeout cannot be negative")
	}

	switch c.Cache.Driver {
	case CacheDriverMemory, CacheDriverRedis, CacheDriverSQL:
	default:
		return fmt.Errorf("cache.driver must be one of memory, redis, sql; got %q", c.Cache.Driver)
	}

	if c.Cache.Driver == CacheDriverSQL {
		switch c.Database.Driver {
		case DatabaseDriverSQLite, DatabaseDriverPostgres:
		default:
			return fmt.Errorf("database.driver must be sqlite or postgres; got %q", c.Database.Driver)
		}
	}

	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Backend.APIKey == "" {
			return fmt.Errorf("backend.api_key is required in production")
		}
		if !strings.HasPrefix(c.Backend.BaseURL, "https://") {
			return fmt.Errorf("backend.base_url must use https in production")
		}
		if c.Purchases.StoreKind == StoreKindSimulated {
			return fmt.Errorf("purchases.store_kind cannot be 'simulated' in production")
		}
		if c.Cache.Driver == CacheDriverSQL && c.Database.Driver == DatabaseDriverPostgres && c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr returns the Redis address in host:port form
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
