package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig holds database tracing configuration
type DBTracingConfig struct {
	// LogFullSQL keeps bound variables in span statements; development only
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DefaultDBTracingConfig returns tracing defaults for the device cache store
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "sqlite",
	}
}

// DBTracingPlugin is a gorm plugin that installs otelgorm and annotates its
// spans with table, rows affected and slow query markers
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a DBTracingPlugin
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SlowQueryThresh <= 0 {
		cfg.SlowQueryThresh = DefaultDBTracingConfig().SlowQueryThresh
	}
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// Name implements gorm.Plugin
func (p *DBTracingPlugin) Name() string {
	return "entitlesync:db_tracing"
}

// Initialize implements gorm.Plugin
func (p *DBTracingPlugin) Initialize(db *gorm.DB) error {
	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	if err := registerCallbacks(db, "db_tracing", markQueryStart, p.annotate); err != nil {
		return err
	}
	p.logger.Info("Database tracing enabled",
		zap.String("db_system", p.config.DBSystem),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

func (p *DBTracingPlugin) annotate(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.SetStatus(codes.Error, db.Error.Error())
		span.RecordError(db.Error)
	}
	if elapsed, ok := queryElapsed(ctx); ok && elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(attribute.Bool("db.slow_query", true))
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("duration_ms", elapsed.Milliseconds()),
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}

type queryStartKey struct{}

func markQueryStart(db *gorm.DB) {
	if db.Statement.Context == nil {
		return
	}
	db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
}

func queryElapsed(ctx context.Context) (time.Duration, bool) {
	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(start), true
}

type gormRegister interface {
	Register(name string, fn func(*gorm.DB)) error
}

// registerCallbacks hooks before and after around every gorm processor.
// After hooks run ahead of otelgorm's own after hooks so its spans are
// still recording; the constraint is ignored when otelgorm is absent.
func registerCallbacks(db *gorm.DB, prefix string, before, after func(*gorm.DB)) error {
	cb := db.Callback()
	hooks := []struct {
		name     string
		callback gormRegister
		fn       func(*gorm.DB)
	}{
		{"before_create", cb.Create().Before("gorm:create"), before},
		{"after_create", cb.Create().After("gorm:create").Before("otel:after:create"), after},
		{"before_query", cb.Query().Before("gorm:query"), before},
		{"after_query", cb.Query().After("gorm:query").Before("otel:after:select"), after},
		{"before_update", cb.Update().Before("gorm:update"), before},
		{"after_update", cb.Update().After("gorm:update").Before("otel:after:update"), after},
		{"before_delete", cb.Delete().Before("gorm:delete"), before},
		{"after_delete", cb.Delete().After("gorm:delete").Before("otel:after:delete"), after},
		{"before_row", cb.Row().Before("gorm:row"), before},
		{"after_row", cb.Row().After("gorm:row").Before("otel:after:row"), after},
		{"before_raw", cb.Raw().Before("gorm:raw"), before},
		{"after_raw", cb.Raw().After("gorm:raw").Before("otel:after:raw"), after},
	}
	for _, h := range hooks {
		if err := h.callback.Register(prefix+":"+h.name, h.fn); err != nil {
			return err
		}
	}
	return nil
}
