package logger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	gormlogger "gorm.io/gorm/logger"
)

const defaultSlowQuery = 100 * time.Millisecond

// GormLogger routes GORM output into zap. Routine statements on the device
// cache table are frequent, so successful queries are logged at debug.
type GormLogger struct {
	log         *zap.Logger
	level       gormlogger.LogLevel
	slowQuery   time.Duration
	logNotFound bool
}

// GormOption configures a GormLogger
type GormOption func(*GormLogger)

// WithSlowQuery sets the duration above which a statement is reported as
// slow. Zero disables slow query reporting.
func WithSlowQuery(d time.Duration) GormOption {
	return func(g *GormLogger) { g.slowQuery = d }
}

// WithRecordNotFound makes lookups that miss log as errors
func WithRecordNotFound() GormOption {
	return func(g *GormLogger) { g.logNotFound = true }
}

// NewGormLogger wraps l for use as gorm.Config.Logger
func NewGormLogger(l *zap.Logger, level gormlogger.LogLevel, opts ...GormOption) *GormLogger {
	if l == nil {
		l = zap.NewNop()
	}
	g := &GormLogger{
		log:       l.Named("gorm").WithOptions(zap.AddCallerSkip(1)),
		level:     level,
		slowQuery: defaultSlowQuery,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// LogMode implements gormlogger.Interface
func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *g
	clone.level = level
	return &clone
}

// Info implements gormlogger.Interface
func (g *GormLogger) Info(_ context.Context, msg string, data ...any) {
	g.printf(gormlogger.Info, zapcore.InfoLevel, msg, data)
}

// Warn implements gormlogger.Interface
func (g *GormLogger) Warn(_ context.Context, msg string, data ...any) {
	g.printf(gormlogger.Warn, zapcore.WarnLevel, msg, data)
}

// Error implements gormlogger.Interface
func (g *GormLogger) Error(_ context.Context, msg string, data ...any) {
	g.printf(gormlogger.Error, zapcore.ErrorLevel, msg, data)
}

func (g *GormLogger) printf(min gormlogger.LogLevel, lvl zapcore.Level, msg string, data []any) {
	if g.level < min {
		return
	}
	if ce := g.log.Check(lvl, fmt.Sprintf(msg, data...)); ce != nil {
		ce.Write()
	}
}

// Trace implements gormlogger.Interface and reports one executed statement
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		lvl zapcore.Level
		msg string
	)
	switch {
	case err != nil:
		if g.level < gormlogger.Error || (!g.logNotFound && errors.Is(err, gormlogger.ErrRecordNotFound)) {
			return
		}
		lvl, msg = zapcore.ErrorLevel, "sql failed"
	case g.slowQuery > 0 && elapsed > g.slowQuery:
		if g.level < gormlogger.Warn {
			return
		}
		lvl, msg = zapcore.WarnLevel, "slow sql"
	default:
		if g.level < gormlogger.Info {
			return
		}
		lvl, msg = zapcore.DebugLevel, "sql executed"
	}

	ce := g.log.Check(lvl, msg)
	if ce == nil {
		return
	}
	sql, rows := fc()
	fields := append([]zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}, scopeFrom(ctx).fields()...)
	if msg == "slow sql" {
		fields = append(fields, zap.Duration("threshold", g.slowQuery))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	ce.Write(fields...)
}

// MapGormLogLevel maps an application log level to the GORM one. Statements
// are only traced when the application logs at info or debug.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

var _ gormlogger.Interface = (*GormLogger)(nil)
