package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type (
	loggerKey struct{}
	scopeKey  struct{}
)

// scope is the request metadata carried next to the logger
type scope struct {
	requestID string
	appUserID string
}

func (s scope) fields() []zap.Field {
	var fields []zap.Field
	if s.requestID != "" {
		fields = append(fields, zap.String("request_id", s.requestID))
	}
	if s.appUserID != "" {
		fields = append(fields, zap.String("app_user_id", s.appUserID))
	}
	return fields
}

func scopeFrom(ctx context.Context) scope {
	s, _ := ctx.Value(scopeKey{}).(scope)
	return s
}

// WithContext stores l in ctx
func WithContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

// FromContext returns the logger stored in ctx, or a no-op logger. When ctx
// carries a recording span its trace and span ids are attached.
func FromContext(ctx context.Context) *zap.Logger {
	l, ok := ctx.Value(loggerKey{}).(*zap.Logger)
	if !ok {
		return zap.NewNop()
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.With(zap.Stringer("trace_id", sc.TraceID()), zap.Stringer("span_id", sc.SpanID()))
	}
	return l
}

// WithRequestID records the request id in ctx and returns the enriched logger
func WithRequestID(ctx context.Context, l *zap.Logger, requestID string) (context.Context, *zap.Logger) {
	s := scopeFrom(ctx)
	s.requestID = requestID
	return annotate(ctx, s, l.With(zap.String("request_id", requestID)))
}

// WithAppUserID records the app user in ctx and returns the enriched logger
func WithAppUserID(ctx context.Context, l *zap.Logger, appUserID string) (context.Context, *zap.Logger) {
	s := scopeFrom(ctx)
	s.appUserID = appUserID
	return annotate(ctx, s, l.With(zap.String("app_user_id", appUserID)))
}

func annotate(ctx context.Context, s scope, l *zap.Logger) (context.Context, *zap.Logger) {
	ctx = context.WithValue(ctx, scopeKey{}, s)
	return WithContext(ctx, l), l
}

// RequestIDFrom returns the request id recorded in ctx
func RequestIDFrom(ctx context.Context) string {
	return scopeFrom(ctx).requestID
}

// AppUserIDFrom returns the app user recorded in ctx
func AppUserIDFrom(ctx context.Context) string {
	return scopeFrom(ctx).appUserID
}
