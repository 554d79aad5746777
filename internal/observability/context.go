package observability

import (
	"context"

	"go.uber.org/zap"
)

// ServiceName is reported in logs, health responses and the upstream User-Agent.
const ServiceName = "aviation-weather-service"

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	loggerKey
)

// WithCorrelationID returns a context carrying the request correlation ID.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation ID stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLogger returns a context carrying a request-scoped logger.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// LoggerFromContext returns the request-scoped logger, or fallback when none is set.
// fallback may be nil, in which case a no-op logger is returned.
func LoggerFromContext(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey).(*zap.Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
