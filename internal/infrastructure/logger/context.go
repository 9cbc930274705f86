package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	orderIDKey   contextKey = "order_id"
	actorKey     contextKey = "actor"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext returns the context logger, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request id and enriches the context logger
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return enrich(context.WithValue(ctx, requestIDKey, requestID), zap.String("request_id", requestID))
}

// WithOrderID stores the order being worked on and enriches the context logger
func WithOrderID(ctx context.Context, orderID string) context.Context {
	return enrich(context.WithValue(ctx, orderIDKey, orderID), zap.String("order_id", orderID))
}

// WithActor stores the authenticated actor and enriches the context logger
func WithActor(ctx context.Context, actor string) context.Context {
	return enrich(context.WithValue(ctx, actorKey, actor), zap.String("actor", actor))
}

func enrich(ctx context.Context, field zap.Field) context.Context {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return WithContext(ctx, logger.With(field))
	}
	return ctx
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey).(string)
	return v
}

// GetOrderID retrieves the order ID from context
func GetOrderID(ctx context.Context) string {
	v, _ := ctx.Value(orderIDKey).(string)
	return v
}

// GetActor retrieves the actor from context
func GetActor(ctx context.Context) string {
	v, _ := ctx.Value(actorKey).(string)
	return v
}

// WithTraceContext adds trace_id and span_id from the context's span.
// The logger is returned unchanged when there is no valid span.
func WithTraceContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}

// L returns the context logger with trace correlation fields.
// Usage: logger.L(ctx).Info("message", zap.String("key", "value"))
func L(ctx context.Context) *zap.Logger {
	return WithTraceContext(ctx, FromContext(ctx))
}
