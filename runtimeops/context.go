package runtimeops

import (
	"context"
	"errors"
	"time"

	"github.com/LerianStudio/lib-runtimeops/runtimeops/log"
	"github.com/LerianStudio/lib-runtimeops/runtimeops/opentelemetry/metrics"
)

// ErrNilParentContext indicates that a nil parent context was provided.
var ErrNilParentContext = errors.New("cannot create context from nil parent")

type contextKey string

// ContextKey is the context key under which ContextValue is stored.
var ContextKey = contextKey("runtimeops_context")

// ContextValue holds the process-scoped facilities carried in context.
type ContextValue struct {
	Logger        log.Logger
	MetricFactory *metrics.MetricsFactory
}

// ContextWithLogger returns a context carrying the given logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	values, _ := ctx.Value(ContextKey).(*ContextValue)
	if values == nil {
		values = &ContextValue{}
	}

	values.Logger = logger

	return context.WithValue(ctx, ContextKey, values)
}

// LoggerFromContext extracts the logger carried in context. Falls back to a
// no-op logger so callers never need a nil check.
//
//nolint:ireturn
func LoggerFromContext(ctx context.Context) log.Logger {
	if values, ok := ctx.Value(ContextKey).(*ContextValue); ok && values.Logger != nil {
		return values.Logger
	}

	return log.NewNop()
}

// ContextWithMetricFactory returns a context carrying the given metrics
// factory.
func ContextWithMetricFactory(ctx context.Context, factory *metrics.MetricsFactory) context.Context {
	values, _ := ctx.Value(ContextKey).(*ContextValue)
	if values == nil {
		values = &ContextValue{}
	}

	values.MetricFactory = factory

	return context.WithValue(ctx, ContextKey, values)
}

// MetricFactoryFromContext extracts the metrics factory carried in context.
// Falls back to a no-op factory.
func MetricFactoryFromContext(ctx context.Context) *metrics.MetricsFactory {
	if values, ok := ctx.Value(ContextKey).(*ContextValue); ok && values.MetricFactory != nil {
		return values.MetricFactory
	}

	return metrics.NewNopFactory()
}

// WithTimeoutSafe creates a context with the given timeout while respecting
// any earlier deadline already present on the parent. When the parent's
// deadline is shorter, the returned context simply inherits it.
func WithTimeoutSafe(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if parent == nil {
		return nil, nil, ErrNilParentContext
	}

	if deadline, ok := parent.Deadline(); ok {
		if time.Until(deadline) < timeout {
			ctx, cancel := context.WithCancel(parent)

			return ctx, cancel, nil
		}
	}

	ctx, cancel := context.WithTimeout(parent, timeout)

	return ctx, cancel, nil
}
