package kernel

import (
	"cmp"
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// AsyncErrorHandler receives failures that have no caller to return to, such
// as dropped events and handler errors. scope names the component.
type AsyncErrorHandler func(ctx context.Context, scope string, err error)

type config struct {
	hookTimeout     time.Duration
	shutdownTimeout time.Duration
	bus             busConfig
	registerer      prometheus.Registerer
}

func defaultConfig() config {
	return config{
		hookTimeout:     5 * time.Second,
		shutdownTimeout: 10 * time.Second,
		bus: busConfig{
			buffer:         256,
			workers:        1,
			handlerTimeout: 3 * time.Second,
			onAsyncError:   logAsyncError(slog.Default()),
		},
	}
}

// Option configures New.
type Option func(*config)

// positive returns an Option that stores value into the field chosen by
// field, ignoring zero and negative values so unset config keeps defaults.
func positive[T cmp.Ordered](value T, field func(*config) *T) Option {
	return func(cfg *config) {
		var zero T
		if value > zero {
			*field(cfg) = value
		}
	}
}

// WithModuleHookTimeout bounds each OnRegister, OnStart and OnShutdown call.
func WithModuleHookTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.hookTimeout })
}

// WithShutdownTimeout bounds the whole of shutdown, including waiting for
// drivers to return from Start.
func WithShutdownTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.shutdownTimeout })
}

func WithDefaultSubscriptionBuffer(size int) Option {
	return positive(size, func(cfg *config) *int { return &cfg.bus.buffer })
}

func WithDefaultSubscriptionWorkers(workers int) Option {
	return positive(workers, func(cfg *config) *int { return &cfg.bus.workers })
}

func WithDefaultHandlerTimeout(timeout time.Duration) Option {
	return positive(timeout, func(cfg *config) *time.Duration { return &cfg.bus.handlerTimeout })
}

// WithMetricsRegisterer exports bus counters and handler latency.
func WithMetricsRegisterer(registerer prometheus.Registerer) Option {
	return func(cfg *config) {
		cfg.registerer = registerer
	}
}

// WithLogger logs asynchronous errors at error level on logger.
func WithLogger(logger *slog.Logger) Option {
	if logger == nil {
		return func(*config) {}
	}

	return WithAsyncErrorHandler(logAsyncError(logger))
}

func WithAsyncErrorHandler(handler AsyncErrorHandler) Option {
	return func(cfg *config) {
		if handler != nil {
			cfg.bus.onAsyncError = handler
		}
	}
}

func logAsyncError(logger *slog.Logger) AsyncErrorHandler {
	return func(ctx context.Context, scope string, err error) {
		logger.ErrorContext(ctx, "otogi async error", "scope", scope, "error", err)
	}
}
