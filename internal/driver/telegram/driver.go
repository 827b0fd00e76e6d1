package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ex-snipe/pkg/otogi"
)

type driverConfig struct {
	name           string
	publishTimeout time.Duration
	onAsyncError   func(context.Context, error)
}

// DriverOption configures a Driver.
type DriverOption func(*driverConfig)

// WithName sets the driver instance name used as the event source ID.
func WithName(name string) DriverOption {
	return func(cfg *driverConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithPublishTimeout bounds how long one event may wait for the kernel.
func WithPublishTimeout(timeout time.Duration) DriverOption {
	return func(cfg *driverConfig) {
		if timeout > 0 {
			cfg.publishTimeout = timeout
		}
	}
}

// WithErrorHandler receives per-update failures that do not stop the driver.
func WithErrorHandler(handler func(context.Context, error)) DriverOption {
	return func(cfg *driverConfig) {
		if handler != nil {
			cfg.onAsyncError = handler
		}
	}
}

// Driver publishes Telegram activity to the kernel as otogi events.
type Driver struct {
	cfg     driverConfig
	source  UpdateSource
	decoder Decoder
}

var _ otogi.Driver = (*Driver)(nil)

func NewDriver(source UpdateSource, decoder Decoder, options ...DriverOption) (*Driver, error) {
	if source == nil {
		return nil, fmt.Errorf("new telegram driver: nil source")
	}
	if decoder == nil {
		return nil, fmt.Errorf("new telegram driver: nil decoder")
	}

	cfg := driverConfig{
		name:           DriverType,
		publishTimeout: defaultPublishTimeout,
		onAsyncError:   func(context.Context, error) {},
	}
	for _, option := range options {
		option(&cfg)
	}

	return &Driver{cfg: cfg, source: source, decoder: decoder}, nil
}

func (d *Driver) Name() string {
	return d.cfg.name
}

// Start blocks until ctx ends or the source fails. Cancellation is a clean
// stop.
func (d *Driver) Start(ctx context.Context, dispatcher otogi.EventDispatcher) error {
	if dispatcher == nil {
		return fmt.Errorf("start telegram driver %s: nil dispatcher", d.cfg.name)
	}

	err := d.source.Consume(ctx, func(updateCtx context.Context, update Update) error {
		return d.forward(updateCtx, update, dispatcher)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("start telegram driver %s: %w", d.cfg.name, err)
	}

	return nil
}

// Shutdown is a no-op; the session ends with the Start context.
func (d *Driver) Shutdown(context.Context) error {
	return nil
}

// forward decodes and publishes one update. Bad updates and publish failures
// are reported and skipped; only cancellation of ctx itself stops the source.
func (d *Driver) forward(ctx context.Context, update Update, dispatcher otogi.EventDispatcher) error {
	event, err := d.decode(ctx, update)
	if err != nil {
		d.cfg.onAsyncError(ctx, err)
		return nil
	}
	event.Source = otogi.EventSource{Platform: DriverPlatform, ID: d.cfg.name}

	publishCtx, cancel := context.WithTimeout(ctx, d.cfg.publishTimeout)
	defer cancel()

	if err := dispatcher.Publish(publishCtx, event); err != nil {
		err = fmt.Errorf("publish update %s: %w", update.ID, err)
		if ctx.Err() != nil {
			return err
		}
		d.cfg.onAsyncError(ctx, err)
	}

	return nil
}

func (d *Driver) decode(ctx context.Context, update Update) (event *otogi.Event, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			event, err = nil, fmt.Errorf("decode update %s: panic: %v", update.ID, recovered)
		}
	}()

	event, err = d.decoder.Decode(ctx, update)
	switch {
	case err != nil:
		return nil, err
	case event == nil:
		return nil, fmt.Errorf("decode update %s: decoder returned no event", update.ID)
	}

	return event, nil
}
