package telegram

import (
	"context"
	"fmt"
)

// GotdUserbotClient runs fn inside a connected, authorized gotd session.
type GotdUserbotClient interface {
	Run(ctx context.Context, fn func(runCtx context.Context) error) error
}

// GotdRawUpdateStream exposes the raw updates of a running session.
type GotdRawUpdateStream interface {
	Updates(ctx context.Context) (<-chan any, error)
}

// GotdUpdateMapper converts one raw update. accepted is false for updates
// that should be skipped silently.
type GotdUpdateMapper interface {
	Map(ctx context.Context, raw any) (update Update, accepted bool, err error)
}

// GotdUserbotSource is the UpdateSource of a logged-in user account.
type GotdUserbotSource struct {
	client GotdUserbotClient
	stream GotdRawUpdateStream
	mapper GotdUpdateMapper
}

var _ UpdateSource = (*GotdUserbotSource)(nil)

func NewGotdUserbotSource(
	client GotdUserbotClient,
	stream GotdRawUpdateStream,
	mapper GotdUpdateMapper,
) (*GotdUserbotSource, error) {
	switch {
	case client == nil:
		return nil, fmt.Errorf("new gotd userbot source: nil client")
	case stream == nil:
		return nil, fmt.Errorf("new gotd userbot source: nil stream")
	case mapper == nil:
		return nil, fmt.Errorf("new gotd userbot source: nil mapper")
	}

	return &GotdUserbotSource{client: client, stream: stream, mapper: mapper}, nil
}

// Consume runs the session and feeds mapped updates to handler. It returns
// nil once ctx ends or the stream closes.
func (s *GotdUserbotSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume gotd userbot updates: nil handler")
	}

	if err := s.client.Run(ctx, func(runCtx context.Context) error {
		return s.pump(runCtx, handler)
	}); err != nil {
		return fmt.Errorf("consume gotd userbot updates: %w", err)
	}

	return nil
}

func (s *GotdUserbotSource) pump(ctx context.Context, handler UpdateHandler) error {
	raws, err := s.stream.Updates(ctx)
	if err != nil {
		return fmt.Errorf("open gotd update stream: %w", err)
	}

	for {
		var raw any
		var open bool
		select {
		case <-ctx.Done():
			return nil
		case raw, open = <-raws:
		}
		if !open {
			return nil
		}

		update, accepted, err := s.mapSafely(ctx, raw)
		if err != nil {
			return err
		}
		if !accepted {
			continue
		}
		if err := handler(ctx, update); err != nil {
			return fmt.Errorf("consume gotd update %s: %w", update.Type, err)
		}
	}
}

func (s *GotdUserbotSource) mapSafely(ctx context.Context, raw any) (update Update, accepted bool, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("map gotd update: panic: %v", recovered)
		}
	}()

	update, accepted, err = s.mapper.Map(ctx, raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}

	return update, accepted, nil
}
