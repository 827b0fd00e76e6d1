package driver

import (
	"context"
	"log/slog"

	"ex-snipe/internal/driver/telegram"
)

// NewBuiltinRegistry registers every driver compiled into the binary.
func NewBuiltinRegistry() (*Registry, error) {
	return NewRegistry([]Descriptor{
		{Type: telegram.DriverType, Platform: telegram.DriverPlatform, Builder: buildTelegram},
	})
}

func buildTelegram(_ context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	source, driver, sink, err := telegram.BuildRuntimeFromConfig(definition.Name, logger, definition.Config)
	if err != nil {
		return Runtime{}, err
	}

	return Runtime{Source: source, Driver: driver, SinkDispatcher: sink}, nil
}
