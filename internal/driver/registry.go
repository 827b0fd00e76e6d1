package driver

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"ex-snipe/pkg/otogi"
)

// Runtime is everything one built driver contributes to the process.
type Runtime struct {
	Source otogi.EventSource
	Driver otogi.Driver
	// SinkDispatcher is nil for receive-only drivers.
	SinkDispatcher otogi.SinkDispatcher
}

// BuilderFunc builds the runtime of one enabled definition.
type BuilderFunc func(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error)

// Descriptor registers a driver type.
type Descriptor struct {
	Type     string
	Platform otogi.Platform
	Builder  BuilderFunc
}

// Registry resolves driver types to builders. It is immutable after
// NewRegistry.
type Registry struct {
	descriptors map[string]Descriptor
}

func NewRegistry(descriptors []Descriptor) (*Registry, error) {
	byType := make(map[string]Descriptor, len(descriptors))
	for _, descriptor := range descriptors {
		switch {
		case descriptor.Type == "":
			return nil, fmt.Errorf("new driver registry: empty type")
		case descriptor.Platform == "":
			return nil, fmt.Errorf("new driver registry %s: empty platform", descriptor.Type)
		case descriptor.Builder == nil:
			return nil, fmt.Errorf("new driver registry %s: nil builder", descriptor.Type)
		}
		if _, duplicate := byType[descriptor.Type]; duplicate {
			return nil, fmt.Errorf("new driver registry %s: registered twice", descriptor.Type)
		}
		byType[descriptor.Type] = descriptor
	}

	return &Registry{descriptors: byType}, nil
}

// Types lists the registered types in sorted order.
func (r *Registry) Types() []string {
	if r == nil {
		return nil
	}

	return slices.Sorted(maps.Keys(r.descriptors))
}

func (r *Registry) PlatformForType(driverType string) (otogi.Platform, error) {
	descriptor, err := r.lookup(driverType)
	if err != nil {
		return "", err
	}

	return descriptor.Platform, nil
}

// BuildEnabled builds every enabled definition in order and stops at the
// first failure. A runtime whose source has no ID takes the definition name.
func (r *Registry) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Runtime, error) {
	var runtimes []Runtime
	seen := make(map[string]bool, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build driver: empty name")
		}
		if seen[definition.Name] {
			return nil, fmt.Errorf("build driver %s: duplicate name", definition.Name)
		}
		seen[definition.Name] = true

		runtime, err := r.build(ctx, definition, logger)
		if err != nil {
			return nil, fmt.Errorf("build driver %s: %w", definition.Name, err)
		}
		runtimes = append(runtimes, runtime)
	}

	return runtimes, nil
}

func (r *Registry) build(ctx context.Context, definition Definition, logger *slog.Logger) (Runtime, error) {
	descriptor, err := r.lookup(definition.Type)
	if err != nil {
		return Runtime{}, err
	}

	runtime, err := descriptor.Builder(ctx, definition, logger)
	if err != nil {
		return Runtime{}, fmt.Errorf("type %s: %w", definition.Type, err)
	}
	if runtime.Driver == nil {
		return Runtime{}, fmt.Errorf("type %s: builder returned no driver", definition.Type)
	}
	if runtime.Source.Platform == "" {
		runtime.Source.Platform = descriptor.Platform
	}
	if runtime.Source.ID == "" {
		runtime.Source.ID = definition.Name
	}

	return runtime, nil
}

func (r *Registry) lookup(driverType string) (Descriptor, error) {
	if r == nil {
		return Descriptor{}, fmt.Errorf("nil driver registry")
	}
	descriptor, ok := r.descriptors[driverType]
	if !ok {
		return Descriptor{}, fmt.Errorf("unsupported driver type %q", driverType)
	}

	return descriptor, nil
}
