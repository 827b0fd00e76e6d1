package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the environment variable prefix read over the file.
const DefaultEnvPrefix = "OTOGI_"

// envKeySeparator splits nested keys in environment variable names, so
// OTOGI_SNIPE__MAX_AGE maps to snipe.max_age.
const envKeySeparator = "__"

// ErrNotLoaded is returned when Watch is used before a successful Load.
var ErrNotLoaded = errors.New("config: not loaded")

// Option mutates loader configuration.
type Option func(*Loader)

// WithEnvPrefix overrides DefaultEnvPrefix.
func WithEnvPrefix(prefix string) Option {
	return func(loader *Loader) {
		loader.envPrefix = prefix
	}
}

// WithDefaults replaces the built-in default values.
func WithDefaults(defaults map[string]any) Option {
	return func(loader *Loader) {
		if defaults != nil {
			loader.defaults = defaults
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(loader *Loader) {
		if logger != nil {
			loader.logger = logger
		}
	}
}

// Loader reads configuration from defaults, one YAML file and the
// environment, in increasing priority.
type Loader struct {
	path      string
	envPrefix string
	defaults  map[string]any
	logger    *slog.Logger

	mu       sync.Mutex
	provider *file.File
	loaded   bool
}

// NewLoader creates a loader for the YAML file at path.
func NewLoader(path string, options ...Option) *Loader {
	loader := &Loader{
		path:      strings.TrimSpace(path),
		envPrefix: DefaultEnvPrefix,
		defaults:  Defaults(),
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(loader)
	}

	return loader
}

// Path returns the configuration file path.
func (l *Loader) Path() string {
	return l.path
}

// Load reads every source into a fresh koanf instance.
func (l *Loader) Load() (*koanf.Koanf, error) {
	if l.path == "" {
		return nil, fmt.Errorf("load config: missing file path")
	}

	k := koanf.New(".")
	if err := k.Load(mapProvider(l.defaults), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	l.mu.Lock()
	if l.provider == nil {
		l.provider = file.Provider(l.path)
	}
	provider := l.provider
	l.mu.Unlock()

	if err := k.Load(provider, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config file %s: %w", l.path, err)
	}
	if err := k.Load(env.Provider(l.envPrefix, ".", l.envKey), nil); err != nil {
		return nil, fmt.Errorf("load config env: %w", err)
	}

	l.mu.Lock()
	l.loaded = true
	l.mu.Unlock()

	return k, nil
}

// Watch reloads the configuration whenever the file changes and hands each
// successfully loaded snapshot to onChange. It returns once watching has
// started; ctx cancellation stops the watch.
func (l *Loader) Watch(ctx context.Context, onChange func(*koanf.Koanf)) error {
	if onChange == nil {
		return fmt.Errorf("watch config: nil change handler")
	}

	l.mu.Lock()
	provider := l.provider
	loaded := l.loaded
	l.mu.Unlock()
	if !loaded || provider == nil {
		return fmt.Errorf("watch config: %w", ErrNotLoaded)
	}

	err := provider.Watch(func(_ any, watchErr error) {
		if watchErr != nil {
			l.logger.WarnContext(ctx, "config watch failed", "path", l.path, "error", watchErr)
			return
		}
		next, err := l.Load()
		if err != nil {
			l.logger.WarnContext(ctx, "config reload rejected", "path", l.path, "error", err)
			return
		}
		l.logger.InfoContext(ctx, "config reloaded", "path", l.path)
		onChange(next)
	})
	if err != nil {
		return fmt.Errorf("watch config %s: %w", l.path, err)
	}

	go func() {
		<-ctx.Done()
		if err := provider.Unwatch(); err != nil {
			l.logger.Warn("config unwatch failed", "path", l.path, "error", err)
		}
	}()

	return nil
}

func (l *Loader) envKey(name string) string {
	trimmed := strings.TrimPrefix(name, l.envPrefix)

	return strings.ReplaceAll(strings.ToLower(trimmed), envKeySeparator, ".")
}

// mapProvider feeds a static map into koanf.
type mapProvider map[string]any

func (m mapProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("config: map provider does not support ReadBytes")
}

func (m mapProvider) Read() (map[string]any, error) {
	return m, nil
}
