package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/v2"
)

// Config is the process-level configuration. Driver and module sections
// are decoded by their owners from Koanf sub-trees.
type Config struct {
	LogLevel string `koanf:"log_level"`
	Admin    Admin  `koanf:"admin"`
	Kernel   Kernel `koanf:"kernel"`
	Memory   Memory `koanf:"memory"`
}

// Admin configures the HTTP admin surface. An empty ListenAddress disables it.
type Admin struct {
	ListenAddress string `koanf:"listen_address"`
}

// Kernel mirrors the kernel options.
type Kernel struct {
	ModuleHookTimeout          time.Duration `koanf:"module_hook_timeout"`
	ShutdownTimeout            time.Duration `koanf:"shutdown_timeout"`
	DefaultSubscriptionBuffer  int           `koanf:"default_subscription_buffer"`
	DefaultSubscriptionWorkers int           `koanf:"default_subscription_workers"`
	DefaultHandlerTimeout      time.Duration `koanf:"default_handler_timeout"`
}

// Memory bounds the last-known content cache.
type Memory struct {
	Capacity int           `koanf:"capacity"`
	TTL      time.Duration `koanf:"ttl"`
}

// Defaults returns the values applied beneath the configuration file.
func Defaults() map[string]any {
	return map[string]any{
		"log_level": "info",
		"admin": map[string]any{
			"listen_address": "127.0.0.1:9464",
		},
		"kernel": map[string]any{
			"module_hook_timeout":          "5s",
			"shutdown_timeout":             "10s",
			"default_subscription_buffer":  256,
			"default_subscription_workers": 1,
			"default_handler_timeout":      "3s",
		},
		"memory": map[string]any{
			"capacity": 10000,
			"ttl":      "24h",
		},
	}
}

// Decode unmarshals and validates the process-level sections of k.
func Decode(k *koanf.Koanf) (Config, error) {
	if k == nil {
		return Config{}, fmt.Errorf("decode config: nil source")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.Kernel.ModuleHookTimeout <= 0 {
		return fmt.Errorf("kernel.module_hook_timeout: must be > 0")
	}
	if c.Kernel.ShutdownTimeout <= 0 {
		return fmt.Errorf("kernel.shutdown_timeout: must be > 0")
	}
	if c.Kernel.DefaultSubscriptionBuffer <= 0 {
		return fmt.Errorf("kernel.default_subscription_buffer: must be > 0")
	}
	if c.Kernel.DefaultSubscriptionWorkers <= 0 {
		return fmt.Errorf("kernel.default_subscription_workers: must be > 0")
	}
	if c.Kernel.DefaultHandlerTimeout < 0 {
		return fmt.Errorf("kernel.default_handler_timeout: must be >= 0")
	}
	if c.Memory.Capacity <= 0 {
		return fmt.Errorf("memory.capacity: must be > 0")
	}
	if c.Memory.TTL <= 0 {
		return fmt.Errorf("memory.ttl: must be > 0")
	}

	return nil
}

// ParseLogLevel maps a configured level name to slog.
func ParseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported level %q", raw)
	}
}
