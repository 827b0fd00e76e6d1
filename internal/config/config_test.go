package config

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "empty defaults to info", input: "", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: " WARNING ", want: slog.LevelWarn},
		{name: "error", input: "error", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseLogLevel(testCase.input)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoaderLoadLayersSources(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bot.yaml")
	writeConfigFile(t, configPath, `
log_level: warn
kernel:
  shutdown_timeout: 15s
drivers:
  tg-main:
    type: telegram
    config:
      app_id: 123
snipe:
  max_age: 60s
  snipe_response_type: embed
`)
	t.Setenv("OTOGI_LOADTEST_SNIPE__MAX_AGE", "90s")
	t.Setenv("OTOGI_LOADTEST_MEMORY__CAPACITY", "42")

	loader := NewLoader(configPath, WithEnvPrefix("OTOGI_LOADTEST_"))
	k, err := loader.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if got := k.String("snipe.max_age"); got != "90s" {
		t.Fatalf("snipe.max_age = %q, want env override 90s", got)
	}
	if got := k.String("snipe.snipe_response_type"); got != "embed" {
		t.Fatalf("snipe.snipe_response_type = %q, want embed", got)
	}
	if got := k.Int("drivers.tg-main.config.app_id"); got != 123 {
		t.Fatalf("driver app_id = %d, want 123", got)
	}

	cfg, err := Decode(k)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("log level = %q, want warn", cfg.LogLevel)
	}
	if cfg.Kernel.ShutdownTimeout != 15*time.Second {
		t.Fatalf("shutdown timeout = %v, want 15s", cfg.Kernel.ShutdownTimeout)
	}
	if cfg.Kernel.ModuleHookTimeout != 5*time.Second {
		t.Fatalf("module hook timeout = %v, want default 5s", cfg.Kernel.ModuleHookTimeout)
	}
	if cfg.Memory.Capacity != 42 {
		t.Fatalf("memory capacity = %d, want env override 42", cfg.Memory.Capacity)
	}
	if cfg.Memory.TTL != 24*time.Hour {
		t.Fatalf("memory ttl = %v, want default 24h", cfg.Memory.TTL)
	}
	if cfg.Admin.ListenAddress != "127.0.0.1:9464" {
		t.Fatalf("admin listen address = %q, want default", cfg.Admin.ListenAddress)
	}
}

func TestLoaderLoadErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	brokenPath := filepath.Join(dir, "broken.yaml")
	writeConfigFile(t, brokenPath, "snipe: [unterminated\n")

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{name: "missing path", path: " ", wantErr: "missing file path"},
		{name: "missing file", path: filepath.Join(dir, "absent.yaml"), wantErr: "load config file"},
		{name: "invalid yaml", path: brokenPath, wantErr: "load config file"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewLoader(testCase.path).Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
			}
		})
	}
}

func TestDecodeValidates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		value   any
		wantErr string
	}{
		{name: "defaults are valid"},
		{name: "bad log level", key: "log_level", value: "trace", wantErr: "log_level"},
		{name: "zero hook timeout", key: "kernel.module_hook_timeout", value: "0s", wantErr: "kernel.module_hook_timeout"},
		{name: "zero shutdown timeout", key: "kernel.shutdown_timeout", value: "0s", wantErr: "kernel.shutdown_timeout"},
		{name: "zero buffer", key: "kernel.default_subscription_buffer", value: 0, wantErr: "kernel.default_subscription_buffer"},
		{name: "zero workers", key: "kernel.default_subscription_workers", value: 0, wantErr: "kernel.default_subscription_workers"},
		{name: "negative handler timeout", key: "kernel.default_handler_timeout", value: "-1s", wantErr: "kernel.default_handler_timeout"},
		{name: "zero memory capacity", key: "memory.capacity", value: 0, wantErr: "memory.capacity"},
		{name: "zero memory ttl", key: "memory.ttl", value: "0s", wantErr: "memory.ttl"},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			k := koanf.New(".")
			if err := k.Load(mapProvider(Defaults()), nil); err != nil {
				t.Fatalf("load defaults: %v", err)
			}
			if testCase.key != "" {
				if err := k.Set(testCase.key, testCase.value); err != nil {
					t.Fatalf("set %s: %v", testCase.key, err)
				}
			}

			_, err := Decode(k)
			if testCase.wantErr == "" {
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", testCase.wantErr)
			}
			if !strings.Contains(err.Error(), testCase.wantErr) {
				t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
			}
		})
	}
}

func TestDecodeRejectsNilSource(t *testing.T) {
	t.Parallel()

	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestLoaderWatchRequiresLoad(t *testing.T) {
	t.Parallel()

	loader := NewLoader(filepath.Join(t.TempDir(), "bot.yaml"))
	err := loader.Watch(context.Background(), func(*koanf.Koanf) {})
	if !errors.Is(err, ErrNotLoaded) {
		t.Fatalf("error = %v, want ErrNotLoaded", err)
	}
	if err := loader.Watch(context.Background(), nil); err == nil {
		t.Fatal("expected error for nil handler")
	}
}

func TestLoaderWatchReloadsChangedFile(t *testing.T) {
	t.Parallel()

	configPath := filepath.Join(t.TempDir(), "bot.yaml")
	writeConfigFile(t, configPath, "snipe:\n  max_age: 60s\n")

	loader := NewLoader(configPath, WithEnvPrefix("OTOGI_WATCHTEST_"))
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan string, 16)
	err := loader.Watch(ctx, func(k *koanf.Koanf) {
		select {
		case reloaded <- k.String("snipe.max_age"):
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeConfigFile(t, configPath, "snipe:\n  max_age: 30s\n")

	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-reloaded:
			if got == "30s" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}
