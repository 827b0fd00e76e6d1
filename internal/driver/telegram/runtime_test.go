package telegram

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/v2"
)

func TestParseRuntimeConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		values  map[string]any
		wantErr bool
		assert  func(t *testing.T, cfg runtimeConfig)
	}{
		{
			name:    "empty config",
			wantErr: true,
		},
		{
			name:    "bad duration",
			values:  map[string]any{"app_id": 1, "app_hash": "hash", "publish_timeout": "bad"},
			wantErr: true,
		},
		{
			name:    "negative auth timeout",
			values:  map[string]any{"app_id": 1, "app_hash": "hash", "auth_timeout": "-1s"},
			wantErr: true,
		},
		{
			name:    "missing app hash",
			values:  map[string]any{"app_id": 1},
			wantErr: true,
		},
		{
			name:   "defaults applied",
			values: map[string]any{"app_id": "1", "app_hash": " hash "},
			assert: func(t *testing.T, cfg runtimeConfig) {
				t.Helper()
				if cfg.AppID != 1 || cfg.AppHash != "hash" {
					t.Fatalf("app = %d/%q, want 1/hash", cfg.AppID, cfg.AppHash)
				}
				if cfg.PublishTimeout != defaultPublishTimeout {
					t.Fatalf("publish timeout = %s, want %s", cfg.PublishTimeout, defaultPublishTimeout)
				}
				if cfg.UpdateBuffer != defaultUpdateBuffer {
					t.Fatalf("update buffer = %d, want %d", cfg.UpdateBuffer, defaultUpdateBuffer)
				}
				if cfg.SessionFile != defaultSessionFile {
					t.Fatalf("session file = %q, want %q", cfg.SessionFile, defaultSessionFile)
				}
			},
		},
		{
			name:   "durations parsed",
			values: map[string]any{"app_id": 1, "app_hash": "hash", "publish_timeout": "5s", "auth_timeout": "1m"},
			assert: func(t *testing.T, cfg runtimeConfig) {
				t.Helper()
				if cfg.PublishTimeout != 5*time.Second || cfg.AuthTimeout != time.Minute {
					t.Fatalf("timeouts = %s/%s, want 5s/1m", cfg.PublishTimeout, cfg.AuthTimeout)
				}
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			raw := koanf.New(".")
			for key, value := range testCase.values {
				if err := raw.Set(key, value); err != nil {
					t.Fatalf("set %s failed: %v", key, err)
				}
			}

			cfg, err := parseRuntimeConfig(raw)
			if testCase.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("parse runtime config failed: %v", err)
			}
			testCase.assert(t, cfg)
		})
	}
}

func TestNewSessionStorage(t *testing.T) {
	t.Parallel()

	sessionPath := filepath.Join(t.TempDir(), "nested", "telegram", "session.json")
	storage, err := newSessionStorage(sessionPath)
	if err != nil {
		t.Fatalf("newSessionStorage: %v", err)
	}
	if !filepath.IsAbs(storage.Path) {
		t.Fatalf("session path = %q, want absolute", storage.Path)
	}
	if info, err := os.Stat(filepath.Dir(sessionPath)); err != nil || !info.IsDir() {
		t.Fatalf("session directory not created: %v", err)
	}
	if _, err := newSessionStorage("   "); err == nil {
		t.Fatal("expected empty path error")
	}
}
