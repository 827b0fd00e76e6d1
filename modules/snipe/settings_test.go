package snipe

import (
	"errors"
	"maps"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

func TestParseResponseType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    ResponseType
		wantErr bool
	}{
		{name: "embed", raw: "embed", want: ResponseTypeEmbed},
		{name: "webhook with casing and spaces", raw: " Webhook ", want: ResponseTypeWebhook},
		{name: "unknown", raw: "carrier-pigeon", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseResponseType(testCase.raw)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidSetting) {
					t.Fatalf("error = %v, want ErrInvalidSetting", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testCase.want {
				t.Fatalf("response type = %q, want %q", got, testCase.want)
			}
		})
	}
}

func TestSettingsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(*Settings) {}},
		{name: "rate limit disabled needs no burst", mutate: func(s *Settings) {
			s.RateLimit = RateLimit{}
		}},
		{name: "unknown response type", mutate: func(s *Settings) {
			s.ResponseType = "dm"
		}, wantErr: true},
		{name: "zero max age", mutate: func(s *Settings) {
			s.MaxAge = 0
		}, wantErr: true},
		{name: "zero sweep interval", mutate: func(s *Settings) {
			s.SweepInterval = 0
		}, wantErr: true},
		{name: "negative confirm timeout", mutate: func(s *Settings) {
			s.ConfirmTimeout = -time.Second
		}, wantErr: true},
		{name: "negative rate", mutate: func(s *Settings) {
			s.RateLimit.PerMinute = -1
		}, wantErr: true},
		{name: "rate without burst", mutate: func(s *Settings) {
			s.RateLimit.Burst = 0
		}, wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			settings := DefaultSettings()
			testCase.mutate(&settings)
			err := settings.Validate()
			if testCase.wantErr && !errors.Is(err, ErrInvalidSetting) {
				t.Fatalf("error = %v, want ErrInvalidSetting", err)
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSettingsWith(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		key     string
		value   string
		check   func(t *testing.T, settings Settings)
		wantErr bool
	}{
		{
			name:  "disable edits",
			key:   "allow_edit_sniping",
			value: "false",
			check: func(t *testing.T, settings Settings) {
				if settings.AllowEditSniping {
					t.Fatal("allow_edit_sniping still true")
				}
			},
		},
		{
			name:  "switch to webhook",
			key:   "SNIPE_RESPONSE_TYPE",
			value: "webhook",
			check: func(t *testing.T, settings Settings) {
				if settings.ResponseType != ResponseTypeWebhook {
					t.Fatalf("response type = %q, want webhook", settings.ResponseType)
				}
			},
		},
		{
			name:  "max age duration",
			key:   "max_age",
			value: "2m",
			check: func(t *testing.T, settings Settings) {
				if settings.MaxAge != 2*time.Minute {
					t.Fatalf("max age = %v, want 2m", settings.MaxAge)
				}
			},
		},
		{
			name:  "nested rate key",
			key:   "rate_limit.per_minute",
			value: "0",
			check: func(t *testing.T, settings Settings) {
				if settings.RateLimit.PerMinute != 0 {
					t.Fatalf("per minute = %d, want 0", settings.RateLimit.PerMinute)
				}
			},
		},
		{name: "invalid response type", key: "snipe_response_type", value: "dm", wantErr: true},
		{name: "unparsable bool", key: "allow_deletion_sniping", value: "maybe", wantErr: true},
		{
			name:  "bare number is seconds",
			key:   "max_age",
			value: "45",
			check: func(t *testing.T, settings Settings) {
				if settings.MaxAge != 45*time.Second {
					t.Fatalf("max age = %v, want 45s", settings.MaxAge)
				}
			},
		},
		{name: "zero max age fails validation", key: "max_age", value: "0s", wantErr: true},
		{name: "sub-second max age", key: "max_age", value: "500ms", wantErr: true},
		{name: "admins are not editable", key: "admins", value: "1,2", wantErr: true},
		{name: "unknown key", key: "volume", value: "11", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			base := DefaultSettings()
			got, err := base.With(testCase.key, testCase.value)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidSetting) {
					t.Fatalf("error = %v, want ErrInvalidSetting", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			testCase.check(t, got)
			if !maps.Equal(base.View(), DefaultSettings().View()) {
				t.Fatal("With mutated its receiver")
			}
		})
	}
}

func TestSettingsFromKoanf(t *testing.T) {
	t.Parallel()

	t.Run("missing keys keep defaults", func(t *testing.T) {
		t.Parallel()

		k := koanf.New(".")
		if err := k.Set("max_age", "90s"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if err := k.Set("admins", []string{"100"}); err != nil {
			t.Fatalf("set: %v", err)
		}

		settings, err := SettingsFromKoanf(k)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.MaxAge != 90*time.Second {
			t.Fatalf("max age = %v, want 90s", settings.MaxAge)
		}
		if !settings.AllowDeletionSniping || settings.ResponseType != ResponseTypeEmbed {
			t.Fatalf("defaults lost: %+v", settings)
		}
		if !settings.IsAdmin("100") || settings.IsAdmin("") {
			t.Fatalf("admins = %v", settings.Admins)
		}
	})

	t.Run("invalid response type rejected", func(t *testing.T) {
		t.Parallel()

		k := koanf.New(".")
		if err := k.Set("snipe_response_type", "dm"); err != nil {
			t.Fatalf("set: %v", err)
		}
		if _, err := SettingsFromKoanf(k); !errors.Is(err, ErrInvalidSetting) {
			t.Fatalf("error = %v, want ErrInvalidSetting", err)
		}
	})

	t.Run("nil source yields defaults", func(t *testing.T) {
		t.Parallel()

		settings, err := SettingsFromKoanf(nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if settings.MaxAge != DefaultSettings().MaxAge {
			t.Fatalf("max age = %v, want default", settings.MaxAge)
		}
	})
}

func TestSettingsFromYAMLDurations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		check   func(t *testing.T, settings Settings)
		wantErr bool
	}{
		{
			name: "bare integers are seconds",
			yaml: "max_age: 60\nsweep_interval: 5\nconfirm_timeout: 30\n",
			check: func(t *testing.T, settings Settings) {
				if settings.MaxAge != time.Minute {
					t.Fatalf("max age = %v, want 1m", settings.MaxAge)
				}
				if settings.SweepInterval != 5*time.Second || settings.ConfirmTimeout != 30*time.Second {
					t.Fatalf("sweep = %v confirm = %v, want 5s and 30s", settings.SweepInterval, settings.ConfirmTimeout)
				}
			},
		},
		{
			name: "fractional seconds",
			yaml: "max_age: 1.5\n",
			check: func(t *testing.T, settings Settings) {
				if settings.MaxAge != 1500*time.Millisecond {
					t.Fatalf("max age = %v, want 1.5s", settings.MaxAge)
				}
			},
		},
		{
			name: "duration strings",
			yaml: "max_age: 2m\nconfirm_timeout: \"45\"\n",
			check: func(t *testing.T, settings Settings) {
				if settings.MaxAge != 2*time.Minute || settings.ConfirmTimeout != 45*time.Second {
					t.Fatalf("max age = %v confirm = %v, want 2m and 45s", settings.MaxAge, settings.ConfirmTimeout)
				}
			},
		},
		{name: "nanosecond max age", yaml: "max_age: 60ns\n", wantErr: true},
		{name: "garbage duration", yaml: "max_age: soon\n", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			path := filepath.Join(t.TempDir(), "snipe.yaml")
			if err := os.WriteFile(path, []byte(testCase.yaml), 0o600); err != nil {
				t.Fatalf("write config: %v", err)
			}
			k := koanf.New(".")
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				t.Fatalf("load config: %v", err)
			}

			settings, err := SettingsFromKoanf(k)
			if testCase.wantErr {
				if !errors.Is(err, ErrInvalidSetting) {
					t.Fatalf("error = %v, want ErrInvalidSetting", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SettingsFromKoanf failed: %v", err)
			}
			testCase.check(t, settings)
		})
	}
}

func TestSettingsAllowsAndView(t *testing.T) {
	t.Parallel()

	settings := DefaultSettings()
	settings.AllowEditSniping = false

	if settings.Allows(ChangeKindEdit) {
		t.Fatal("edits allowed while disabled")
	}
	if !settings.Allows(ChangeKindDelete) {
		t.Fatal("deletes not allowed while enabled")
	}
	if !settings.SnipingEnabled() {
		t.Fatal("sniping reported disabled")
	}

	view := settings.View()
	if view["allow_edit_sniping"] != "false" || view["snipe_response_type"] != "embed" || view["max_age"] != "1m0s" {
		t.Fatalf("view = %v", view)
	}
	if value, found := settings.Value(" Max_Age "); !found || value != "1m0s" {
		t.Fatalf("Value(max_age) = %q, %v", value, found)
	}
	if _, found := settings.Value("volume"); found {
		t.Fatal("unknown key reported found")
	}
}
