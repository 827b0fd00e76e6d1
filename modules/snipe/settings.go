package snipe

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/v2"
)

// ErrInvalidSetting indicates a rejected settings value.
var ErrInvalidSetting = errors.New("snipe: invalid setting")

// ResponseType selects how a snipe is presented.
type ResponseType string

const (
	// ResponseTypeEmbed replies with a formatted summary.
	ResponseTypeEmbed ResponseType = "embed"
	// ResponseTypeWebhook re-sends the content under the author's persona.
	ResponseTypeWebhook ResponseType = "webhook"
)

// ParseResponseType accepts the configured name of a response type.
func ParseResponseType(raw string) (ResponseType, error) {
	switch responseType := ResponseType(strings.ToLower(strings.TrimSpace(raw))); responseType {
	case ResponseTypeEmbed, ResponseTypeWebhook:
		return responseType, nil
	default:
		return "", fmt.Errorf("%w: snipe_response_type %q is not one of embed, webhook", ErrInvalidSetting, raw)
	}
}

const (
	keyAllowEditSniping     = "allow_edit_sniping"
	keyAllowDeletionSniping = "allow_deletion_sniping"
	keyMaxAge               = "max_age"
	keyResponseType         = "snipe_response_type"
	keySweepInterval        = "sweep_interval"
	keyConfirmTimeout       = "confirm_timeout"
	keyRatePerMinute        = "rate_limit.per_minute"
	keyRateBurst            = "rate_limit.burst"
	keyAdmins               = "admins"
)

// RateLimit bounds /snipe invocations per conversation.
type RateLimit struct {
	PerMinute int `koanf:"per_minute"`
	Burst     int `koanf:"burst"`
}

// Settings are the runtime knobs of the module.
type Settings struct {
	AllowEditSniping     bool          `koanf:"allow_edit_sniping"`
	AllowDeletionSniping bool          `koanf:"allow_deletion_sniping"`
	MaxAge               time.Duration `koanf:"max_age"`
	ResponseType         ResponseType  `koanf:"snipe_response_type"`
	SweepInterval        time.Duration `koanf:"sweep_interval"`
	ConfirmTimeout       time.Duration `koanf:"confirm_timeout"`
	RateLimit            RateLimit     `koanf:"rate_limit"`
	// Admins lists actor ids allowed to change settings from chat.
	Admins []string `koanf:"admins"`
}

// DefaultSettings returns the settings used when nothing is configured.
func DefaultSettings() Settings {
	return Settings{
		AllowEditSniping:     true,
		AllowDeletionSniping: true,
		MaxAge:               60 * time.Second,
		ResponseType:         ResponseTypeEmbed,
		SweepInterval:        3 * time.Second,
		ConfirmTimeout:       60 * time.Second,
		RateLimit: RateLimit{
			PerMinute: 20,
			Burst:     5,
		},
	}
}

// minMaxAge is the shortest accepted max_age.
const minMaxAge = time.Second

// SettingsFromKoanf decodes the snipe section over DefaultSettings. Duration
// fields accept Go duration strings or a bare number of seconds.
func SettingsFromKoanf(k *koanf.Koanf) (Settings, error) {
	settings := DefaultSettings()
	if k == nil {
		return settings, nil
	}
	err := k.UnmarshalWithConf("", &settings, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				secondsDurationHook,
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
		},
	})
	if err != nil {
		return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSetting, err)
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}

	return settings, nil
}

// Validate checks every field.
func (s Settings) Validate() error {
	if _, err := ParseResponseType(string(s.ResponseType)); err != nil {
		return err
	}
	if s.MaxAge < minMaxAge {
		return fmt.Errorf("%w: %s must be at least %s", ErrInvalidSetting, keyMaxAge, minMaxAge)
	}
	if s.SweepInterval <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidSetting, keySweepInterval)
	}
	if s.ConfirmTimeout <= 0 {
		return fmt.Errorf("%w: %s must be > 0", ErrInvalidSetting, keyConfirmTimeout)
	}
	if s.RateLimit.PerMinute < 0 {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidSetting, keyRatePerMinute)
	}
	if s.RateLimit.PerMinute > 0 && s.RateLimit.Burst <= 0 {
		return fmt.Errorf("%w: %s must be > 0 when rate limiting", ErrInvalidSetting, keyRateBurst)
	}

	return nil
}

// SnipingEnabled reports whether any kind of change can be sniped.
func (s Settings) SnipingEnabled() bool {
	return s.AllowEditSniping || s.AllowDeletionSniping
}

// Allows reports whether records of kind may be tracked and sniped.
func (s Settings) Allows(kind ChangeKind) bool {
	switch kind {
	case ChangeKindEdit:
		return s.AllowEditSniping
	case ChangeKindDelete:
		return s.AllowDeletionSniping
	default:
		return false
	}
}

// IsAdmin reports whether actorID may change settings.
func (s Settings) IsAdmin(actorID string) bool {
	return actorID != "" && slices.Contains(s.Admins, actorID)
}

// With returns a copy with one chat-editable key replaced. The result is
// validated; admins are not editable from chat.
func (s Settings) With(key string, value string) (Settings, error) {
	next := s
	next.Admins = slices.Clone(s.Admins)
	value = strings.TrimSpace(value)

	var err error
	switch strings.ToLower(strings.TrimSpace(key)) {
	case keyAllowEditSniping:
		next.AllowEditSniping, err = strconv.ParseBool(value)
	case keyAllowDeletionSniping:
		next.AllowDeletionSniping, err = strconv.ParseBool(value)
	case keyMaxAge:
		next.MaxAge, err = parseDuration(value)
	case keyResponseType:
		next.ResponseType, err = ParseResponseType(value)
	case keySweepInterval:
		next.SweepInterval, err = parseDuration(value)
	case keyConfirmTimeout:
		next.ConfirmTimeout, err = parseDuration(value)
	case keyRatePerMinute:
		next.RateLimit.PerMinute, err = strconv.Atoi(value)
	case keyRateBurst:
		next.RateLimit.Burst, err = strconv.Atoi(value)
	default:
		return Settings{}, fmt.Errorf("%w: unknown key %q", ErrInvalidSetting, key)
	}
	if err != nil {
		if errors.Is(err, ErrInvalidSetting) {
			return Settings{}, err
		}
		return Settings{}, fmt.Errorf("%w: %s: %w", ErrInvalidSetting, key, err)
	}
	if err := next.Validate(); err != nil {
		return Settings{}, err
	}

	return next, nil
}

// parseDuration reads a Go duration, or a bare number as seconds.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if seconds, err := strconv.ParseFloat(raw, 64); err == nil {
		return secondsToDuration(seconds), nil
	}

	return time.ParseDuration(raw)
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// secondsDurationHook decodes numbers and strings into time.Duration fields
// with parseDuration's rules. YAML `max_age: 60` is sixty seconds.
func secondsDurationHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to != reflect.TypeFor[time.Duration]() || from == to {
		return data, nil
	}

	value := reflect.ValueOf(data)
	switch value.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return time.Duration(value.Int()) * time.Second, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return time.Duration(value.Uint()) * time.Second, nil
	case reflect.Float32, reflect.Float64:
		return secondsToDuration(value.Float()), nil
	case reflect.String:
		return parseDuration(value.String())
	default:
		return data, nil
	}
}

// Fields lists the settings as ordered key/value pairs.
func (s Settings) Fields() [][2]string {
	return [][2]string{
		{keyAllowEditSniping, strconv.FormatBool(s.AllowEditSniping)},
		{keyAllowDeletionSniping, strconv.FormatBool(s.AllowDeletionSniping)},
		{keyMaxAge, s.MaxAge.String()},
		{keyResponseType, string(s.ResponseType)},
		{keySweepInterval, s.SweepInterval.String()},
		{keyConfirmTimeout, s.ConfirmTimeout.String()},
		{keyRatePerMinute, strconv.Itoa(s.RateLimit.PerMinute)},
		{keyRateBurst, strconv.Itoa(s.RateLimit.Burst)},
		{keyAdmins, strings.Join(s.Admins, ",")},
	}
}

// Value returns the formatted value of key.
func (s Settings) Value(key string) (string, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	for _, field := range s.Fields() {
		if field[0] == key {
			return field[1], true
		}
	}

	return "", false
}

// View returns the settings keyed by configuration name.
func (s Settings) View() map[string]string {
	fields := s.Fields()
	view := make(map[string]string, len(fields))
	for _, field := range fields {
		view[field[0]] = field[1]
	}

	return view
}
