package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ex-snipe/pkg/otogi"

	gotdtelegram "github.com/gotd/td/telegram"
	"github.com/knadh/koanf/v2"
)

const (
	defaultSessionFile    = ".cache/telegram/session.json"
	defaultPublishTimeout = 2 * time.Second
	defaultAuthTimeout    = 3 * time.Minute
	defaultUpdateBuffer   = 256
)

// runtimeConfig is the config sub-tree of one telegram driver entry.
type runtimeConfig struct {
	AppID          int           `koanf:"app_id"`
	AppHash        string        `koanf:"app_hash"`
	PublishTimeout time.Duration `koanf:"publish_timeout"`
	UpdateBuffer   int           `koanf:"update_buffer"`
	AuthTimeout    time.Duration `koanf:"auth_timeout"`
	Code           string        `koanf:"code"`
	Phone          string        `koanf:"phone"`
	Password       string        `koanf:"password"`
	SessionFile    string        `koanf:"session_file"`
}

func parseRuntimeConfig(raw *koanf.Koanf) (runtimeConfig, error) {
	if raw == nil || len(raw.Keys()) == 0 {
		return runtimeConfig{}, fmt.Errorf("missing config")
	}

	var cfg runtimeConfig
	if err := raw.Unmarshal("", &cfg); err != nil {
		return runtimeConfig{}, fmt.Errorf("unmarshal: %w", err)
	}
	for _, field := range []*string{&cfg.AppHash, &cfg.Code, &cfg.Phone, &cfg.Password, &cfg.SessionFile} {
		*field = strings.TrimSpace(*field)
	}

	switch {
	case cfg.AppID <= 0:
		return runtimeConfig{}, fmt.Errorf("app_id must be > 0")
	case cfg.AppHash == "":
		return runtimeConfig{}, fmt.Errorf("app_hash is required")
	case cfg.PublishTimeout < 0:
		return runtimeConfig{}, fmt.Errorf("publish_timeout must not be negative")
	case cfg.AuthTimeout < 0:
		return runtimeConfig{}, fmt.Errorf("auth_timeout must not be negative")
	}

	if cfg.PublishTimeout == 0 {
		cfg.PublishTimeout = defaultPublishTimeout
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = defaultAuthTimeout
	}
	if cfg.UpdateBuffer <= 0 {
		cfg.UpdateBuffer = defaultUpdateBuffer
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = defaultSessionFile
	}

	return cfg, nil
}

// BuildRuntimeFromConfig wires one logged-in account: the update channel
// feeds the driver, and the peers it learns let the dispatcher reply.
func BuildRuntimeFromConfig(
	name string,
	logger *slog.Logger,
	rawConfig *koanf.Koanf,
) (otogi.EventSource, otogi.Driver, otogi.SinkDispatcher, error) {
	fail := func(step string, err error) (otogi.EventSource, otogi.Driver, otogi.SinkDispatcher, error) {
		return otogi.EventSource{}, nil, nil, fmt.Errorf("build telegram runtime %s: %s: %w", name, step, err)
	}

	cfg, err := parseRuntimeConfig(rawConfig)
	if err != nil {
		return fail("parse config", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("driver", name, "platform", DriverPlatform)

	updates, err := NewGotdUpdateChannel(cfg.UpdateBuffer)
	if err != nil {
		return fail("update channel", err)
	}
	storage, err := newSessionStorage(cfg.SessionFile)
	if err != nil {
		return fail("session storage", err)
	}
	client := gotdtelegram.NewClient(cfg.AppID, cfg.AppHash, gotdtelegram.Options{
		UpdateHandler:  updates,
		SessionStorage: storage,
	})

	peers := NewPeerCache()
	source, err := NewGotdUserbotSource(
		loginSession{client: client, login: newLogin(cfg, logger)},
		updates,
		NewDefaultGotdUpdateMapper(WithPeerCache(peers)),
	)
	if err != nil {
		return fail("update source", err)
	}

	driver, err := NewDriver(source, NewDefaultDecoder(),
		WithName(name),
		WithPublishTimeout(cfg.PublishTimeout),
		WithErrorHandler(func(ctx context.Context, err error) {
			logger.ErrorContext(ctx, "telegram driver async error", "error", err)
		}),
	)
	if err != nil {
		return fail("driver", err)
	}

	sinkRef := otogi.EventSink{Platform: DriverPlatform, ID: name}
	sink, err := NewOutboundDispatcher(client, peers,
		WithOutboundTimeout(cfg.PublishTimeout),
		WithOutboundLogger(logger),
		WithSinkRef(sinkRef),
	)
	if err != nil {
		return fail("sink dispatcher", err)
	}

	return otogi.EventSource(sinkRef), driver, sink, nil
}
