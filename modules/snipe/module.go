package snipe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ex-snipe/modules/memory"
	"ex-snipe/pkg/otogi"
)

// ServiceLogger is the optional service registry key for structured logging.
const ServiceLogger = "logger"

const (
	snipeCommandName   = "snipe"
	unsnipeCommandName = "unsnipe"
	configCommandName  = "snipe-config"
)

// responseRetention is how long a sent response is recognized as the
// module's own message.
const responseRetention = time.Hour

// Option mutates module configuration.
type Option func(*Module)

// WithLogger injects a logger directly, bypassing service lookup.
func WithLogger(logger *slog.Logger) Option {
	return func(module *Module) {
		if logger != nil {
			module.logger = logger
			module.loggerInjected = true
		}
	}
}

// WithSettings replaces DefaultSettings. Settings are validated on register.
func WithSettings(settings Settings) Option {
	return func(module *Module) {
		module.settings = settings
	}
}

// WithMetrics records module activity into metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(module *Module) {
		module.metrics = metrics
	}
}

// WithMemoryCache replaces the default content cache.
func WithMemoryCache(cache *memory.Cache) Option {
	return func(module *Module) {
		if cache != nil {
			module.cache = cache
		}
	}
}

// Module tracks edited and deleted messages and serves /snipe.
type Module struct {
	logger         *slog.Logger
	loggerInjected bool
	dispatcher     otogi.SinkDispatcher
	memory         otogi.MemoryService
	cache          *memory.Cache
	store          *Store
	confirmations  *confirmations
	limiter        *conversationLimiter
	metrics        *Metrics
	clock          func() time.Time

	settingsMu sync.RWMutex
	settings   Settings

	lifecycleMu sync.Mutex
	stopSweeper context.CancelFunc
	sweeperDone chan struct{}
}

// Stats summarizes in-memory state.
type Stats struct {
	TrackedMessages      int `json:"tracked_messages"`
	PendingConfirmations int `json:"pending_confirmations"`
	CachedArticles       int `json:"cached_articles"`
}

// New creates a snipe module with empty state.
func New(options ...Option) *Module {
	module := &Module{
		logger:        slog.Default(),
		cache:         memory.New(),
		store:         NewStore(),
		confirmations: newConfirmations(),
		limiter:       newConversationLimiter(),
		clock:         time.Now,
		settings:      DefaultSettings(),
	}
	for _, option := range options {
		option(module)
	}

	return module
}

// Name returns the stable module identifier.
func (m *Module) Name() string {
	return "snipe"
}

// Spec declares the tracker, command and acknowledgment handlers.
func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "snipe-tracker",
					Description: "records edited and deleted articles for sniping",
					Interest: otogi.InterestSet{
						Kinds: []otogi.EventKind{
							otogi.EventKindArticleCreated,
							otogi.EventKindArticleEdited,
							otogi.EventKindArticleRetracted,
						},
					},
				},
				Subscription: otogi.SubscriptionSpec{
					Name:         "snipe-tracker",
					Workers:      1,
					Backpressure: otogi.BackpressureBlock,
				},
				Handler: m.handleArticle,
			},
			{
				Capability: otogi.Capability{
					Name:        "snipe-command-handler",
					Description: "presents the latest change for /snipe and deletes responses for /unsnipe",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{snipeCommandName, unsnipeCommandName},
						RequireArticle: true,
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("snipe-commands"),
				Handler:      m.handleCommand,
			},
			{
				Capability: otogi.Capability{
					Name:        "snipe-config-handler",
					Description: "shows and changes snipe settings for admins",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindSystemCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{configCommandName},
						RequireArticle: true,
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("snipe-config"),
				Handler:      m.handleConfigCommand,
			},
			{
				Capability: otogi.Capability{
					Name:        "snipe-delete-acknowledgment",
					Description: "deletes snipe responses on a " + deleteEmoji + " reaction",
					Interest: otogi.InterestSet{
						Kinds:           []otogi.EventKind{otogi.EventKindArticleReactionAdded},
						RequireReaction: true,
					},
					RequiredServices: []string{otogi.ServiceSinkDispatcher},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("snipe-reactions"),
				Handler:      m.handleReaction,
			},
		},
		Commands: []otogi.CommandSpec{
			{
				Prefix:      otogi.CommandPrefixOrdinary,
				Name:        snipeCommandName,
				Description: "show the most recently edited or deleted message",
			},
			{
				Prefix:      otogi.CommandPrefixOrdinary,
				Name:        unsnipeCommandName,
				Description: "delete a snipe response, sent as a reply to it",
			},
			{
				Prefix:      otogi.CommandPrefixSystem,
				Name:        configCommandName,
				Description: "show or change snipe settings",
				Usage:       "[key [value]]",
				MaxArgs:     2,
			},
		},
	}
}

// OnRegister resolves dependencies and publishes the content cache as the
// shared memory service.
func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	if !m.loggerInjected {
		logger, found, err := otogi.ResolveOptional[*slog.Logger](runtime.Services(), ServiceLogger)
		if err != nil {
			return fmt.Errorf("snipe resolve logger: %w", err)
		}
		if found {
			m.logger = logger
		}
	}

	if err := m.currentSettings().Validate(); err != nil {
		return fmt.Errorf("snipe settings: %w", err)
	}

	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](
		runtime.Services(),
		otogi.ServiceSinkDispatcher,
	)
	if err != nil {
		return fmt.Errorf("snipe resolve sink dispatcher: %w", err)
	}
	m.dispatcher = dispatcher

	if err := runtime.Services().Register(otogi.ServiceMemory, m.cache); err != nil {
		return fmt.Errorf("snipe register service %s: %w", otogi.ServiceMemory, err)
	}
	memoryService, err := otogi.ResolveAs[otogi.MemoryService](runtime.Services(), otogi.ServiceMemory)
	if err != nil {
		return fmt.Errorf("snipe resolve memory: %w", err)
	}
	m.memory = memoryService

	return nil
}

// OnStart starts the expiry sweeper.
func (m *Module) OnStart(ctx context.Context) error {
	m.lifecycleMu.Lock()
	defer m.lifecycleMu.Unlock()

	if m.stopSweeper != nil {
		return fmt.Errorf("snipe start: already started")
	}

	sweeperCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	m.stopSweeper = cancel
	m.sweeperDone = done
	go m.runSweeper(sweeperCtx, done)

	settings := m.currentSettings()
	m.logger.InfoContext(ctx,
		"snipe module started",
		"module", m.Name(),
		"max_age", settings.MaxAge,
		"sweep_interval", settings.SweepInterval,
		"response_type", settings.ResponseType,
	)

	return nil
}

// OnShutdown stops the sweeper and drops all tracked state.
func (m *Module) OnShutdown(ctx context.Context) error {
	m.lifecycleMu.Lock()
	stop := m.stopSweeper
	done := m.sweeperDone
	m.stopSweeper = nil
	m.sweeperDone = nil
	m.lifecycleMu.Unlock()

	if stop != nil {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("snipe shutdown: wait for sweeper: %w", ctx.Err())
		}
	}

	tracked := m.store.Len()
	m.store.Reset()
	m.confirmations.reset()
	m.cache.Reset()

	m.logger.InfoContext(ctx,
		"snipe module stopped",
		"module", m.Name(),
		"dropped_messages", tracked,
	)

	return nil
}

// Settings returns the active settings.
func (m *Module) Settings() Settings {
	return m.currentSettings()
}

// ApplySettings validates and activates settings. Invalid settings are
// rejected and the active ones stay in place.
func (m *Module) ApplySettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		m.metrics.settingsWritten("rejected")
		return fmt.Errorf("apply snipe settings: %w", err)
	}

	m.settingsMu.Lock()
	m.settings = settings
	m.settingsMu.Unlock()
	m.metrics.settingsWritten("applied")

	return nil
}

// Stats reports in-memory state sizes.
func (m *Module) Stats() Stats {
	return Stats{
		TrackedMessages:      m.store.Len(),
		PendingConfirmations: m.confirmations.len(),
		CachedArticles:       m.cache.Len(),
	}
}

func (m *Module) currentSettings() Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()

	return m.settings
}

func (m *Module) now() time.Time {
	return m.clock().UTC()
}

func withClock(clock func() time.Time) Option {
	return func(module *Module) {
		if clock != nil {
			module.clock = clock
		}
	}
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
