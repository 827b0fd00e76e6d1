package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"ex-snipe/internal/admin"
	"ex-snipe/internal/config"
	"ex-snipe/internal/driver"
	"ex-snipe/internal/kernel"
	"ex-snipe/modules/help"
	"ex-snipe/modules/memory"
	"ex-snipe/modules/snipe"
	"ex-snipe/pkg/otogi"
)

const (
	envConfigFile         = "OTOGI_CONFIG_FILE"
	defaultConfigFilePath = "config/bot.yaml"

	driversConfigPath = "drivers"
	snipeConfigPath   = "snipe"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "otogi-snipe",
		Usage: "Chat bot that resurfaces recently edited and deleted messages",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				EnvVars: []string{envConfigFile},
				Value:   defaultConfigFilePath,
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Override log_level from the configuration file",
			},
		},
		Action: runBot,
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "Validate the configuration file and exit",
				Action: checkConfig,
			},
		},
	}
}

// bootstrap is everything decoded from configuration before any runtime
// component is built.
type bootstrap struct {
	loader   *config.Loader
	config   config.Config
	logLevel slog.Level
	drivers  []driver.Definition
	settings snipe.Settings
}

func loadBootstrap(path string, logLevelOverride string, registry *driver.Registry) (bootstrap, error) {
	loader := config.NewLoader(path)
	source, err := loader.Load()
	if err != nil {
		return bootstrap{}, err
	}

	cfg, err := config.Decode(source)
	if err != nil {
		return bootstrap{}, err
	}

	rawLevel := cfg.LogLevel
	if strings.TrimSpace(logLevelOverride) != "" {
		rawLevel = logLevelOverride
	}
	logLevel, err := config.ParseLogLevel(rawLevel)
	if err != nil {
		return bootstrap{}, fmt.Errorf("log level: %w", err)
	}

	definitions, err := driver.DefinitionsFromConfig(source, driversConfigPath)
	if err != nil {
		return bootstrap{}, err
	}
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if _, err := registry.PlatformForType(definition.Type); err != nil {
			return bootstrap{}, fmt.Errorf("driver %s: %w", definition.Name, err)
		}
	}

	settings, err := snipe.SettingsFromKoanf(source.Cut(snipeConfigPath))
	if err != nil {
		return bootstrap{}, fmt.Errorf("snipe settings: %w", err)
	}

	return bootstrap{
		loader:   loader,
		config:   cfg,
		logLevel: logLevel,
		drivers:  definitions,
		settings: settings,
	}, nil
}

func checkConfig(c *cli.Context) error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	boot, err := loadBootstrap(c.String("config"), c.String("log-level"), registry)
	if err != nil {
		return fmt.Errorf("check config: %w", err)
	}

	enabled := 0
	for _, definition := range boot.drivers {
		if definition.Enabled {
			enabled++
		}
	}

	out := c.App.Writer
	fmt.Fprintf(out, "config ok: %s\n", boot.loader.Path())
	fmt.Fprintf(out, "drivers: %d enabled of %d\n", enabled, len(boot.drivers))
	for _, field := range boot.settings.Fields() {
		fmt.Fprintf(out, "snipe.%s: %s\n", field[0], field[1])
	}

	return nil
}

func runBot(c *cli.Context) error {
	registry, err := driver.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("new builtin driver registry: %w", err)
	}

	boot, err := loadBootstrap(c.String("config"), c.String("log-level"), registry)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: boot.logLevel}))

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runRuntime(ctx, logger, boot, registry)
}

func runRuntime(ctx context.Context, logger *slog.Logger, boot bootstrap, registry *driver.Registry) error {
	metricsRegistry := prometheus.NewRegistry()
	kernelRuntime := buildKernelRuntime(logger, boot.config.Kernel, metricsRegistry)

	runtimes, err := registry.BuildEnabled(ctx, boot.drivers, logger)
	if err != nil {
		return fmt.Errorf("build drivers: %w", err)
	}
	sinks, err := driver.NewCompositeSinkDispatcher(runtimes)
	if err != nil {
		return fmt.Errorf("build sink dispatcher: %w", err)
	}

	if err := registerRuntimeDrivers(kernelRuntime, runtimes); err != nil {
		return err
	}
	if err := registerRuntimeServices(kernelRuntime, logger, sinks); err != nil {
		return err
	}

	snipeModule, err := buildSnipeModule(logger, boot, metricsRegistry)
	if err != nil {
		return err
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, snipeModule, help.New()); err != nil {
		return err
	}

	if address := boot.config.Admin.ListenAddress; address != "" {
		adminServer := admin.New(address,
			admin.WithLogger(logger),
			admin.WithGatherer(metricsRegistry),
			admin.WithSnipe(snipeModule),
			admin.WithSinks(sinks),
			admin.WithSubscriptions(kernelRuntime),
		)
		if err := adminServer.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), boot.config.Kernel.ShutdownTimeout)
			defer cancel()
			if err := adminServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("admin shutdown failed", "error", err)
			}
		}()
	}

	err = boot.loader.Watch(ctx, func(next *koanf.Koanf) {
		if err := reloadSnipeSettings(snipeModule, next); err != nil {
			logger.WarnContext(ctx, "snipe settings reload rejected", "error", err)
			return
		}
		logger.InfoContext(ctx, "snipe settings reloaded", "settings", snipeModule.Settings().View())
	})
	if err != nil {
		logger.WarnContext(ctx, "config hot reload disabled", "error", err)
	}

	if err := kernelRuntime.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run kernel: %w", err)
	}

	return nil
}

func buildKernelRuntime(logger *slog.Logger, cfg config.Kernel, registerer prometheus.Registerer) *kernel.Kernel {
	return kernel.New(
		kernel.WithLogger(logger),
		kernel.WithMetricsRegisterer(registerer),
		kernel.WithModuleHookTimeout(cfg.ModuleHookTimeout),
		kernel.WithShutdownTimeout(cfg.ShutdownTimeout),
		kernel.WithDefaultSubscriptionBuffer(cfg.DefaultSubscriptionBuffer),
		kernel.WithDefaultSubscriptionWorkers(cfg.DefaultSubscriptionWorkers),
		kernel.WithDefaultHandlerTimeout(cfg.DefaultHandlerTimeout),
	)
}

func buildSnipeModule(
	logger *slog.Logger,
	boot bootstrap,
	registerer prometheus.Registerer,
) (*snipe.Module, error) {
	if err := registerer.Register(collectors.NewGoCollector()); err != nil {
		return nil, fmt.Errorf("register go collector: %w", err)
	}
	metrics, err := snipe.NewMetrics(registerer)
	if err != nil {
		return nil, fmt.Errorf("snipe metrics: %w", err)
	}

	cache := memory.New(
		memory.WithLogger(logger),
		memory.WithMaxEntries(boot.config.Memory.Capacity),
		memory.WithTTL(boot.config.Memory.TTL),
	)

	return snipe.New(
		snipe.WithLogger(logger),
		snipe.WithSettings(boot.settings),
		snipe.WithMemoryCache(cache),
		snipe.WithMetrics(metrics),
	), nil
}

func reloadSnipeSettings(module *snipe.Module, next *koanf.Koanf) error {
	settings, err := snipe.SettingsFromKoanf(next.Cut(snipeConfigPath))
	if err != nil {
		return fmt.Errorf("reload snipe settings: %w", err)
	}

	return module.ApplySettings(settings)
}

func registerRuntimeServices(
	kernelRuntime *kernel.Kernel,
	logger *slog.Logger,
	sinkDispatcher otogi.SinkDispatcher,
) error {
	if err := kernelRuntime.RegisterService(snipe.ServiceLogger, logger); err != nil {
		return fmt.Errorf("register logger service: %w", err)
	}
	if sinkDispatcher == nil {
		return fmt.Errorf("register sink dispatcher service: nil dispatcher")
	}
	if err := kernelRuntime.RegisterService(otogi.ServiceSinkDispatcher, sinkDispatcher); err != nil {
		return fmt.Errorf("register sink dispatcher service: %w", err)
	}

	return nil
}

func registerRuntimeModules(ctx context.Context, kernelRuntime *kernel.Kernel, modules ...otogi.Module) error {
	for _, module := range modules {
		if err := kernelRuntime.RegisterModule(ctx, module); err != nil {
			return fmt.Errorf("register %s module: %w", module.Name(), err)
		}
	}

	return nil
}

func registerRuntimeDrivers(kernelRuntime *kernel.Kernel, runtimes []driver.Runtime) error {
	for _, runtime := range runtimes {
		if err := kernelRuntime.RegisterDriver(runtime.Driver); err != nil {
			return fmt.Errorf("register driver %s: %w", runtime.Driver.Name(), err)
		}
	}

	return nil
}
