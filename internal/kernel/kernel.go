package kernel

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"ex-snipe/pkg/otogi"
)

// Kernel wires drivers to modules. It owns the event bus, the service
// registry and the command table, and runs every lifecycle hook.
type Kernel struct {
	cfg config

	bus      *EventBus
	services *ServiceRegistry
	commands *commandTable

	mu      sync.RWMutex
	modules []*moduleRecord
	drivers []otogi.Driver

	running sync.Mutex
}

// New builds an idle kernel. Metrics registration failures are reported to
// the async error handler and leave the bus uninstrumented.
func New(options ...Option) *Kernel {
	cfg := defaultConfig()
	for _, option := range options {
		option(&cfg)
	}

	if cfg.registerer != nil {
		metrics, err := newBusMetrics(cfg.registerer)
		if err != nil {
			cfg.bus.onAsyncError(context.Background(), "kernel metrics", err)
		}
		cfg.bus.metrics = metrics
	}

	k := &Kernel{
		cfg:      cfg,
		bus:      newEventBus(cfg.bus),
		services: NewServiceRegistry(),
		commands: newCommandTable(),
	}
	catalog := &commandCatalog{commands: k.commands}
	if err := k.services.Register(otogi.ServiceCommandCatalog, catalog); err != nil {
		k.bus.reportAsyncError(context.Background(), "command catalog", err)
	}

	return k
}

func (k *Kernel) EventBus() otogi.EventBus {
	return k.bus
}

// Subscriptions reports queue statistics for every live subscription.
func (k *Kernel) Subscriptions() []otogi.SubscriptionStats {
	return k.bus.Stats()
}

func (k *Kernel) Services() otogi.ServiceRegistry {
	return k.services
}

func (k *Kernel) RegisterService(name string, service any) error {
	if err := k.services.Register(name, service); err != nil {
		return fmt.Errorf("register service %s: %w", name, err)
	}

	return nil
}

// RegisterModule admits module into the kernel in four steps: validate its
// spec, claim its commands, run OnRegister and subscribe its declared
// handlers. A failure at any step removes whatever the earlier steps added.
func (k *Kernel) RegisterModule(ctx context.Context, module otogi.Module) error {
	if module == nil {
		return fmt.Errorf("register module: nil module")
	}
	name := module.Name()
	if name == "" {
		return fmt.Errorf("register module: empty module name")
	}
	if err := k.admit(ctx, name, module); err != nil {
		return fmt.Errorf("register module %s: %w", name, err)
	}

	return nil
}

func (k *Kernel) admit(ctx context.Context, name string, module otogi.Module) error {
	spec := module.Spec()
	if err := validateModuleSpec(spec); err != nil {
		return err
	}
	record := &moduleRecord{name: name, module: module, capabilities: spec.Capabilities()}
	if err := k.checkRequiredServices(record.capabilities); err != nil {
		return err
	}
	if err := k.addModule(record); err != nil {
		return err
	}

	hookCtx, cancel := context.WithTimeout(ctx, k.cfg.hookTimeout)
	defer cancel()

	err := k.commands.claim(name, spec.Commands)
	if err == nil {
		err = k.bindModule(hookCtx, record, spec)
	}
	if err != nil {
		k.rollbackModule(ctx, record)
		return err
	}

	return nil
}

func (k *Kernel) bindModule(ctx context.Context, record *moduleRecord, spec otogi.ModuleSpec) error {
	runtime := &moduleRuntime{record: record, services: k.services, bus: k.bus}

	if registrar, ok := record.module.(otogi.ModuleRegistrar); ok {
		if err := runSafely("module "+record.name+" OnRegister", func() error {
			return registrar.OnRegister(ctx, runtime)
		}); err != nil {
			return err
		}
	}

	for index, declared := range spec.Handlers {
		subscription := declared.Subscription
		if subscription.Name == "" {
			subscription.Name = fmt.Sprintf("%s-handler-%d", record.name, index+1)
		}
		_, err := runtime.Subscribe(ctx, declared.Capability.Interest, subscription, declared.Handler)
		if err != nil {
			return fmt.Errorf("capability %s: %w", declared.Capability.Name, err)
		}
	}

	return nil
}

func (k *Kernel) RegisterDriver(driver otogi.Driver) error {
	if driver == nil {
		return fmt.Errorf("register driver: nil driver")
	}
	name := driver.Name()
	if name == "" {
		return fmt.Errorf("register driver: empty name")
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.drivers, func(existing otogi.Driver) bool { return existing.Name() == name }) {
		return fmt.Errorf("register driver %s: %w", name, otogi.ErrDriverAlreadyRegistered)
	}
	k.drivers = append(k.drivers, driver)

	return nil
}

func (k *Kernel) addModule(record *moduleRecord) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if slices.ContainsFunc(k.modules, func(existing *moduleRecord) bool { return existing.name == record.name }) {
		return otogi.ErrModuleAlreadyRegistered
	}
	k.modules = append(k.modules, record)

	return nil
}

func (k *Kernel) moduleSnapshot() []*moduleRecord {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.modules)
}

func (k *Kernel) driverSnapshot() []otogi.Driver {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return slices.Clone(k.drivers)
}

// rollbackModule undoes a partial registration. Subscription cleanup is best
// effort and reported asynchronously.
func (k *Kernel) rollbackModule(ctx context.Context, record *moduleRecord) {
	rollbackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), k.cfg.hookTimeout)
	defer cancel()

	if err := record.closeSubscriptions(rollbackCtx); err != nil {
		k.bus.reportAsyncError(rollbackCtx, "rollback module "+record.name, err)
	}
	k.commands.release(record.name)

	k.mu.Lock()
	defer k.mu.Unlock()
	k.modules = slices.DeleteFunc(k.modules, func(existing *moduleRecord) bool { return existing == record })
}

func (k *Kernel) checkRequiredServices(capabilities []otogi.Capability) error {
	for _, capability := range capabilities {
		for _, service := range capability.RequiredServices {
			if _, err := k.services.Resolve(service); err != nil {
				return fmt.Errorf("capability %s requires service %s: %w", capability.Name, service, err)
			}
		}
	}

	return nil
}

// validateModuleSpec rejects specs the kernel could not bind unambiguously.
func validateModuleSpec(spec otogi.ModuleSpec) error {
	capabilities := make(map[string]struct{})
	subscriptions := make(map[string]struct{})
	commands := make(map[string]struct{})

	claim := func(seen map[string]struct{}, what string, name string) error {
		if _, exists := seen[name]; exists {
			return fmt.Errorf("duplicate %s %s", what, name)
		}
		seen[name] = struct{}{}
		return nil
	}

	for index, handler := range spec.Handlers {
		name := handler.Capability.Name
		switch {
		case name == "":
			return fmt.Errorf("module handler %d: empty capability name", index)
		case handler.Handler == nil:
			return fmt.Errorf("module handler %s: nil handler", name)
		}
		if err := claim(capabilities, "capability name", name); err != nil {
			return fmt.Errorf("module handler %d: %w", index, err)
		}
		if subscription := handler.Subscription.Name; subscription != "" {
			if err := claim(subscriptions, "subscription name", subscription); err != nil {
				return fmt.Errorf("module handler %s: %w", name, err)
			}
		}
	}
	for index, capability := range spec.AdditionalCapabilities {
		if capability.Name == "" {
			return fmt.Errorf("additional capability %d: empty capability name", index)
		}
		if err := claim(capabilities, "capability name", capability.Name); err != nil {
			return fmt.Errorf("additional capability %d: %w", index, err)
		}
	}
	for index, command := range spec.Commands {
		if err := command.Validate(); err != nil {
			return fmt.Errorf("module command %d: %w", index, err)
		}
		if err := claim(commands, "command", command.Label()); err != nil {
			return fmt.Errorf("module command %d: %w", index, err)
		}
	}

	return nil
}
