package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"ex-snipe/pkg/otogi"
)

// moduleRecord is the kernel's bookkeeping for one registered module. Every
// subscription made on the module's behalf is tracked so shutdown and
// rollback can close them.
type moduleRecord struct {
	name         string
	module       otogi.Module
	capabilities []otogi.Capability

	mu            sync.Mutex
	subscriptions []otogi.Subscription
}

func (m *moduleRecord) track(subscription otogi.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes and forgets every tracked subscription, so a
// second call does nothing.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var failures []error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			failures = append(failures, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return errors.Join(failures...)
}

// covers reports whether some declared capability admits interest.
func (m *moduleRecord) covers(interest otogi.InterestSet) bool {
	return slices.ContainsFunc(m.capabilities, func(capability otogi.Capability) bool {
		return capability.Interest.Covers(interest)
	})
}

// moduleRuntime is the otogi.ModuleRuntime a module receives in OnRegister.
type moduleRuntime struct {
	record   *moduleRecord
	services otogi.ServiceRegistry
	bus      otogi.EventBus
}

func (r *moduleRuntime) Services() otogi.ServiceRegistry {
	return r.services
}

// Subscribe is EventBus.Subscribe restricted to the module's declared
// capabilities. The subscription is closed with the module.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	name := r.record.name
	if spec.Name == "" {
		spec.Name = name + "-subscription"
	}
	if !r.record.covers(interest) {
		return nil, fmt.Errorf(
			"module %s subscribe %s: %w: interest not covered by declared capabilities",
			name,
			spec.Name,
			otogi.ErrInvalidSubscription,
		)
	}

	subscription, err := r.bus.Subscribe(ctx, interest, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", name, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

var _ otogi.ModuleRuntime = (*moduleRuntime)(nil)
