package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"ex-snipe/pkg/otogi"
)

var errBusClosed = errors.New("bus closed")

// busConfig carries the defaults applied to subscriptions that leave a
// SubscriptionSpec field unset.
type busConfig struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
	onAsyncError   AsyncErrorHandler
	metrics        *busMetrics
}

// EventBus fans events out to subscriptions. Publish reads an immutable
// snapshot of the subscription list, so it never contends with Subscribe.
type EventBus struct {
	cfg busConfig

	writeMu sync.Mutex
	subs    atomic.Pointer[[]*busSubscription]
	closed  atomic.Bool
	nextID  atomic.Int64
}

func newEventBus(cfg busConfig) *EventBus {
	bus := &EventBus{cfg: cfg}
	bus.subs.Store(&[]*busSubscription{})

	return bus
}

// Publish validates event and offers it to every matching subscription.
// Drops and closed queues are reported asynchronously; only a blocking
// enqueue interrupted by ctx fails the call.
func (b *EventBus) Publish(ctx context.Context, event *otogi.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	if b.closed.Load() {
		return fmt.Errorf("publish event %s: %w", event.Kind, errBusClosed)
	}
	b.cfg.metrics.observePublish(event.Kind)

	var failures []error
	for _, sub := range *b.subs.Load() {
		if !sub.interest.Matches(event) {
			continue
		}
		err := sub.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, otogi.ErrEventDropped):
			b.cfg.metrics.observeDrop(sub.spec.Name)
			b.reportAsyncError(ctx, sub.spec.Name, err)
		case errors.Is(err, otogi.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, sub.spec.Name, err)
		default:
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("publish event %s: %w", event.Kind, errors.Join(failures...))
	}

	return nil
}

// Subscribe starts workers for a new subscription.
func (b *EventBus) Subscribe(
	ctx context.Context,
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
) (otogi.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: nil handler", spec.Name)
	}
	spec = b.withDefaults(spec, b.nextID.Add(1))
	if _, ok := enqueuers[spec.Backpressure]; !ok {
		return nil, fmt.Errorf(
			"subscribe %s: backpressure %q: %w",
			spec.Name,
			spec.Backpressure,
			otogi.ErrInvalidSubscription,
		)
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.closed.Load() {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}

	sub := newBusSubscription(interest, spec, handler, b)
	next := append(slices.Clone(*b.subs.Load()), sub)
	b.subs.Store(&next)

	return sub, nil
}

// Close stops every subscription and rejects later Publish and Subscribe
// calls. Repeated calls are no-ops.
func (b *EventBus) Close(ctx context.Context) error {
	b.writeMu.Lock()
	if b.closed.Swap(true) {
		b.writeMu.Unlock()
		return nil
	}
	subs := *b.subs.Swap(&[]*busSubscription{})
	b.writeMu.Unlock()

	var failures []error
	for _, sub := range subs {
		if err := sub.shutdown(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(failures...))
	}

	return nil
}

// Stats reports every live subscription in subscription order.
func (b *EventBus) Stats() []otogi.SubscriptionStats {
	subs := *b.subs.Load()
	stats := make([]otogi.SubscriptionStats, 0, len(subs))
	for _, sub := range subs {
		stats = append(stats, sub.stats())
	}

	return stats
}

func (b *EventBus) withDefaults(spec otogi.SubscriptionSpec, id int64) otogi.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.cfg.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.cfg.workers
	}
	if spec.HandlerTimeout <= 0 {
		spec.HandlerTimeout = b.cfg.handlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = otogi.BackpressureDropNewest
	}

	return spec
}

func (b *EventBus) remove(ctx context.Context, target *busSubscription) error {
	b.writeMu.Lock()
	current := *b.subs.Load()
	index := slices.Index(current, target)
	if index >= 0 {
		next := slices.Delete(slices.Clone(current), index, index+1)
		b.subs.Store(&next)
	}
	b.writeMu.Unlock()

	if index < 0 {
		return nil
	}
	if err := target.shutdown(ctx); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", target.spec.Name, err)
	}

	return nil
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.cfg.onAsyncError != nil {
		b.cfg.onAsyncError(ctx, scope, err)
	}
}

// enqueuers maps each backpressure policy to its queue insertion strategy.
var enqueuers = map[otogi.BackpressurePolicy]func(*busSubscription, context.Context, *otogi.Event) error{
	otogi.BackpressureDropNewest: (*busSubscription).offer,
	otogi.BackpressureDropOldest: (*busSubscription).offerEvictingOldest,
	otogi.BackpressureBlock:      (*busSubscription).wait,
}

// busSubscription owns one queue and its workers. Workers stop on ctx
// cancellation; the queue channel is never closed.
type busSubscription struct {
	interest  otogi.InterestSet
	spec      otogi.SubscriptionSpec
	handler   otogi.EventHandler
	bus       *EventBus
	enqueueFn func(*busSubscription, context.Context, *otogi.Event) error

	queue  chan *otogi.Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	closed atomic.Bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func newBusSubscription(
	interest otogi.InterestSet,
	spec otogi.SubscriptionSpec,
	handler otogi.EventHandler,
	bus *EventBus,
) *busSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &busSubscription{
		interest:  interest.Clone(),
		spec:      spec,
		handler:   handler,
		bus:       bus,
		enqueueFn: enqueuers[spec.Backpressure],
		queue:     make(chan *otogi.Event, spec.Buffer),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	var workers sync.WaitGroup
	for worker := range spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			sub.work(worker)
		}()
	}
	go func() {
		workers.Wait()
		close(sub.done)
	}()

	return sub
}

func (s *busSubscription) Name() string {
	return s.spec.Name
}

// Close removes the subscription from its bus and waits for its workers.
func (s *busSubscription) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s)
}

func (s *busSubscription) enqueue(ctx context.Context, event *otogi.Event) error {
	if s.closed.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
	}

	return s.enqueueFn(s, ctx, event)
}

func (s *busSubscription) offer(_ context.Context, event *otogi.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
		s.dropped.Add(1)
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrEventDropped)
	}
}

// offerEvictingOldest makes room by discarding the head of the queue. The
// evicted event counts as the drop.
func (s *busSubscription) offerEvictingOldest(ctx context.Context, event *otogi.Event) error {
	select {
	case s.queue <- event:
		return nil
	default:
	}

	select {
	case <-s.queue:
		s.dropped.Add(1)
		s.bus.cfg.metrics.observeDrop(s.spec.Name)
	default:
	}

	return s.offer(ctx, event)
}

func (s *busSubscription) wait(ctx context.Context, event *otogi.Event) error {
	select {
	case s.queue <- event:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, otogi.ErrSubscriptionClosed)
	case <-ctx.Done():
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
	}
}

func (s *busSubscription) work(worker int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.deliver(worker, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// deliver runs the handler under the subscription timeout with panics
// converted to errors.
func (s *busSubscription) deliver(worker int, event *otogi.Event) error {
	ctx := s.ctx
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	started := time.Now()
	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	})
	s.bus.cfg.metrics.observeHandler(s.spec.Name, time.Since(started), err)

	s.delivered.Add(1)
	if err != nil {
		s.failed.Add(1)
		return fmt.Errorf("handle event %s: %w", event.Kind, err)
	}

	return nil
}

func (s *busSubscription) stats() otogi.SubscriptionStats {
	return otogi.SubscriptionStats{
		Name:         s.spec.Name,
		Backpressure: s.spec.Backpressure,
		Buffer:       s.spec.Buffer,
		Workers:      s.spec.Workers,
		Queued:       len(s.queue),
		Delivered:    s.delivered.Load(),
		Dropped:      s.dropped.Load(),
		Failed:       s.failed.Load(),
	}
}

func (s *busSubscription) shutdown(ctx context.Context) error {
	if !s.closed.Swap(true) {
		s.cancel()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
