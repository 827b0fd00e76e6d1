package otogi

import (
	"context"
	"time"
)

// BackpressurePolicy decides what Publish does when a subscriber queue is full.
type BackpressurePolicy string

const (
	// BackpressureDropNewest drops the incoming event when full.
	BackpressureDropNewest BackpressurePolicy = "drop_newest"
	// BackpressureDropOldest evicts the oldest queued event before enqueue.
	BackpressureDropOldest BackpressurePolicy = "drop_oldest"
	// BackpressureBlock blocks until queue space is available or context is canceled.
	BackpressureBlock BackpressurePolicy = "block"
)

// SubscriptionSpec tunes one subscription. Zero fields fall back to kernel
// defaults.
type SubscriptionSpec struct {
	Name           string
	Buffer         int
	Workers        int
	HandlerTimeout time.Duration
	Backpressure   BackpressurePolicy
}

// NewDefaultSubscriptionSpec returns a named spec that leaves every tuning
// field to kernel defaults.
func NewDefaultSubscriptionSpec(name string) SubscriptionSpec {
	return SubscriptionSpec{Name: name}
}

// SubscriptionStats is a point-in-time view of one subscription's queue.
type SubscriptionStats struct {
	Name         string             `json:"name"`
	Backpressure BackpressurePolicy `json:"backpressure"`
	Buffer       int                `json:"buffer"`
	Workers      int                `json:"workers"`
	Queued       int                `json:"queued"`
	Delivered    uint64             `json:"delivered"`
	Dropped      uint64             `json:"dropped"`
	Failed       uint64             `json:"failed"`
}

// Subscription controls an active event stream registration.
type Subscription interface {
	// Name returns the subscription identifier.
	Name() string
	// Close stops delivery for this subscription.
	Close(ctx context.Context) error
}

// EventBus fans published events out to bounded, worker-drained queues.
type EventBus interface {
	EventDispatcher
	// Subscribe starts delivering events selected by interest to handler.
	Subscribe(
		ctx context.Context,
		interest InterestSet,
		spec SubscriptionSpec,
		handler EventHandler,
	) (Subscription, error)
	// Close shuts down the bus and all active subscriptions.
	Close(ctx context.Context) error
}
