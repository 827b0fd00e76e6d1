package kernel

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ex-snipe/pkg/otogi"
)

// busMetrics is nil-safe so a kernel built without a registerer pays nothing.
type busMetrics struct {
	published       *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
}

func newBusMetrics(registerer prometheus.Registerer) (*busMetrics, error) {
	metrics := &busMetrics{
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otogi",
			Subsystem: "bus",
			Name:      "events_published_total",
			Help:      "Events accepted by Publish, by kind.",
		}, []string{"kind"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otogi",
			Subsystem: "bus",
			Name:      "events_dropped_total",
			Help:      "Events discarded by a full subscription queue.",
		}, []string{"subscription"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otogi",
			Subsystem: "bus",
			Name:      "handler_failures_total",
			Help:      "Handler calls that returned an error or panicked.",
		}, []string{"subscription"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "otogi",
			Subsystem: "bus",
			Name:      "handler_duration_seconds",
			Help:      "Wall time of handler calls.",
			Buckets:   []float64{.001, .005, .025, .1, .5, 1, 3, 10},
		}, []string{"subscription"}),
	}

	for _, collector := range []prometheus.Collector{
		metrics.published,
		metrics.dropped,
		metrics.handlerFailures,
		metrics.handlerDuration,
	} {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("register bus metrics: %w", err)
		}
	}

	return metrics, nil
}

func (m *busMetrics) observePublish(kind otogi.EventKind) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(string(kind)).Inc()
}

func (m *busMetrics) observeDrop(subscription string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(subscription).Inc()
}

func (m *busMetrics) observeHandler(subscription string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.handlerDuration.WithLabelValues(subscription).Observe(elapsed.Seconds())
	if err != nil {
		m.handlerFailures.WithLabelValues(subscription).Inc()
	}
}
