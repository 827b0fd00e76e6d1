package snipe

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"ex-snipe/pkg/otogi"
)

const metricsNamespace = "otogi_snipe"

// Metrics are the module's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	recorded     *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	snipes       *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	evictions    prometheus.Counter
	deletions    prometheus.Counter
	tracked      prometheus.Gauge
	pendingAcks  prometheus.Gauge
	rateLimited  prometheus.Counter
	configWrites *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with registerer when
// it is non-nil.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_total",
			Help:      "Change records appended to the tracking store.",
		}, []string{"kind"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "records_skipped_total",
			Help:      "Observed changes that produced no record.",
		}, []string{"reason"}),
		snipes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "requests_total",
			Help:      "Snipe requests by outcome.",
		}, []string{"outcome"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "presentation_fallbacks_total",
			Help:      "Webhook presentations that fell back to embed, by outbound error kind.",
		}, []string{"reason"}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sweeper_evictions_total",
			Help:      "Tracked messages evicted by the expiry sweeper.",
		}),
		deletions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "responses_deleted_total",
			Help:      "Snipe responses deleted after acknowledgment.",
		}),
		tracked: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "tracked_messages",
			Help:      "Messages currently held by the tracking store.",
		}),
		pendingAcks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "pending_confirmations",
			Help:      "Snipe responses waiting for a delete acknowledgment.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rate_limited_total",
			Help:      "Snipe requests rejected by the per-conversation limiter.",
		}),
		configWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "settings_writes_total",
			Help:      "Settings updates by result.",
		}, []string{"result"}),
	}
	if registerer == nil {
		return metrics, nil
	}

	for _, collector := range metrics.collectors() {
		if err := registerer.Register(collector); err != nil {
			return nil, fmt.Errorf("register snipe metrics: %w", err)
		}
	}

	return metrics, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.recorded,
		m.skipped,
		m.snipes,
		m.fallbacks,
		m.evictions,
		m.deletions,
		m.tracked,
		m.pendingAcks,
		m.rateLimited,
		m.configWrites,
	}
}

func (m *Metrics) recordAppended(kind ChangeKind) {
	if m == nil {
		return
	}
	m.recorded.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) recordSkipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) snipeResolved(outcome Outcome) {
	if m == nil {
		return
	}
	m.snipes.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) presentationFellBack(reason otogi.OutboundErrorKind) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(string(reason)).Inc()
}

func (m *Metrics) swept(evicted int, tracked int, pending int) {
	if m == nil {
		return
	}
	m.evictions.Add(float64(evicted))
	m.tracked.Set(float64(tracked))
	m.pendingAcks.Set(float64(pending))
}

func (m *Metrics) responseDeleted() {
	if m == nil {
		return
	}
	m.deletions.Inc()
}

func (m *Metrics) limited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) settingsWritten(result string) {
	if m == nil {
		return
	}
	m.configWrites.WithLabelValues(result).Inc()
}
