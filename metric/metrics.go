package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all engine-level metrics (not transport-specific)
type Metrics struct {
	// Signal flow metrics
	SignalsReceived  *prometheus.CounterVec
	UpdatesDelivered *prometheus.CounterVec
	UpdatesDropped   *prometheus.CounterVec
	DispatchDuration *prometheus.HistogramVec
	DispatchErrors   *prometheus.CounterVec

	// Session and subscription metrics
	SessionsActive      prometheus.Gauge
	SubscriptionsActive prometheus.Gauge

	// Bundle scheduler metrics
	BundlesSubmitted *prometheus.CounterVec
	BundlesApplied   *prometheus.CounterVec
	PendingBundles   prometheus.Gauge

	// State metrics
	StateEntries prometheus.Gauge
	GesturesOpen prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all engine metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SignalsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasp",
				Subsystem: "signals",
				Name:      "received_total",
				Help:      "Total number of signal operations received",
			},
			[]string{"type"},
		),

		UpdatesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasp",
				Subsystem: "updates",
				Name:      "delivered_total",
				Help:      "Total number of updates delivered to subscribers",
			},
			[]string{"type"},
		),

		UpdatesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasp",
				Subsystem: "updates",
				Name:      "dropped_total",
				Help:      "Total number of updates dropped before delivery",
			},
			[]string{"type", "reason"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "clasp",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Signal dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),

		DispatchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasp",
				Subsystem: "dispatch",
				Name:      "errors_total",
				Help:      "Total number of rejected or failed dispatches",
			},
			[]string{"code"},
		),

		SessionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clasp",
				Subsystem: "sessions",
				Name:      "active",
				Help:      "Number of connected sessions",
			},
		),

		SubscriptionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clasp",
				Subsystem: "subscriptions",
				Name:      "active",
				Help:      "Number of live subscriptions",
			},
		),

		BundlesSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasp",
				Subsystem: "bundles",
				Name:      "submitted_total",
				Help:      "Total number of bundles submitted",
			},
			[]string{"mode"},
		),

		BundlesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "clasp",
				Subsystem: "bundles",
				Name:      "applied_total",
				Help:      "Total number of bundle apply attempts",
			},
			[]string{"status"},
		),

		PendingBundles: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clasp",
				Subsystem: "bundles",
				Name:      "pending",
				Help:      "Number of bundles waiting on the schedule queue",
			},
		),

		StateEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clasp",
				Subsystem: "state",
				Name:      "entries",
				Help:      "Number of retained address entries",
			},
		),

		GesturesOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "clasp",
				Subsystem: "gestures",
				Name:      "open",
				Help:      "Number of gesture sequences currently open",
			},
		),
	}
}

// RecordSignalReceived increments the received operation counter
func (m *Metrics) RecordSignalReceived(signalType string) {
	m.SignalsReceived.WithLabelValues(signalType).Inc()
}

// RecordUpdateDelivered increments the delivered update counter
func (m *Metrics) RecordUpdateDelivered(signalType string) {
	m.UpdatesDelivered.WithLabelValues(signalType).Inc()
}

// RecordUpdateDropped increments the dropped update counter
func (m *Metrics) RecordUpdateDropped(signalType, reason string) {
	m.UpdatesDropped.WithLabelValues(signalType, reason).Inc()
}

// RecordDispatchDuration records one dispatch round trip
func (m *Metrics) RecordDispatchDuration(signalType string, duration time.Duration) {
	m.DispatchDuration.WithLabelValues(signalType).Observe(duration.Seconds())
}

// RecordDispatchError increments the rejection counter by error code
func (m *Metrics) RecordDispatchError(code string) {
	m.DispatchErrors.WithLabelValues(code).Inc()
}

// RecordBundleSubmitted increments the bundle submission counter.
// Mode is "immediate" or "scheduled".
func (m *Metrics) RecordBundleSubmitted(mode string) {
	m.BundlesSubmitted.WithLabelValues(mode).Inc()
}

// RecordBundleApplied increments the bundle apply counter.
// Status is "ok" or "rejected".
func (m *Metrics) RecordBundleApplied(status string) {
	m.BundlesApplied.WithLabelValues(status).Inc()
}
