package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumencanvas/clasp/metric"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	framesReceived      *prometheus.CounterVec
	framesSent          *prometheus.CounterVec
	clientsConnected    prometheus.Gauge
	connectionsTotal    prometheus.Counter
	disconnectionsTotal *prometheus.CounterVec
	errorsTotal         *prometheus.CounterVec
}

// newMetrics creates and registers gateway metrics. A nil registry
// disables instrumentation.
func newMetrics(registry *metric.Registry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clasp",
			Subsystem: "gateway",
			Name:      "frames_received_total",
			Help:      "Total frames received from clients",
		}, []string{"type"}),

		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clasp",
			Subsystem: "gateway",
			Name:      "frames_sent_total",
			Help:      "Total frames sent to clients",
		}, []string{"type"}),

		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "clasp",
			Subsystem: "gateway",
			Name:      "clients_connected",
			Help:      "Number of currently connected clients",
		}),

		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "clasp",
			Subsystem: "gateway",
			Name:      "client_connections_total",
			Help:      "Total client connections accepted",
		}),

		disconnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clasp",
			Subsystem: "gateway",
			Name:      "client_disconnections_total",
			Help:      "Total client disconnections",
		}, []string{"reason"}),

		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "clasp",
			Subsystem: "gateway",
			Name:      "errors_total",
			Help:      "Error frames sent to clients by code",
		}, []string{"code"}),
	}

	registry.PrometheusRegistry().MustRegister(
		m.framesReceived,
		m.framesSent,
		m.clientsConnected,
		m.connectionsTotal,
		m.disconnectionsTotal,
		m.errorsTotal,
	)
	return m
}

func (m *Metrics) recordFrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordFrameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) recordConnect() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.clientsConnected.Inc()
}

func (m *Metrics) recordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.clientsConnected.Dec()
	m.disconnectionsTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) recordError(code string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(code).Inc()
}
