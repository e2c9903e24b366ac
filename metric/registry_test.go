package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	registry := NewRegistry()

	assert.NotNil(t, registry)
	assert.NotNil(t, registry.PrometheusRegistry())
	assert.NotNil(t, registry.CoreMetrics())
}

func TestRegistry_CoreMetricsGather(t *testing.T) {
	registry := NewRegistry()
	m := registry.CoreMetrics()

	m.RecordSignalReceived("param")
	m.RecordUpdateDelivered("param")
	m.RecordUpdateDropped("stream", "rate_limited")
	m.RecordDispatchDuration("param", 2*time.Millisecond)
	m.RecordDispatchError("PERMISSION_DENIED")
	m.RecordBundleSubmitted("scheduled")
	m.RecordBundleApplied("ok")
	m.SessionsActive.Set(3)

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["clasp_signals_received_total"])
	assert.True(t, names["clasp_updates_delivered_total"])
	assert.True(t, names["clasp_updates_dropped_total"])
	assert.True(t, names["clasp_dispatch_duration_seconds"])
	assert.True(t, names["clasp_dispatch_errors_total"])
	assert.True(t, names["clasp_bundles_submitted_total"])
	assert.True(t, names["clasp_bundles_applied_total"])
	assert.True(t, names["clasp_sessions_active"])
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	registry := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_total",
		Help: "A test counter",
	})

	require.NoError(t, registry.Register("gateway.frames", counter))

	other := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_other_total",
		Help: "Another test counter",
	})
	err := registry.Register("gateway.frames", other)
	assert.Error(t, err)
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_clients",
		Help: "A test gauge",
	})
	require.NoError(t, registry.Register("gateway.clients", gauge))

	assert.True(t, registry.Unregister("gateway.clients"))
	assert.False(t, registry.Unregister("gateway.clients"))
}
