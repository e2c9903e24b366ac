package metric

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry owns the engine's Prometheus registry and its core metrics.
type Registry struct {
	prometheusRegistry *prometheus.Registry
	metrics            *Metrics

	mu         sync.RWMutex
	registered map[string]prometheus.Collector
}

// NewRegistry creates a registry with the core engine metrics and Go
// runtime collectors pre-registered.
func NewRegistry() *Registry {
	r := &Registry{
		prometheusRegistry: prometheus.NewRegistry(),
		metrics:            NewMetrics(),
		registered:         make(map[string]prometheus.Collector),
	}

	r.prometheusRegistry.MustRegister(
		r.metrics.SignalsReceived,
		r.metrics.UpdatesDelivered,
		r.metrics.UpdatesDropped,
		r.metrics.DispatchDuration,
		r.metrics.DispatchErrors,
		r.metrics.SessionsActive,
		r.metrics.SubscriptionsActive,
		r.metrics.BundlesSubmitted,
		r.metrics.BundlesApplied,
		r.metrics.PendingBundles,
		r.metrics.StateEntries,
		r.metrics.GesturesOpen,
	)

	r.prometheusRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return r
}

// PrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) PrometheusRegistry() *prometheus.Registry {
	return r.prometheusRegistry
}

// CoreMetrics returns the core engine metrics.
func (r *Registry) CoreMetrics() *Metrics {
	return r.metrics
}

// Register adds an adapter-specific collector under a name. Duplicate
// names and Prometheus conflicts both report as errors.
func (r *Registry) Register(name string, c prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.registered[name]; exists {
		return prometheus.AlreadyRegisteredError{ExistingCollector: r.registered[name], NewCollector: c}
	}
	if err := r.prometheusRegistry.Register(c); err != nil {
		return err
	}
	r.registered[name] = c
	return nil
}

// Unregister removes a previously registered collector.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.registered[name]
	if !ok {
		return false
	}
	delete(r.registered, name)
	return r.prometheusRegistry.Unregister(c)
}
