// Package metric provides the engine's Prometheus instrumentation: the
// core Metrics collectors, a Registry that owns them, and the
// observability HTTP server that exposes the scrape endpoint.
package metric
