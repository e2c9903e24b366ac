package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Probe reports the current health of one subsystem.
type Probe func() Status

// Checker aggregates subsystem probes into a process-level status.
type Checker struct {
	process string

	mu     sync.RWMutex
	probes map[string]Probe
	order  []string
}

// NewChecker creates a checker reporting under the given process name.
func NewChecker(process string) *Checker {
	return &Checker{
		process: process,
		probes:  make(map[string]Probe),
	}
}

// Register adds a subsystem probe. Re-registering a name replaces the
// previous probe but keeps its report position.
func (c *Checker) Register(name string, probe Probe) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.probes[name]; !exists {
		c.order = append(c.order, name)
	}
	c.probes[name] = probe
}

// Snapshot runs every probe and rolls the results up: any unhealthy
// subsystem makes the process unhealthy, otherwise any degraded one
// makes it degraded.
func (c *Checker) Snapshot() Status {
	c.mu.RLock()
	probes := make([]Probe, 0, len(c.order))
	for _, name := range c.order {
		probes = append(probes, c.probes[name])
	}
	c.mu.RUnlock()

	overall := Status{
		Component: c.process,
		Healthy:   true,
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
	}
	for _, probe := range probes {
		sub := probe()
		overall = overall.WithSubStatus(sub)
		switch {
		case sub.IsUnhealthy():
			overall.Healthy = false
			overall.Status = StatusUnhealthy
		case sub.IsDegraded() && overall.Status == StatusHealthy:
			overall.Healthy = false
			overall.Status = StatusDegraded
		}
	}
	return overall
}

// Handler serves the checker's snapshot as JSON. Unhealthy reports
// return 503 so load balancers can act on the plain status code.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		snapshot := c.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		if snapshot.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	})
}
