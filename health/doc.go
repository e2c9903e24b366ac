// Package health aggregates subsystem probes into a process-level
// status report and serves it over HTTP for load balancers and
// operators.
package health
