// Package clock provides the engine's logical time source.
//
// Logical time is int64 microseconds since the Unix epoch, sampled from
// a monotonic base so it never goes backwards even if the wall clock is
// adjusted. The clock's value is single-sourced per server: clients
// exchange offsets against it but never propose authoritative time.
//
// Zero value semantics:
//   - A Micros value of 0 means "not set"; scheduled bundles use 0 to
//     request immediate execution.
package clock

import (
	"sync"
	"time"
)

// Micros is a logical timestamp in microseconds since the Unix epoch.
type Micros int64

// Duration converts d to logical-time microseconds.
func Duration(d time.Duration) Micros {
	return Micros(d.Microseconds())
}

// ToTime converts a logical timestamp to wall time for display.
func (m Micros) ToTime() time.Time {
	return time.UnixMicro(int64(m))
}

// Clock is a source of logical time.
type Clock interface {
	// Now returns the current logical time. Successive calls are
	// monotonically non-decreasing.
	Now() Micros
}

// System is the production clock. It anchors to the wall clock once at
// construction and advances with the process's monotonic clock.
type System struct {
	epoch time.Time // carries a monotonic reading
	base  Micros
}

// NewSystem creates a system clock anchored at the current wall time.
func NewSystem() *System {
	now := time.Now()
	return &System{epoch: now, base: Micros(now.UnixMicro())}
}

// Now returns the current logical time.
func (s *System) Now() Micros {
	return s.base + Micros(time.Since(s.epoch).Microseconds())
}

// Manual is a clock driven explicitly by the caller. It is intended for
// tests that need deterministic scheduling.
type Manual struct {
	mu  sync.Mutex
	now Micros
}

// NewManual creates a manual clock starting at start.
func NewManual(start Micros) *Manual {
	return &Manual{now: start}
}

// Now returns the manual clock's current time.
func (m *Manual) Now() Micros {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d microseconds and returns the new
// time. Negative advances are ignored; the clock never goes backwards.
func (m *Manual) Advance(d Micros) Micros {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now += d
	}
	return m.now
}

// SetTo moves the clock to t if t is later than the current time.
func (m *Manual) SetTo(t Micros) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}
