// Package session implements per-client connection state: identity,
// capability token, open subscriptions, clock offset, and the outbound
// delivery queue other engine components push typed updates onto.
//
// Delivery is push-based and bounded. A slow consumer never blocks the
// dispatcher: when a session's queue is full the update is dropped and
// counted, and the failure stays local to that session.
package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lumencanvas/clasp/auth"
	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/signal"
)

// Drops before a slow-consumer warning is logged, per window.
const dropWarnThreshold = 100

// Stats summarizes a session's delivery accounting.
type Stats struct {
	Delivered uint64
	Dropped   uint64
}

// Session is one connected client.
type Session struct {
	id      string
	name    string
	token   *auth.Token
	updates chan signal.Update
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	subs   map[string]struct{}

	clockOffset atomic.Int64

	delivered  atomic.Uint64
	dropped    atomic.Uint64
	windowDrop atomic.Uint64
}

// New creates a session with a delivery queue of the given size. The
// token may be nil in open mode.
func New(name string, token *auth.Token, queueSize int, logger *slog.Logger) *Session {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:      id,
		name:    name,
		token:   token,
		updates: make(chan signal.Update, queueSize),
		logger:  logger.With("component", "session", "session_id", id),
		subs:    make(map[string]struct{}),
	}
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Name returns the client-supplied identity.
func (s *Session) Name() string { return s.name }

// Token returns the session's capability token, nil in open mode.
func (s *Session) Token() *auth.Token { return s.token }

// Updates is the session's outbound delivery queue. It is closed when
// the session closes.
func (s *Session) Updates() <-chan signal.Update { return s.updates }

// Deliver pushes one update onto the session's queue without blocking.
// A full queue drops the update and returns ErrQueueFull; a closed
// session returns ErrSessionClosed.
func (s *Session) Deliver(u signal.Update) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return clasperrors.ErrSessionClosed
	}
	select {
	case s.updates <- u:
		s.delivered.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		if n := s.windowDrop.Add(1); n == dropWarnThreshold {
			s.logger.Warn("slow consumer, dropping deliveries",
				"dropped_total", s.dropped.Load())
			s.windowDrop.Store(0)
		}
		return clasperrors.ErrQueueFull
	}
}

// Close marks the session closed and closes its delivery queue. It is
// idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.updates)
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// TrackSubscription records a subscription handle as owned by this
// session.
func (s *Session) TrackSubscription(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[handle] = struct{}{}
}

// ForgetSubscription removes a handle from the session's ownership set.
func (s *Session) ForgetSubscription(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, handle)
}

// SubscriptionHandles returns the handles of the session's open
// subscriptions.
func (s *Session) SubscriptionHandles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.subs))
	for h := range s.subs {
		out = append(out, h)
	}
	return out
}

// SetClockOffset records the client's reported offset against the
// server's logical clock. The server clock stays authoritative.
func (s *Session) SetClockOffset(offset clock.Micros) {
	s.clockOffset.Store(int64(offset))
}

// ClockOffset returns the last recorded client clock offset.
func (s *Session) ClockOffset() clock.Micros {
	return clock.Micros(s.clockOffset.Load())
}

// Stats returns the session's delivery counters.
func (s *Session) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
	}
}
