// Package scheduler implements atomic bundle execution, immediate or
// delayed to a future logical time.
//
// Scheduled bundles wait in a time-ordered heap keyed by execution time,
// FIFO among equal timestamps. A single loop pops and applies all due
// bundles, so commit application is serialized with respect to the
// queue. A bundle whose requested time is already in the past is
// rejected; a time equal to the current logical instant executes
// immediately, the same as omitting the time field.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lumencanvas/clasp/auth"
	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/signal"
)

// DefaultTick is the scheduling loop's polling interval.
const DefaultTick = time.Millisecond

// Bundle is an ordered group of operations applied as one atomic unit.
type Bundle struct {
	// SessionID identifies the submitting session.
	SessionID string
	// Token is the submitting session's capability token, consulted
	// again during the validation pass at apply time.
	Token *auth.Token
	// Operations apply in listed order.
	Operations []signal.Operation
	// At is the scheduled execution time, 0 for immediate. Once the
	// bundle is committed to the queue the value is never changed.
	At clock.Micros

	seq uint64
}

// ApplyFunc validates and applies a due bundle atomically. The
// scheduler never calls it concurrently with itself.
type ApplyFunc func(b *Bundle) error

// Scheduler owns the pending-bundle queue and its apply loop.
type Scheduler struct {
	clk    clock.Clock
	apply  ApplyFunc
	tick   time.Duration
	logger *slog.Logger

	mu      sync.Mutex
	pending bundleHeap
	seq     uint64

	applyMu sync.Mutex // serializes immediate submits with the loop

	wake    chan struct{}
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a scheduler that applies due bundles through apply.
func New(clk clock.Clock, apply ApplyFunc, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clk:    clk,
		apply:  apply,
		tick:   DefaultTick,
		logger: logger.With("component", "scheduler"),
		wake:   make(chan struct{}, 1),
	}
}

// SetTick overrides the polling interval. Must be called before Start.
func (s *Scheduler) SetTick(d time.Duration) {
	if d > 0 {
		s.tick = d
	}
}

// Submit accepts a bundle. With At == 0, or At equal to the current
// logical time, the bundle executes immediately and synchronously,
// still atomically across its operations; the returned error is the
// validation outcome. With a future At the bundle is enqueued and nil
// is returned. A past At is rejected with SCHEDULE_IN_PAST.
func (s *Scheduler) Submit(b *Bundle) error {
	if len(b.Operations) == 0 {
		return clasperrors.Wrap(clasperrors.ErrBundleEmpty, "scheduler", "Submit", "accept bundle")
	}

	if b.At != 0 {
		now := s.clk.Now()
		if b.At < now {
			return clasperrors.Invalidf(clasperrors.CodeScheduleInPast,
				"bundle scheduled at %d but logical time is already %d", b.At, now)
		}
		if b.At > now {
			s.mu.Lock()
			s.seq++
			b.seq = s.seq
			heap.Push(&s.pending, b)
			s.mu.Unlock()

			select {
			case s.wake <- struct{}{}:
			default:
			}
			return nil
		}
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	return s.apply(b)
}

// PendingDepth returns the number of bundles waiting for their time.
func (s *Scheduler) PendingDepth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Tick applies every bundle due at or before the current logical time,
// in timestamp order, FIFO within a timestamp. A bundle whose
// validation fails at apply time is rejected alone; processing
// continues with subsequent due bundles. Returns the number applied
// successfully.
func (s *Scheduler) Tick() int {
	applied := 0
	for {
		b := s.popDue()
		if b == nil {
			return applied
		}
		s.applyMu.Lock()
		err := s.apply(b)
		s.applyMu.Unlock()
		if err != nil {
			s.logger.Warn("scheduled bundle rejected",
				"session_id", b.SessionID, "at", int64(b.At), "error", err)
			continue
		}
		applied++
	}
}

func (s *Scheduler) popDue() *Bundle {
	now := s.clk.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 || s.pending[0].At > now {
		return nil
	}
	return heap.Pop(&s.pending).(*Bundle)
}

// Start launches the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return clasperrors.ErrAlreadyStarted
	}
	s.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(loopCtx)
	return nil
}

// Stop halts the loop, waiting up to timeout for it to exit. Pending
// bundles are discarded.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return clasperrors.ErrNotStarted
	}
	s.started = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return clasperrors.Wrap(context.DeadlineExceeded, "scheduler", "Stop", "await loop exit")
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			s.Tick()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// bundleHeap orders bundles by execution time, then arrival sequence.
type bundleHeap []*Bundle

func (h bundleHeap) Len() int { return len(h) }

func (h bundleHeap) Less(i, j int) bool {
	if h[i].At != h[j].At {
		return h[i].At < h[j].At
	}
	return h[i].seq < h[j].seq
}

func (h bundleHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *bundleHeap) Push(x any) { *h = append(*h, x.(*Bundle)) }

func (h *bundleHeap) Pop() any {
	old := *h
	n := len(old)
	b := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return b
}
