// Package router classifies operations by signal kind and applies each
// kind's persistence and QoS policy before handing off to the address
// space and the subscription registry.
//
// Param and Timeline route validate -> store -> publish with the new
// revision. Event and Stream skip the store and publish directly.
// Gesture publishes directly but is phase-ordered: every (address,
// gesture id) must follow start -> zero-or-more move -> end, tracked in
// an ephemeral table with explicit removal on the terminal phase.
package router

import (
	"log/slog"
	"sync"

	"github.com/lumencanvas/clasp/address"
	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/state"
	"github.com/lumencanvas/clasp/subscription"
)

type gestureKey struct {
	addr string
	id   string
}

type gestureState struct {
	sessionID string
	lastSeen  clock.Micros
}

// Router dispatches validated operations according to their signal
// kind's policy.
type Router struct {
	store    *state.Store
	registry *subscription.Registry
	clk      clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	gestures map[gestureKey]*gestureState
}

// New creates a router over the given store and registry.
func New(store *state.Store, registry *subscription.Registry, clk clock.Clock, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		store:    store,
		registry: registry,
		clk:      clk,
		logger:   logger.With("component", "router"),
		gestures: make(map[gestureKey]*gestureState),
	}
}

// Validate checks an operation without mutating any state: address
// shape, payload shape for the target kind, expected-revision
// preconditions, and gesture phase ordering against the current phase
// table. It is the first pass of bundle execution.
func (r *Router) Validate(op signal.Operation) error {
	if err := address.Validate(op.Address); err != nil {
		return err
	}
	switch op.Kind {
	case signal.OpSet:
		if op.ExpectedRevision != 0 {
			return r.checkRevision(op.Address, op.ExpectedRevision)
		}
		return nil
	case signal.OpEmit, signal.OpStream:
		return nil
	case signal.OpTimelineSet:
		if op.Timeline == nil {
			return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
				"timeline-set on %s has no timeline definition", op.Address)
		}
		return op.Timeline.Validate()
	case signal.OpGesture:
		if op.Gesture == nil || op.Gesture.ID == "" {
			return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
				"gesture on %s has no gesture id", op.Address)
		}
		return r.checkPhase(op.Address, op.Gesture)
	default:
		return clasperrors.Wrap(clasperrors.ErrUnknownSignal, "router", "Validate", "classify")
	}
}

// ValidateAll validates a bundle's operations as one pre-mutation pass.
// Gesture phase checks account for earlier operations in the same
// bundle, so a start followed by moves and an end on one id validates
// as a unit.
func (r *Router) ValidateAll(ops []signal.Operation) error {
	sim := make(map[gestureKey]bool)
	for _, op := range ops {
		if op.Kind != signal.OpGesture {
			if err := r.Validate(op); err != nil {
				return err
			}
			continue
		}
		if err := address.Validate(op.Address); err != nil {
			return err
		}
		if op.Gesture == nil || op.Gesture.ID == "" {
			return clasperrors.Invalidf(clasperrors.CodeInvalidValue,
				"gesture on %s has no gesture id", op.Address)
		}
		key := gestureKey{addr: op.Address, id: op.Gesture.ID}
		open, simulated := sim[key]
		if !simulated {
			open = r.isOpen(key)
		}
		switch op.Gesture.Phase {
		case signal.PhaseStart:
			if open {
				return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
					"gesture %q on %s is already open", op.Gesture.ID, op.Address)
			}
			sim[key] = true
		case signal.PhaseMove:
			if !open {
				return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
					"move for unknown gesture %q on %s", op.Gesture.ID, op.Address)
			}
		case signal.PhaseEnd:
			if !open {
				return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
					"end for unknown gesture %q on %s", op.Gesture.ID, op.Address)
			}
			sim[key] = false
		}
	}
	return nil
}

// checkRevision mirrors the store's optimistic-write precondition so
// bundle validation refuses a stale expected revision before any member
// operation mutates state. Callers hold the commit lock across validate
// and apply, so the revision cannot move between the passes.
func (r *Router) checkRevision(addr string, expected uint64) error {
	e, ok := r.store.Get(addr)
	if !ok {
		return clasperrors.Invalidf(clasperrors.CodeRevisionConflict,
			"expected revision %d but %s has never been written", expected, addr)
	}
	if e.Revision != expected {
		return clasperrors.Invalidf(clasperrors.CodeRevisionConflict,
			"expected revision %d but %s is at %d", expected, addr, e.Revision)
	}
	return nil
}

func (r *Router) isOpen(key gestureKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, open := r.gestures[key]
	return open
}

// Dispatch validates and applies one operation for the writing session,
// returning the new revision for persisting kinds (0 otherwise). The
// caller serializes mutating dispatches; see the engine's commit
// discipline.
func (r *Router) Dispatch(sessionID string, op signal.Operation) (uint64, error) {
	if err := r.Validate(op); err != nil {
		return 0, err
	}
	return r.Apply(sessionID, op)
}

// Apply applies a pre-validated operation. Bundle execution uses it for
// the mutation pass after validating every member operation.
func (r *Router) Apply(sessionID string, op signal.Operation) (uint64, error) {
	now := r.clk.Now()

	switch op.Kind {
	case signal.OpSet:
		var rev uint64
		if op.ExpectedRevision != 0 {
			var err error
			rev, err = r.store.SetChecked(op.Address, op.Value, sessionID, now, op.ExpectedRevision)
			if err != nil {
				return 0, err
			}
		} else {
			rev = r.store.Set(op.Address, op.Value, sessionID, now)
		}
		r.registry.Publish(signal.Update{
			Address:   op.Address,
			Type:      signal.TypeParam,
			Value:     op.Value,
			Revision:  rev,
			Timestamp: now,
		})
		return rev, nil

	case signal.OpTimelineSet:
		rev := r.store.SetTimeline(op.Address, *op.Timeline, sessionID, now)
		r.registry.Publish(signal.Update{
			Address:   op.Address,
			Type:      signal.TypeTimeline,
			Timeline:  op.Timeline,
			Revision:  rev,
			Timestamp: now,
		})
		return rev, nil

	case signal.OpEmit:
		r.registry.Publish(signal.Update{
			Address:   op.Address,
			Type:      signal.TypeEvent,
			Value:     op.Value,
			Timestamp: now,
		})
		return 0, nil

	case signal.OpStream:
		r.registry.Publish(signal.Update{
			Address:   op.Address,
			Type:      signal.TypeStream,
			Value:     op.Value,
			Timestamp: now,
		})
		return 0, nil

	case signal.OpGesture:
		if err := r.advancePhase(sessionID, op.Address, op.Gesture, now); err != nil {
			return 0, err
		}
		r.registry.Publish(signal.Update{
			Address:   op.Address,
			Type:      signal.TypeGesture,
			Value:     op.Gesture.Payload,
			Gesture:   op.Gesture,
			Timestamp: now,
		})
		return 0, nil

	default:
		return 0, clasperrors.Wrap(clasperrors.ErrUnknownSignal, "router", "Apply", "classify")
	}
}

// checkPhase validates a gesture phase against the table without
// mutating it.
func (r *Router) checkPhase(addr string, g *signal.Gesture) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, open := r.gestures[gestureKey{addr: addr, id: g.ID}]

	switch g.Phase {
	case signal.PhaseStart:
		if open {
			return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
				"gesture %q on %s is already open", g.ID, addr)
		}
	case signal.PhaseMove, signal.PhaseEnd:
		if !open {
			return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
				"%s for unknown gesture %q on %s", g.Phase, g.ID, addr)
		}
	}
	return nil
}

// advancePhase validates and records a gesture phase transition.
func (r *Router) advancePhase(sessionID, addr string, g *signal.Gesture, now clock.Micros) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := gestureKey{addr: addr, id: g.ID}
	st, open := r.gestures[key]

	switch g.Phase {
	case signal.PhaseStart:
		if open {
			return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
				"gesture %q on %s is already open", g.ID, addr)
		}
		r.gestures[key] = &gestureState{sessionID: sessionID, lastSeen: now}
	case signal.PhaseMove:
		if !open {
			return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
				"move for unknown gesture %q on %s", g.ID, addr)
		}
		st.lastSeen = now
	case signal.PhaseEnd:
		if !open {
			return clasperrors.Invalidf(clasperrors.CodeGestureSequence,
				"end for unknown gesture %q on %s", g.ID, addr)
		}
		delete(r.gestures, key)
	}
	return nil
}

// EndSessionGestures force-closes every gesture the session left open,
// publishing an implicit end for each so subscribers do not leak phase
// state. Called at disconnect.
func (r *Router) EndSessionGestures(sessionID string) int {
	now := r.clk.Now()
	ended := r.takeGestures(func(st *gestureState) bool {
		return st.sessionID == sessionID
	})
	for _, key := range ended {
		r.publishImplicitEnd(key, now)
	}
	return len(ended)
}

// SweepStaleGestures force-closes gestures with no activity for ttl,
// publishing an implicit end for each. Returns the number closed.
func (r *Router) SweepStaleGestures(ttl clock.Micros) int {
	now := r.clk.Now()
	ended := r.takeGestures(func(st *gestureState) bool {
		return now-st.lastSeen >= ttl
	})
	for _, key := range ended {
		r.publishImplicitEnd(key, now)
	}
	if len(ended) > 0 {
		r.logger.Debug("swept stale gestures", "count", len(ended))
	}
	return len(ended)
}

// OpenGestures returns the number of gesture sequences currently open.
func (r *Router) OpenGestures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.gestures)
}

func (r *Router) takeGestures(pred func(*gestureState) bool) []gestureKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	var taken []gestureKey
	for key, st := range r.gestures {
		if pred(st) {
			delete(r.gestures, key)
			taken = append(taken, key)
		}
	}
	return taken
}

func (r *Router) publishImplicitEnd(key gestureKey, now clock.Micros) {
	r.registry.Publish(signal.Update{
		Address:   key.addr,
		Type:      signal.TypeGesture,
		Gesture:   &signal.Gesture{ID: key.id, Phase: signal.PhaseEnd},
		Timestamp: now,
	})
}
