package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lumencanvas/clasp/address"
	"github.com/lumencanvas/clasp/auth"
	"github.com/lumencanvas/clasp/clock"
	"github.com/lumencanvas/clasp/config"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/metric"
	"github.com/lumencanvas/clasp/router"
	"github.com/lumencanvas/clasp/scheduler"
	"github.com/lumencanvas/clasp/session"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/state"
	"github.com/lumencanvas/clasp/subscription"
	"github.com/lumencanvas/clasp/value"
)

// Engine ties the state store, subscription registry, signal router,
// and bundle scheduler into one address-addressed distribution core.
// Transport adapters (the WebSocket gateway, the federation bridge)
// hold an Engine and drive it on behalf of their sessions.
type Engine struct {
	cfg     config.EngineConfig
	clk     clock.Clock
	logger  *slog.Logger
	metrics *metric.Metrics

	store    *state.Store
	registry *subscription.Registry
	router   *router.Router
	sched    *scheduler.Scheduler
	sessions *session.Manager

	// commitMu serializes every mutating dispatch with its publish so
	// subscribers observe state transitions in commit order.
	commitMu sync.Mutex

	mu          sync.Mutex
	initialized bool
	started     bool
	cancel      context.CancelFunc
	group       *errgroup.Group
}

// Option customizes engine construction.
type Option func(*Engine)

// WithClock substitutes the time source. Tests use a manual clock.
func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clk = clk }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics wires the engine to a metrics instance. Without it the
// engine runs uninstrumented.
func WithMetrics(m *metric.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New constructs an engine from the configuration. Call Initialize
// before use and Start to run the background loops.
func New(cfg config.EngineConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg,
		clk:    clock.NewSystem(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")

	e.store = state.New()
	e.registry = subscription.NewRegistry(e.store, e.logger)
	e.router = router.New(e.store, e.registry, e.clk, e.logger)
	e.sched = scheduler.New(e.clk, e.applyBundle, e.logger)
	if cfg.SchedulerTick > 0 {
		e.sched.SetTick(cfg.SchedulerTick.Std())
	}
	e.sessions = session.NewManager(cfg.MaxSessions, e.logger)
	return e
}

// Initialize wires delivery instrumentation. Idempotent.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}
	if e.metrics != nil {
		m := e.metrics
		e.registry.SetDeliveryHooks(
			func(t signal.Type) { m.RecordUpdateDelivered(t.String()) },
			func(t signal.Type, rateLimited bool) {
				reason := "queue_full"
				if rateLimited {
					reason = "rate_limited"
				}
				m.RecordUpdateDropped(t.String(), reason)
			},
		)
	}
	e.initialized = true
	return nil
}

// Start launches the scheduler loop, the stale-gesture sweeper, and
// the gauge refresher.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return clasperrors.Wrap(clasperrors.ErrNotStarted, "engine", "Start", "initialize before start")
	}
	if e.started {
		return clasperrors.Wrap(clasperrors.ErrAlreadyStarted, "engine", "Start", "start engine")
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	e.cancel = cancel
	e.group = group

	if err := e.sched.Start(groupCtx); err != nil {
		cancel()
		return err
	}

	group.Go(func() error {
		e.sweepLoop(groupCtx)
		return nil
	})
	if e.metrics != nil {
		group.Go(func() error {
			e.gaugeLoop(groupCtx)
			return nil
		})
	}

	e.started = true
	e.logger.Info("engine started",
		"require_auth", e.cfg.RequireAuth,
		"max_sessions", e.cfg.MaxSessions,
		"gesture_ttl", e.cfg.GestureTTL.String())
	return nil
}

// Stop halts the background loops and closes every session. Waits up
// to timeout for the loops to drain.
func (e *Engine) Stop(timeout time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started {
		return nil
	}

	schedErr := e.sched.Stop(timeout)
	e.cancel()

	done := make(chan error, 1)
	go func() { done <- e.group.Wait() }()
	select {
	case err := <-done:
		if err == nil {
			err = schedErr
		}
		e.sessions.CloseAll()
		e.started = false
		e.logger.Info("engine stopped")
		return err
	case <-time.After(timeout):
		e.started = false
		return clasperrors.Wrap(clasperrors.ErrShuttingDown, "engine", "Stop", "wait for background loops")
	}
}

// sweepLoop force-ends gestures idle past the configured TTL.
func (e *Engine) sweepLoop(ctx context.Context) {
	ttl := e.cfg.GestureTTL.Std()
	if ttl <= 0 {
		return
	}
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.commitMu.Lock()
			n := e.router.SweepStaleGestures(clock.Duration(ttl))
			e.commitMu.Unlock()
			if n > 0 {
				e.logger.Warn("swept stale gestures", "count", n, "ttl", ttl.String())
			}
		}
	}
}

// gaugeLoop refreshes the coarse state gauges once a second.
func (e *Engine) gaugeLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshGauges()
		}
	}
}

func (e *Engine) refreshGauges() {
	e.metrics.SessionsActive.Set(float64(e.sessions.Len()))
	e.metrics.SubscriptionsActive.Set(float64(e.registry.Len()))
	e.metrics.StateEntries.Set(float64(e.store.Len()))
	e.metrics.GesturesOpen.Set(float64(e.router.OpenGestures()))
	e.metrics.PendingBundles.Set(float64(e.sched.PendingDepth()))
}

// Connect admits a new session. With require_auth set, a missing or
// malformed token is refused with AUTH_REQUIRED.
func (e *Engine) Connect(name, rawToken string) (*session.Session, error) {
	var token *auth.Token
	if rawToken != "" {
		parsed, err := auth.ParseToken(rawToken)
		if err != nil {
			return nil, err
		}
		token = parsed
	} else if e.cfg.RequireAuth {
		return nil, clasperrors.New(clasperrors.CodeAuthRequired, "connection requires a capability token")
	}

	sess := session.New(name, token, e.cfg.SessionQueueSize, e.logger)
	if err := e.sessions.Add(sess); err != nil {
		sess.Close()
		return nil, clasperrors.Wrap(err, "engine", "Connect", "admit session")
	}
	e.logger.Info("session connected", "session", sess.ID(), "name", name, "authenticated", token != nil)
	return sess, nil
}

// Disconnect tears a session down: its subscriptions are removed, its
// open gestures force-ended, and its delivery queue closed. The
// gesture ends publish in commit order with concurrent dispatches.
func (e *Engine) Disconnect(id string) {
	sess, ok := e.sessions.Remove(id)
	if !ok {
		return
	}

	e.commitMu.Lock()
	dropped := e.registry.DropSession(sess)
	ended := e.router.EndSessionGestures(sess.ID())
	e.commitMu.Unlock()

	sess.Close()
	e.logger.Info("session disconnected",
		"session", sess.ID(),
		"subscriptions_dropped", dropped,
		"gestures_ended", ended)
}

// Session returns a connected session by ID.
func (e *Engine) Session(id string) (*session.Session, bool) {
	return e.sessions.Get(id)
}

// Dispatch authorizes, validates, and commits one operation for the
// session. The returned revision is non-zero for persisting kinds.
func (e *Engine) Dispatch(sess *session.Session, op signal.Operation) (uint64, error) {
	start := time.Now()
	signalType := op.Kind.SignalType()
	if e.metrics != nil {
		e.metrics.RecordSignalReceived(signalType.String())
	}

	if err := auth.Authorize(sess.Token(), auth.CapWrite, op.Address); err != nil {
		e.recordDispatchError(err)
		return 0, err
	}

	e.commitMu.Lock()
	rev, err := e.router.Dispatch(sess.ID(), op)
	e.commitMu.Unlock()

	if err != nil {
		e.recordDispatchError(err)
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.RecordDispatchDuration(signalType.String(), time.Since(start))
	}
	return rev, nil
}

func (e *Engine) recordDispatchError(err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordDispatchError(string(clasperrors.CodeOf(err)))
}

// Set commits a retained param write and returns its revision.
func (e *Engine) Set(sess *session.Session, addr string, v value.Value) (uint64, error) {
	return e.Dispatch(sess, signal.Operation{Kind: signal.OpSet, Address: addr, Value: v})
}

// SetWithRevision commits a param write only if the stored revision
// still matches expected.
func (e *Engine) SetWithRevision(sess *session.Session, addr string, v value.Value, expected uint64) (uint64, error) {
	return e.Dispatch(sess, signal.Operation{
		Kind:             signal.OpSet,
		Address:          addr,
		Value:            v,
		ExpectedRevision: expected,
	})
}

// Emit publishes a transient confirmed event.
func (e *Engine) Emit(sess *session.Session, addr string, v value.Value) error {
	_, err := e.Dispatch(sess, signal.Operation{Kind: signal.OpEmit, Address: addr, Value: v})
	return err
}

// Stream publishes a lossy high-rate sample.
func (e *Engine) Stream(sess *session.Session, addr string, v value.Value) error {
	_, err := e.Dispatch(sess, signal.Operation{Kind: signal.OpStream, Address: addr, Value: v})
	return err
}

// Gesture advances a gesture phase sequence on the address.
func (e *Engine) Gesture(sess *session.Session, addr string, g *signal.Gesture) error {
	_, err := e.Dispatch(sess, signal.Operation{Kind: signal.OpGesture, Address: addr, Gesture: g})
	return err
}

// SetTimeline commits a retained timeline and returns its revision.
func (e *Engine) SetTimeline(sess *session.Session, addr string, tl *signal.Timeline) (uint64, error) {
	return e.Dispatch(sess, signal.Operation{Kind: signal.OpTimelineSet, Address: addr, Timeline: tl})
}

// Bundle submits an atomic operation group. At 0 it applies
// immediately; a future timestamp queues it on the scheduler. Either
// all operations commit or none do.
func (e *Engine) Bundle(sess *session.Session, ops []signal.Operation, at clock.Micros) error {
	if e.metrics != nil {
		mode := "immediate"
		if at != 0 {
			mode = "scheduled"
		}
		e.metrics.RecordBundleSubmitted(mode)
	}
	return e.sched.Submit(&scheduler.Bundle{
		SessionID:  sess.ID(),
		Token:      sess.Token(),
		Operations: ops,
		At:         at,
	})
}

// applyBundle is the scheduler's apply callback. Validation runs
// against live state at apply time; only a fully valid bundle mutates
// anything.
func (e *Engine) applyBundle(b *scheduler.Bundle) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	for _, op := range b.Operations {
		if err := auth.Authorize(b.Token, auth.CapWrite, op.Address); err != nil {
			e.recordBundleResult("rejected", err)
			return err
		}
	}
	if err := e.router.ValidateAll(b.Operations); err != nil {
		e.recordBundleResult("rejected", err)
		return err
	}

	for _, op := range b.Operations {
		if _, err := e.router.Apply(b.SessionID, op); err != nil {
			// ValidateAll vouched for every operation; a failure here
			// is a router bug, not a caller error.
			e.logger.Error("bundle apply failed after validation",
				"session", b.SessionID,
				"address", op.Address,
				"kind", op.Kind.String(),
				"error", err)
			e.recordBundleResult("rejected", err)
			return err
		}
	}
	e.recordBundleResult("ok", nil)
	return nil
}

func (e *Engine) recordBundleResult(status string, err error) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordBundleApplied(status)
	if err != nil {
		e.metrics.RecordDispatchError(string(clasperrors.CodeOf(err)))
	}
}

// Subscribe registers the session on a pattern. Deliveries are scoped
// to addresses the session's token can read; the late-joiner snapshot
// honors the same scope.
func (e *Engine) Subscribe(sess *session.Session, pattern string, opts subscription.Options) (*subscription.Subscription, error) {
	token := sess.Token()
	if token != nil || e.cfg.RequireAuth {
		callerFilter := opts.ReadFilter
		opts.ReadFilter = func(addr string) bool {
			if !token.Grants(auth.CapRead, addr) {
				return false
			}
			return callerFilter == nil || callerFilter(addr)
		}
	}

	return e.registry.Subscribe(sess, pattern, opts)
}

// Unsubscribe removes a subscription by handle.
func (e *Engine) Unsubscribe(sess *session.Session, handle string) bool {
	if e.registry.Unsubscribe(handle) {
		sess.ForgetSubscription(handle)
		return true
	}
	return false
}

// UnsubscribePattern removes every subscription the session holds on
// the exact pattern.
func (e *Engine) UnsubscribePattern(sess *session.Session, pattern string) int {
	return e.registry.UnsubscribePattern(sess, pattern)
}

// Time returns the engine's logical clock reading. Sessions use it for
// clock-offset exchange and scheduled bundle timestamps.
func (e *Engine) Time() clock.Micros {
	return e.clk.Now()
}

// Delete removes the retained entry at an address. Subscribers on the
// address observe a deletion update; a later write restarts the
// revision counter at 1. Removing an absent address is not an error.
func (e *Engine) Delete(sess *session.Session, addr string) (bool, error) {
	if err := address.Validate(addr); err != nil {
		return false, err
	}
	if err := auth.Authorize(sess.Token(), auth.CapWrite, addr); err != nil {
		e.recordDispatchError(err)
		return false, err
	}

	e.commitMu.Lock()
	defer e.commitMu.Unlock()
	if !e.store.Delete(addr) {
		return false, nil
	}
	e.registry.Publish(signal.Update{
		Address:   addr,
		Type:      signal.TypeParam,
		Value:     value.Null(),
		Deleted:   true,
		Timestamp: e.clk.Now(),
	})
	return true, nil
}

// Get reads the retained entry at an address. Internal callers only;
// session-facing reads go through GetFor.
func (e *Engine) Get(addr string) (state.Entry, bool) {
	return e.store.Get(addr)
}

// GetFor reads the retained entry at an address on behalf of a
// session, refusing addresses outside the token's read scope.
func (e *Engine) GetFor(sess *session.Session, addr string) (state.Entry, bool, error) {
	if err := auth.Authorize(sess.Token(), auth.CapRead, addr); err != nil {
		return state.Entry{}, false, err
	}
	entry, ok := e.store.Get(addr)
	return entry, ok, nil
}

// Snapshot returns the retained entries matching the pattern, sorted
// by address. Internal callers only; session-facing snapshots go
// through SnapshotFor.
func (e *Engine) Snapshot(pattern string) ([]state.Entry, error) {
	if err := address.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	return e.store.Snapshot(func(addr string) bool {
		return address.Match(pattern, addr)
	}), nil
}

// SnapshotFor returns the retained entries matching the pattern that
// the session's token can read, the same scope subscription snapshots
// honor.
func (e *Engine) SnapshotFor(sess *session.Session, pattern string) ([]state.Entry, error) {
	if err := address.ValidatePattern(pattern); err != nil {
		return nil, err
	}
	token := sess.Token()
	return e.store.Snapshot(func(addr string) bool {
		return address.Match(pattern, addr) && token.Grants(auth.CapRead, addr)
	}), nil
}

// SessionCount reports the number of connected sessions.
func (e *Engine) SessionCount() int {
	return e.sessions.Len()
}

// SubscriptionCount reports the number of live subscriptions.
func (e *Engine) SubscriptionCount() int {
	return e.registry.Len()
}

// PendingBundles reports the scheduler queue depth.
func (e *Engine) PendingBundles() int {
	return e.sched.PendingDepth()
}

// OpenGestures reports the number of gesture sequences in flight.
func (e *Engine) OpenGestures() int {
	return e.router.OpenGestures()
}

// TickScheduler runs one scheduler pass, applying every due bundle.
// Manual-clock tests drive time with it.
func (e *Engine) TickScheduler() int {
	return e.sched.Tick()
}
