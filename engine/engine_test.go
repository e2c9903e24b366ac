package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumencanvas/clasp/clock"
	"github.com/lumencanvas/clasp/config"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/session"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/subscription"
	"github.com/lumencanvas/clasp/value"
)

func newTestEngine(t *testing.T, cfg config.EngineConfig) (*Engine, *clock.Manual) {
	t.Helper()
	if cfg.SessionQueueSize == 0 {
		cfg.SessionQueueSize = 64
	}
	clk := clock.NewManual(1_000_000)
	e := New(cfg, WithClock(clk))
	require.NoError(t, e.Initialize())
	return e, clk
}

func connect(t *testing.T, e *Engine, name, token string) *session.Session {
	t.Helper()
	sess, err := e.Connect(name, token)
	require.NoError(t, err)
	t.Cleanup(func() { e.Disconnect(sess.ID()) })
	return sess
}

func drain(s *session.Session) []signal.Update {
	var out []signal.Update
	for {
		select {
		case u := <-s.Updates():
			out = append(out, u)
		default:
			return out
		}
	}
}

func TestSetDeliversToSubscriber(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")

	_, err := e.Subscribe(reader, "/lights/**", subscription.Options{})
	require.NoError(t, err)

	rev, err := e.Set(writer, "/lights/1/intensity", value.Number(0.8))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	updates := drain(reader)
	require.Len(t, updates, 1)
	assert.Equal(t, "/lights/1/intensity", updates[0].Address)
	assert.Equal(t, signal.TypeParam, updates[0].Type)
	assert.Equal(t, uint64(1), updates[0].Revision)
}

func TestLateJoinerReceivesSnapshot(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")

	_, err := e.Set(writer, "/scene/a", value.Number(1))
	require.NoError(t, err)
	_, err = e.Set(writer, "/scene/b", value.Number(2))
	require.NoError(t, err)

	late := connect(t, e, "late", "")
	_, err = e.Subscribe(late, "/scene/*", subscription.Options{})
	require.NoError(t, err)

	updates := drain(late)
	require.Len(t, updates, 2)
	assert.Equal(t, "/scene/a", updates[0].Address)
	assert.Equal(t, "/scene/b", updates[1].Address)
	for _, u := range updates {
		assert.True(t, u.Snapshot)
	}
}

func TestRequireAuthRefusesAnonymous(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{RequireAuth: true})

	_, err := e.Connect("anon", "")
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodeAuthRequired, clasperrors.CodeOf(err))

	sess, err := e.Connect("scoped", "write:/lights/**")
	require.NoError(t, err)
	e.Disconnect(sess.ID())
}

func TestTokenScopesWritesAndReads(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{RequireAuth: true})
	op := connect(t, e, "operator", "write:/lights/**,read:/**")
	watcher := connect(t, e, "watcher", "read:/lights/front/**")

	_, err := e.Subscribe(watcher, "/**", subscription.Options{})
	require.NoError(t, err)

	_, err = e.Set(op, "/lights/front/1", value.Number(0.5))
	require.NoError(t, err)
	_, err = e.Set(op, "/lights/back/1", value.Number(0.5))
	require.NoError(t, err)

	_, err = e.Set(op, "/audio/master", value.Number(0.5))
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodePermissionDenied, clasperrors.CodeOf(err))

	// The watcher's read scope filters out the back-light update.
	updates := drain(watcher)
	require.Len(t, updates, 1)
	assert.Equal(t, "/lights/front/1", updates[0].Address)
}

func TestReadScopeFiltersSnapshot(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	_, err := e.Set(writer, "/lights/1", value.Number(1))
	require.NoError(t, err)
	_, err = e.Set(writer, "/audio/1", value.Number(1))
	require.NoError(t, err)

	scoped := connect(t, e, "scoped", "read:/lights/**")
	_, err = e.Subscribe(scoped, "/**", subscription.Options{})
	require.NoError(t, err)

	updates := drain(scoped)
	require.Len(t, updates, 1)
	assert.Equal(t, "/lights/1", updates[0].Address)
}

func TestRevisionConflict(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	a := connect(t, e, "a", "")
	b := connect(t, e, "b", "")

	rev, err := e.Set(a, "/mix/level", value.Number(0.2))
	require.NoError(t, err)

	_, err = e.SetWithRevision(b, "/mix/level", value.Number(0.3), rev)
	require.NoError(t, err)

	// a's copy of the revision is now stale.
	_, err = e.SetWithRevision(a, "/mix/level", value.Number(0.4), rev)
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodeRevisionConflict, clasperrors.CodeOf(err))
}

func TestImmediateBundleAtomic(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")
	_, err := e.Subscribe(reader, "/**", subscription.Options{})
	require.NoError(t, err)

	ops := []signal.Operation{
		{Kind: signal.OpSet, Address: "/lights/1", Value: value.Number(1)},
		{Kind: signal.OpSet, Address: "/lights/2", Value: value.Number(1)},
	}
	require.NoError(t, e.Bundle(writer, ops, 0))

	updates := drain(reader)
	assert.Len(t, updates, 2)
}

func TestBundleRejectsWholesale(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")
	_, err := e.Subscribe(reader, "/**", subscription.Options{})
	require.NoError(t, err)

	// Second operation is a gesture move with no open sequence, so the
	// whole bundle must refuse and the first set must not commit.
	ops := []signal.Operation{
		{Kind: signal.OpSet, Address: "/lights/1", Value: value.Number(1)},
		{Kind: signal.OpGesture, Address: "/pad/x", Gesture: &signal.Gesture{ID: "g1", Phase: signal.PhaseMove}},
	}
	err = e.Bundle(writer, ops, 0)
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodeGestureSequence, clasperrors.CodeOf(err))

	_, found := e.Get("/lights/1")
	assert.False(t, found)
	assert.Empty(t, drain(reader))
}

func TestBundleRevisionConflictAtomic(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")

	rev, err := e.Set(writer, "/lights/2", value.Number(0.1))
	require.NoError(t, err)

	_, err = e.Subscribe(reader, "/**", subscription.Options{})
	require.NoError(t, err)
	drain(reader)

	// The second set carries a stale expected revision, so the whole
	// bundle must refuse and the first set must not commit or publish.
	ops := []signal.Operation{
		{Kind: signal.OpSet, Address: "/lights/1", Value: value.Number(1)},
		{Kind: signal.OpSet, Address: "/lights/2", Value: value.Number(1), ExpectedRevision: rev + 6},
	}
	err = e.Bundle(writer, ops, 0)
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodeRevisionConflict, clasperrors.CodeOf(err))

	_, found := e.Get("/lights/1")
	assert.False(t, found)
	entry, found := e.Get("/lights/2")
	require.True(t, found)
	assert.Equal(t, rev, entry.Revision)
	assert.Empty(t, drain(reader))

	// With the live revision the same bundle applies whole.
	ops[1].ExpectedRevision = rev
	require.NoError(t, e.Bundle(writer, ops, 0))
	assert.Len(t, drain(reader), 2)
}

func TestBundleDeniedByScope(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{RequireAuth: true})
	writer := connect(t, e, "writer", "write:/lights/**")

	ops := []signal.Operation{
		{Kind: signal.OpSet, Address: "/lights/1", Value: value.Number(1)},
		{Kind: signal.OpSet, Address: "/audio/1", Value: value.Number(1)},
	}
	err := e.Bundle(writer, ops, 0)
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodePermissionDenied, clasperrors.CodeOf(err))

	_, found := e.Get("/lights/1")
	assert.False(t, found)
}

func TestScheduledBundleAppliesAtTime(t *testing.T) {
	e, clk := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")
	_, err := e.Subscribe(reader, "/**", subscription.Options{})
	require.NoError(t, err)

	at := clk.Now() + clock.Duration(2*time.Second)
	ops := []signal.Operation{
		{Kind: signal.OpSet, Address: "/scene/active", Value: value.String("sunset")},
	}
	require.NoError(t, e.Bundle(writer, ops, at))
	assert.Equal(t, 1, e.PendingBundles())

	assert.Zero(t, e.TickScheduler())
	assert.Empty(t, drain(reader))

	clk.Advance(clock.Duration(2 * time.Second))
	assert.Equal(t, 1, e.TickScheduler())

	updates := drain(reader)
	require.Len(t, updates, 1)
	assert.Equal(t, "/scene/active", updates[0].Address)
	assert.Zero(t, e.PendingBundles())
}

func TestScheduledBundlePastRefused(t *testing.T) {
	e, clk := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")

	ops := []signal.Operation{
		{Kind: signal.OpSet, Address: "/scene/active", Value: value.String("x")},
	}
	err := e.Bundle(writer, ops, clk.Now()-1)
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodeScheduleInPast, clasperrors.CodeOf(err))
}

func TestDisconnectEndsOpenGestures(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	toucher := connect(t, e, "toucher", "")
	reader := connect(t, e, "reader", "")
	_, err := e.Subscribe(reader, "/**", subscription.Options{})
	require.NoError(t, err)

	g := &signal.Gesture{ID: "fader", Phase: signal.PhaseStart, Payload: value.Number(0)}
	require.NoError(t, e.Gesture(toucher, "/pad/x", g))
	assert.Equal(t, 1, e.OpenGestures())

	e.Disconnect(toucher.ID())
	assert.Zero(t, e.OpenGestures())

	updates := drain(reader)
	require.Len(t, updates, 2)
	assert.Equal(t, signal.PhaseStart, updates[0].Gesture.Phase)
	assert.Equal(t, signal.PhaseEnd, updates[1].Gesture.Phase)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")

	sub, err := e.Subscribe(reader, "/lights/**", subscription.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, e.SubscriptionCount())

	assert.True(t, e.Unsubscribe(reader, sub.Handle()))
	assert.Zero(t, e.SubscriptionCount())

	_, err = e.Set(writer, "/lights/1", value.Number(1))
	require.NoError(t, err)
	assert.Empty(t, drain(reader))
}

func TestMaxSessions(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{MaxSessions: 1})
	connect(t, e, "first", "")

	_, err := e.Connect("second", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, clasperrors.ErrTooManySessions)
}

func TestLifecycle(t *testing.T) {
	cfg := config.Default().Engine
	e := New(cfg)
	require.NoError(t, e.Initialize())

	require.NoError(t, e.Start(context.Background()))
	err := e.Start(context.Background())
	assert.ErrorIs(t, err, clasperrors.ErrAlreadyStarted)

	require.NoError(t, e.Stop(2*time.Second))
	assert.NoError(t, e.Stop(2*time.Second))
}

func TestReadScopeGuardsGetAndSnapshot(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{RequireAuth: true})
	admin := connect(t, e, "admin", "admin:/**")
	_, err := e.Set(admin, "/secrets/code", value.String("1234"))
	require.NoError(t, err)
	_, err = e.Set(admin, "/lights/1", value.Number(1))
	require.NoError(t, err)

	// A write-only token reads nothing, not even its own write scope.
	blind := connect(t, e, "blind", "write:/lights/**")
	_, _, err = e.GetFor(blind, "/secrets/code")
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodePermissionDenied, clasperrors.CodeOf(err))

	entries, err := e.SnapshotFor(blind, "/**")
	require.NoError(t, err)
	assert.Empty(t, entries)

	scoped := connect(t, e, "scoped", "read:/lights/**")
	entry, found, err := e.GetFor(scoped, "/lights/1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "/lights/1", entry.Address)

	_, _, err = e.GetFor(scoped, "/secrets/code")
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodePermissionDenied, clasperrors.CodeOf(err))

	entries, err = e.SnapshotFor(scoped, "/**")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/lights/1", entries[0].Address)
}

func TestDeleteRemovesAndNotifies(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	reader := connect(t, e, "reader", "")

	_, err := e.Set(writer, "/lights/1", value.Number(1))
	require.NoError(t, err)
	_, err = e.Subscribe(reader, "/**", subscription.Options{})
	require.NoError(t, err)
	drain(reader)

	removed, err := e.Delete(writer, "/lights/1")
	require.NoError(t, err)
	assert.True(t, removed)

	_, found := e.Get("/lights/1")
	assert.False(t, found)

	updates := drain(reader)
	require.Len(t, updates, 1)
	assert.Equal(t, "/lights/1", updates[0].Address)
	assert.True(t, updates[0].Deleted)

	// Deleting an absent address is a no-op, and a re-write restarts
	// the revision counter.
	removed, err = e.Delete(writer, "/lights/1")
	require.NoError(t, err)
	assert.False(t, removed)

	rev, err := e.Set(writer, "/lights/1", value.Number(2))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)
}

func TestDeleteDeniedByScope(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{RequireAuth: true})
	admin := connect(t, e, "admin", "admin:/**")
	_, err := e.Set(admin, "/audio/master", value.Number(1))
	require.NoError(t, err)

	scoped := connect(t, e, "scoped", "write:/lights/**")
	_, err = e.Delete(scoped, "/audio/master")
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodePermissionDenied, clasperrors.CodeOf(err))

	_, found := e.Get("/audio/master")
	assert.True(t, found)
}

func TestSnapshotByPattern(t *testing.T) {
	e, _ := newTestEngine(t, config.EngineConfig{})
	writer := connect(t, e, "writer", "")
	_, err := e.Set(writer, "/lights/1", value.Number(1))
	require.NoError(t, err)
	_, err = e.Set(writer, "/audio/1", value.Number(1))
	require.NoError(t, err)

	entries, err := e.Snapshot("/lights/**")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "/lights/1", entries[0].Address)

	_, err = e.Snapshot("lights")
	assert.Error(t, err)
}
