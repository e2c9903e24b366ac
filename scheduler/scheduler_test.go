package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumencanvas/clasp/clock"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/value"
)

func op(addr string) signal.Operation {
	return signal.Operation{Kind: signal.OpSet, Address: addr, Value: value.Number(1)}
}

type recorder struct {
	mu      sync.Mutex
	applied []*Bundle
	fail    func(b *Bundle) error
}

func (r *recorder) apply(b *Bundle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		if err := r.fail(b); err != nil {
			return err
		}
	}
	r.applied = append(r.applied, b)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied)
}

func TestImmediateBundleAppliesSynchronously(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	rec := &recorder{}
	s := New(clk, rec.apply, nil)

	b := &Bundle{SessionID: "s1", Operations: []signal.Operation{op("/a")}}
	require.NoError(t, s.Submit(b))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, s.PendingDepth())
}

func TestImmediateBundleSurfacesValidationError(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	rec := &recorder{fail: func(*Bundle) error {
		return clasperrors.New(clasperrors.CodePermissionDenied, "no write scope")
	}}
	s := New(clk, rec.apply, nil)

	err := s.Submit(&Bundle{SessionID: "s1", Operations: []signal.Operation{op("/a")}})
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodePermissionDenied, clasperrors.CodeOf(err))
}

func TestEmptyBundleRejected(t *testing.T) {
	s := New(clock.NewManual(0), (&recorder{}).apply, nil)
	err := s.Submit(&Bundle{SessionID: "s1"})
	assert.ErrorIs(t, err, clasperrors.ErrBundleEmpty)
}

func TestPastScheduleRejected(t *testing.T) {
	clk := clock.NewManual(5_000_000)
	rec := &recorder{}
	s := New(clk, rec.apply, nil)

	err := s.Submit(&Bundle{
		SessionID:  "s1",
		Operations: []signal.Operation{op("/a")},
		At:         4_000_000,
	})
	require.Error(t, err)
	assert.Equal(t, clasperrors.CodeScheduleInPast, clasperrors.CodeOf(err))
	assert.Equal(t, 0, rec.count(), "past bundles are never silently run")
}

func TestScheduleAtCurrentTimeAppliesImmediately(t *testing.T) {
	clk := clock.NewManual(5_000_000)
	rec := &recorder{}
	s := New(clk, rec.apply, nil)

	require.NoError(t, s.Submit(&Bundle{
		SessionID:  "s1",
		Operations: []signal.Operation{op("/a")},
		At:         clk.Now(),
	}))
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, s.PendingDepth())
}

func TestFutureBundleWaitsForItsTime(t *testing.T) {
	clk := clock.NewManual(1_000_000)
	rec := &recorder{}
	s := New(clk, rec.apply, nil)

	require.NoError(t, s.Submit(&Bundle{
		SessionID:  "s1",
		Operations: []signal.Operation{op("/a")},
		At:         3_000_000, // now + 2s
	}))
	assert.Equal(t, 1, s.PendingDepth())

	// Not yet due.
	assert.Equal(t, 0, s.Tick())
	assert.Equal(t, 0, rec.count())

	clk.Advance(1_999_999)
	assert.Equal(t, 0, s.Tick(), "one microsecond early is still early")

	clk.Advance(1)
	assert.Equal(t, 1, s.Tick())
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 0, s.PendingDepth())

	// Applied exactly once.
	assert.Equal(t, 0, s.Tick())
	assert.Equal(t, 1, rec.count())
}

func TestDueOrderTimestampThenFIFO(t *testing.T) {
	clk := clock.NewManual(0)
	rec := &recorder{}
	s := New(clk, rec.apply, nil)

	later := &Bundle{SessionID: "later", Operations: []signal.Operation{op("/a")}, At: 2_000}
	firstAtTie := &Bundle{SessionID: "tie-1", Operations: []signal.Operation{op("/b")}, At: 1_000}
	secondAtTie := &Bundle{SessionID: "tie-2", Operations: []signal.Operation{op("/c")}, At: 1_000}

	require.NoError(t, s.Submit(later))
	require.NoError(t, s.Submit(firstAtTie))
	require.NoError(t, s.Submit(secondAtTie))

	clk.Advance(10_000)
	assert.Equal(t, 3, s.Tick())

	require.Len(t, rec.applied, 3)
	assert.Equal(t, "tie-1", rec.applied[0].SessionID)
	assert.Equal(t, "tie-2", rec.applied[1].SessionID)
	assert.Equal(t, "later", rec.applied[2].SessionID)
}

func TestFailedDueBundleDoesNotStopOthers(t *testing.T) {
	clk := clock.NewManual(0)
	rec := &recorder{fail: func(b *Bundle) error {
		if b.SessionID == "bad" {
			return clasperrors.New(clasperrors.CodeInvalidValue, "state changed under it")
		}
		return nil
	}}
	s := New(clk, rec.apply, nil)

	require.NoError(t, s.Submit(&Bundle{SessionID: "bad", Operations: []signal.Operation{op("/a")}, At: 1_000}))
	require.NoError(t, s.Submit(&Bundle{SessionID: "good", Operations: []signal.Operation{op("/b")}, At: 2_000}))

	clk.Advance(10_000)
	assert.Equal(t, 1, s.Tick())
	require.Len(t, rec.applied, 1)
	assert.Equal(t, "good", rec.applied[0].SessionID)
}

func TestLoopAppliesDueBundles(t *testing.T) {
	clk := clock.NewSystem()
	rec := &recorder{}
	s := New(clk, rec.apply, nil)
	s.SetTick(time.Millisecond)

	require.NoError(t, s.Start(context.Background()))
	defer func() { _ = s.Stop(time.Second) }()

	require.NoError(t, s.Submit(&Bundle{
		SessionID:  "s1",
		Operations: []signal.Operation{op("/a")},
		At:         clk.Now() + clock.Duration(20*time.Millisecond),
	}))

	require.Eventually(t, func() bool { return rec.count() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestStartStopLifecycle(t *testing.T) {
	s := New(clock.NewSystem(), (&recorder{}).apply, nil)

	assert.ErrorIs(t, s.Stop(time.Second), clasperrors.ErrNotStarted)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), clasperrors.ErrAlreadyStarted)
	require.NoError(t, s.Stop(time.Second))
}
