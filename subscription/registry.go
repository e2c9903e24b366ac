// Package subscription implements the registry that routes address
// changes to subscribing sessions.
//
// Subscribing computes an immediate snapshot of matching stored state
// and delivers it to the new subscriber before any live update — the
// late-joiner guarantee. Publishing fans out to every subscription whose
// pattern matches and whose type filter accepts the signal kind. A
// subscription's max-rate caps its Stream delivery cadence with a drop
// policy: excess samples are discarded, never queued.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/lumencanvas/clasp/address"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/session"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/state"
)

// Options configure one subscription.
type Options struct {
	// Types restricts delivery to the listed signal kinds. Empty means
	// all kinds.
	Types []signal.Type
	// MaxRate caps Stream delivery cadence in updates per second.
	// Zero means unlimited.
	MaxRate float64
	// ReadFilter, when set, suppresses delivery of addresses it
	// rejects. The authorization guard uses it to scope snapshots and
	// live updates to the subscriber's read grants.
	ReadFilter func(addr string) bool
}

// Subscription is one active pattern subscription owned by a session.
type Subscription struct {
	handle  string
	sess    *session.Session
	pattern string
	types   map[signal.Type]struct{} // nil = all kinds
	limiter *rate.Limiter            // nil = unlimited
	maxRate float64
	filter  func(addr string) bool
}

// Handle returns the subscription's unique handle.
func (s *Subscription) Handle() string { return s.handle }

// Pattern returns the subscription's address pattern.
func (s *Subscription) Pattern() string { return s.pattern }

// MaxRate returns the Stream delivery cap in updates per second, 0 for
// unlimited.
func (s *Subscription) MaxRate() float64 { return s.maxRate }

func (s *Subscription) accepts(t signal.Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Registry tracks active subscriptions and fans out published updates.
type Registry struct {
	mu     sync.RWMutex
	subs   map[string]*Subscription
	store  *state.Store
	logger *slog.Logger

	// delivery outcome hooks for metrics, may be nil
	onDelivered func(t signal.Type)
	onDropped   func(t signal.Type, rateLimited bool)
}

// NewRegistry creates a registry over the given address space.
func NewRegistry(store *state.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		subs:   make(map[string]*Subscription),
		store:  store,
		logger: logger.With("component", "subscription-registry"),
	}
}

// SetDeliveryHooks installs counters called on every delivery outcome.
// Must be called before the registry is shared between goroutines.
func (r *Registry) SetDeliveryHooks(delivered func(signal.Type), dropped func(t signal.Type, rateLimited bool)) {
	r.onDelivered = delivered
	r.onDropped = dropped
}

// Subscribe registers a pattern subscription for sess and delivers the
// late-joiner snapshot: every stored entry matching the pattern (and
// type filter), tagged with its current revision, lands on the session's
// queue before any subsequent live update.
func (r *Registry) Subscribe(sess *session.Session, pattern string, opts Options) (*Subscription, error) {
	if err := address.ValidatePattern(pattern); err != nil {
		return nil, err
	}

	sub := &Subscription{
		handle:  uuid.NewString(),
		sess:    sess,
		pattern: pattern,
		maxRate: opts.MaxRate,
		filter:  opts.ReadFilter,
	}
	if len(opts.Types) > 0 {
		sub.types = make(map[signal.Type]struct{}, len(opts.Types))
		for _, t := range opts.Types {
			sub.types[t] = struct{}{}
		}
	}
	if opts.MaxRate > 0 {
		sub.limiter = rate.NewLimiter(rate.Limit(opts.MaxRate), 1)
	}

	// Registration and snapshot happen under the write lock so no live
	// publish can interleave before the initial sync batch.
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs[sub.handle] = sub
	sess.TrackSubscription(sub.handle)

	entries := r.store.Snapshot(func(addr string) bool {
		return address.Match(pattern, addr)
	})
	for _, e := range entries {
		t := signal.TypeParam
		if e.Timeline != nil {
			t = signal.TypeTimeline
		}
		if !sub.accepts(t) {
			continue
		}
		if sub.filter != nil && !sub.filter(e.Address) {
			continue
		}
		r.deliver(sub, signal.Update{
			Address:   e.Address,
			Type:      t,
			Value:     e.Value,
			Timeline:  e.Timeline,
			Revision:  e.Revision,
			Timestamp: e.Timestamp,
			Snapshot:  true,
		})
	}

	r.logger.Debug("subscribed",
		"session_id", sess.ID(), "pattern", pattern, "snapshot_entries", len(entries))
	return sub, nil
}

// Unsubscribe removes a subscription by handle. It is idempotent: a
// second removal reports false and is not an error.
func (r *Registry) Unsubscribe(handle string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[handle]
	if !ok {
		return false
	}
	delete(r.subs, handle)
	sub.sess.ForgetSubscription(handle)
	return true
}

// UnsubscribePattern removes every subscription sess holds on exactly
// pattern. It returns the number removed.
func (r *Registry) UnsubscribePattern(sess *session.Session, pattern string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for handle, sub := range r.subs {
		if sub.sess == sess && sub.pattern == pattern {
			delete(r.subs, handle)
			sess.ForgetSubscription(handle)
			removed++
		}
	}
	return removed
}

// DropSession removes all subscriptions owned by sess, atomically with
// respect to concurrent publishes. Used at disconnect. The session's
// handle set names exactly the subscriptions to remove, so teardown
// does not scan unrelated sessions.
func (r *Registry) DropSession(sess *session.Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for _, handle := range sess.SubscriptionHandles() {
		sub, ok := r.subs[handle]
		if !ok || sub.sess != sess {
			continue
		}
		delete(r.subs, handle)
		sess.ForgetSubscription(handle)
		removed++
	}
	return removed
}

// Publish fans an update out to every matching subscription. Delivery
// failures (slow consumers, rate caps) are local to each subscriber.
// It returns the number of successful deliveries.
func (r *Registry) Publish(u signal.Update) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, sub := range r.subs {
		if !sub.accepts(u.Type) {
			continue
		}
		if !address.Match(sub.pattern, u.Address) {
			continue
		}
		if sub.filter != nil && !sub.filter(u.Address) {
			continue
		}
		if u.Type == signal.TypeStream && sub.limiter != nil && !sub.limiter.Allow() {
			// Over the subscription's cadence: discard, never queue.
			if r.onDropped != nil {
				r.onDropped(u.Type, true)
			}
			continue
		}
		if r.deliver(sub, u) {
			delivered++
		}
	}
	return delivered
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (r *Registry) deliver(sub *Subscription, u signal.Update) bool {
	if err := sub.sess.Deliver(u); err != nil {
		if r.onDropped != nil {
			r.onDropped(u.Type, false)
		}
		if !clasperrors.Is(err, clasperrors.ErrSessionClosed) {
			r.logger.Debug("delivery dropped",
				"session_id", sub.sess.ID(), "address", u.Address, "error", err)
		}
		return false
	}
	if r.onDelivered != nil {
		r.onDelivered(u.Type)
	}
	return true
}
