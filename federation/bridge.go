package federation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumencanvas/clasp/config"
	"github.com/lumencanvas/clasp/engine"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/health"
	"github.com/lumencanvas/clasp/natsclient"
	"github.com/lumencanvas/clasp/session"
	"github.com/lumencanvas/clasp/signal"
	"github.com/lumencanvas/clasp/subscription"
	"github.com/lumencanvas/clasp/value"
)

// Envelope is the federation wire record for one committed update.
type Envelope struct {
	Origin    string           `json:"origin"`
	Address   string           `json:"address"`
	Signal    string           `json:"signal"`
	Value     value.Value      `json:"value,omitempty"`
	Timeline  *signal.Timeline `json:"timeline,omitempty"`
	Revision  uint64           `json:"revision,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Bridge federates committed persistent signals over NATS: local
// param and timeline commits publish to the subject tree, and remote
// ones apply through an internal session. Origin tagging keeps a
// node's own updates from echoing back in.
type Bridge struct {
	cfg    config.FederationConfig
	eng    *engine.Engine
	client *natsclient.Client
	logger *slog.Logger

	originID string
	sess     *session.Session

	mu          sync.Mutex
	initialized bool
	started     bool
	cancel      context.CancelFunc
	done        chan struct{}
}

// NewBridge creates a federation bridge for the engine. A nil client
// means the bridge builds its own from the configured URL.
func NewBridge(cfg config.FederationConfig, eng *engine.Engine, client *natsclient.Client, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	originID := uuid.New().String()
	if client == nil {
		client = natsclient.New(cfg.URL,
			natsclient.WithName("clasp-federation-"+originID[:8]),
			natsclient.WithLogger(logger),
		)
	}
	return &Bridge{
		cfg:      cfg,
		eng:      eng,
		client:   client,
		logger:   logger.With("component", "federation"),
		originID: originID,
	}
}

// OriginID returns the node identity stamped on outbound envelopes.
func (b *Bridge) OriginID() string { return b.originID }

// Initialize opens the bridge's engine session and its local
// subscription over persistent kinds.
func (b *Bridge) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.initialized {
		return nil
	}

	sess, err := b.eng.Connect("federation", "")
	if err != nil {
		return clasperrors.Wrap(err, "federation", "Initialize", "open bridge session")
	}
	b.sess = sess

	if _, err := b.eng.Subscribe(sess, "/**", subscriptionOptions()); err != nil {
		b.eng.Disconnect(sess.ID())
		b.sess = nil
		return clasperrors.Wrap(err, "federation", "Initialize", "subscribe to persistent signals")
	}

	b.initialized = true
	return nil
}

// Start connects to NATS, subscribes to the remote subject tree, and
// runs the outbound pump until the context ends.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.initialized {
		return clasperrors.Wrap(clasperrors.ErrNotStarted, "federation", "Start", "initialize before start")
	}
	if b.started {
		return clasperrors.Wrap(clasperrors.ErrAlreadyStarted, "federation", "Start", "start bridge")
	}

	if err := b.client.Connect(ctx); err != nil {
		return err
	}
	if _, err := b.client.Subscribe(b.cfg.SubjectPrefix+".>", b.handleRemote); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.pumpLocal(runCtx)

	b.started = true
	b.logger.Info("federation bridge started",
		"url", b.client.URL(),
		"subject_prefix", b.cfg.SubjectPrefix,
		"origin", b.originID)
	return nil
}

// Stop halts the pump, closes the NATS connection, and disconnects
// the bridge session.
func (b *Bridge) Stop(timeout time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		if b.sess != nil {
			b.eng.Disconnect(b.sess.ID())
			b.sess = nil
			b.initialized = false
		}
		return nil
	}

	b.cancel()
	select {
	case <-b.done:
	case <-time.After(timeout):
		return clasperrors.Wrap(clasperrors.ErrShuttingDown, "federation", "Stop", "wait for pump")
	}

	err := b.client.Close()
	b.eng.Disconnect(b.sess.ID())
	b.sess = nil
	b.initialized = false
	b.started = false
	b.logger.Info("federation bridge stopped")
	return err
}

// Health reports the bridge's connection state for the process
// checker.
func (b *Bridge) Health() health.Status {
	if !b.client.IsHealthy() {
		return health.Degraded("federation", "nats "+b.client.Status().String())
	}
	rtt, err := b.client.RTT()
	if err != nil {
		return health.Degraded("federation", "nats rtt unavailable")
	}
	return health.Healthy("federation", "nats rtt "+rtt.String())
}

// pumpLocal republishes locally committed persistent updates.
func (b *Bridge) pumpLocal(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-b.sess.Updates():
			if !ok {
				return
			}
			if u.Snapshot || u.Deleted {
				// Deletions stay local; peers keep their own last
				// retained value.
				continue
			}
			if b.isOwnApplication(u) {
				continue
			}
			if err := b.publishLocal(u); err != nil {
				b.logger.Warn("federation publish failed", "address", u.Address, "error", err)
			}
		}
	}
}

// isOwnApplication reports whether the update is the local commit of
// an envelope this bridge just applied, which must not echo back out.
func (b *Bridge) isOwnApplication(u signal.Update) bool {
	entry, ok := b.eng.Get(u.Address)
	return ok && entry.Revision == u.Revision && entry.Writer == b.sess.ID()
}

func (b *Bridge) publishLocal(u signal.Update) error {
	env := Envelope{
		Origin:    b.originID,
		Address:   u.Address,
		Signal:    u.Type.String(),
		Value:     u.Value,
		Timeline:  u.Timeline,
		Revision:  u.Revision,
		Timestamp: int64(u.Timestamp),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return clasperrors.Wrap(err, "federation", "publishLocal", "encode envelope")
	}
	return b.client.Publish(SubjectFor(b.cfg.SubjectPrefix, u.Address), data)
}

// handleRemote applies one remote envelope through the bridge session.
func (b *Bridge) handleRemote(subject string, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		b.logger.Warn("malformed federation envelope", "subject", subject, "error", err)
		return
	}
	if env.Origin == b.originID {
		return
	}
	if err := b.applyRemote(env); err != nil {
		b.logger.Warn("remote update rejected", "address", env.Address, "error", err)
	}
}

func (b *Bridge) applyRemote(env Envelope) error {
	switch env.Signal {
	case signal.TypeParam.String():
		_, err := b.eng.Set(b.sess, env.Address, env.Value)
		return err
	case signal.TypeTimeline.String():
		if env.Timeline == nil {
			return clasperrors.New(clasperrors.CodeInvalidValue, "timeline envelope without timeline")
		}
		_, err := b.eng.SetTimeline(b.sess, env.Address, env.Timeline)
		return err
	default:
		return clasperrors.Newf(clasperrors.CodeInvalidValue, "unsupported federated signal %q", env.Signal)
	}
}

// SubjectFor maps an address to its federation subject:
// /lights/1/intensity becomes prefix.lights.1.intensity.
func SubjectFor(prefix, addr string) string {
	return prefix + strings.ReplaceAll(addr, "/", ".")
}

// AddressFor is the inverse of SubjectFor.
func AddressFor(prefix, subject string) string {
	return strings.ReplaceAll(strings.TrimPrefix(subject, prefix), ".", "/")
}

func subscriptionOptions() subscription.Options {
	return subscription.Options{
		Types: []signal.Type{signal.TypeParam, signal.TypeTimeline},
	}
}
