package natsclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	clasperrors "github.com/lumencanvas/clasp/errors"
)

// ConnectionStatus tracks the client's connection lifecycle.
type ConnectionStatus int32

const (
	// StatusDisconnected means no connection is established.
	StatusDisconnected ConnectionStatus = iota
	// StatusConnecting means a connection attempt is in flight.
	StatusConnecting
	// StatusConnected means the connection is healthy.
	StatusConnected
	// StatusClosed means the client was closed and will not reconnect.
	StatusClosed
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client wraps a NATS connection with reconnect handling and status
// reporting. The federation bridge is its only in-process consumer,
// but it stays transport-generic.
type Client struct {
	url           string
	clientName    string
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration
	logger        *slog.Logger

	onDisconnect func(error)
	onReconnect  func()

	mu     sync.RWMutex
	conn   *nats.Conn
	status ConnectionStatus
}

// Option configures a Client.
type Option func(*Client)

// WithName sets the connection name visible to the NATS server.
func WithName(name string) Option {
	return func(c *Client) { c.clientName = name }
}

// WithMaxReconnects sets the reconnect attempt cap (-1 for infinite).
func WithMaxReconnects(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// WithReconnectWait sets the wait between reconnect attempts.
func WithReconnectWait(d time.Duration) Option {
	return func(c *Client) { c.reconnectWait = d }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithDisconnectCallback observes disconnect events.
func WithDisconnectCallback(fn func(error)) Option {
	return func(c *Client) { c.onDisconnect = fn }
}

// WithReconnectCallback observes reconnect events.
func WithReconnectCallback(fn func()) Option {
	return func(c *Client) { c.onReconnect = fn }
}

// New creates an unconnected client for the URL.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		maxReconnects: -1,
		reconnectWait: 2 * time.Second,
		pingInterval:  30 * time.Second,
		timeout:       5 * time.Second,
		drainTimeout:  10 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "natsclient")
	return c
}

// URL returns the configured server URL.
func (c *Client) URL() string { return c.url }

// Status returns the current connection status.
func (c *Client) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// IsHealthy reports whether the connection is up.
func (c *Client) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Client) connectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			c.setStatus(StatusDisconnected)
			c.logger.Warn("nats disconnected", "error", err)
			if c.onDisconnect != nil {
				c.onDisconnect(err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			c.setStatus(StatusConnected)
			c.logger.Info("nats reconnected", "url", nc.ConnectedUrl())
			if c.onReconnect != nil {
				c.onReconnect()
			}
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			c.setStatus(StatusClosed)
		}),
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// Connect establishes the connection, honoring context cancellation.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	done := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectionOptions()...)
		if err != nil {
			done <- err
			return
		}
		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		done <- nil
	}()

	select {
	case err := <-done:
		if err != nil {
			c.setStatus(StatusDisconnected)
			return clasperrors.Wrap(err, "natsclient", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		return clasperrors.Wrap(ctx.Err(), "natsclient", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.logger.Info("nats connected", "url", c.url)
	return nil
}

// Close drains and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Drain()
	c.setStatus(StatusClosed)
	if err != nil {
		return clasperrors.Wrap(err, "natsclient", "Close", "drain connection")
	}
	return nil
}

// Publish sends data on the subject.
func (c *Client) Publish(subject string, data []byte) error {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return clasperrors.Wrap(clasperrors.ErrNotStarted, "natsclient", "Publish", "publish without connection")
	}
	if err := conn.Publish(subject, data); err != nil {
		return clasperrors.Wrap(err, "natsclient", "Publish", "publish message")
	}
	return nil
}

// Subscribe registers a handler on the subject.
func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) (*nats.Subscription, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, clasperrors.Wrap(clasperrors.ErrNotStarted, "natsclient", "Subscribe", "subscribe without connection")
	}
	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, clasperrors.Wrap(err, "natsclient", "Subscribe", "create subscription")
	}
	return sub, nil
}

// RTT measures the server round trip, for health reporting.
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return 0, clasperrors.Wrap(clasperrors.ErrNotStarted, "natsclient", "RTT", "measure without connection")
	}
	return conn.RTT()
}
