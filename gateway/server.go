package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lumencanvas/clasp/config"
	"github.com/lumencanvas/clasp/engine"
	clasperrors "github.com/lumencanvas/clasp/errors"
	"github.com/lumencanvas/clasp/metric"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Server accepts WebSocket clients and turns each connection into an
// engine session, translating JSON frames into engine operations and
// pumping deliveries back out.
type Server struct {
	cfg      config.GatewayConfig
	eng      *engine.Engine
	logger   *slog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	server  *http.Server
	clients map[*client]struct{}
	started bool
}

// NewServer creates a gateway for the engine. A nil registry disables
// gateway metrics.
func NewServer(cfg config.GatewayConfig, eng *engine.Engine, logger *slog.Logger, registry *metric.Registry) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		eng:     eng,
		logger:  logger.With("component", "gateway"),
		metrics: newMetrics(registry),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Creative-control clients connect from editors and
			// embedded panels on arbitrary origins.
			CheckOrigin: func(_ *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Handler returns the WebSocket upgrade handler. Tests and embedding
// servers mount it directly; Start serves it on the configured address.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

// Start begins accepting connections on the configured address. Listen
// errors after startup are reported through the returned channel.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil, clasperrors.Wrap(clasperrors.ErrAlreadyStarted, "gateway", "Start", "start listener")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	s.server = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.started = true

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", "addr", s.cfg.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- clasperrors.Wrap(err, "gateway", "Start", "serve websocket endpoint")
		}
		close(errCh)
	}()
	return errCh, nil
}

// Stop closes the listener and every client connection, waiting up to
// timeout for the HTTP server to drain.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.started = false
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close("shutdown")
	}

	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return clasperrors.Wrap(err, "gateway", "Stop", "drain websocket server")
	}
	s.logger.Info("gateway stopped")
	return nil
}

// ClientCount reports the number of connected clients.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newClient(s, conn)
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.metrics.recordConnect()

	go c.run()
}

func (s *Server) dropClient(c *client, reason string) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if present {
		s.metrics.recordDisconnect(reason)
	}
}
