package metric

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	clasperrors "github.com/lumencanvas/clasp/errors"
)

// Server is the observability HTTP server. It exposes the Prometheus
// scrape endpoint, and adapters may mount extra handlers (the health
// snapshot, for example) before Start.
type Server struct {
	addr     string
	path     string
	registry *Registry

	mu      sync.Mutex
	extra   map[string]http.Handler
	server  *http.Server
	started bool
}

// NewServer creates an observability server for the registry.
func NewServer(addr string, registry *Registry) *Server {
	if addr == "" {
		addr = ":9330"
	}
	return &Server{
		addr:     addr,
		path:     "/metrics",
		registry: registry,
		extra:    make(map[string]http.Handler),
	}
}

// Handle mounts an extra handler at the given path. Panics if called
// after Start, matching net/http's mux registration discipline.
func (s *Server) Handle(path string, h http.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		panic("metric: Handle after Start")
	}
	s.extra[path] = h
}

// Start begins serving in a background goroutine. Listen errors after
// startup are reported through the returned channel.
func (s *Server) Start() (<-chan error, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, clasperrors.Wrap(clasperrors.ErrAlreadyStarted, "metric.Server", "Start", "start observability server")
	}

	mux := http.NewServeMux()
	mux.Handle(s.path, promhttp.HandlerFor(
		s.registry.PrometheusRegistry(),
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	))
	for path, h := range s.extra {
		mux.Handle(path, h)
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = fmt.Fprintf(w, `<html>
<head><title>CLASP Observability</title></head>
<body>
<h1>CLASP Observability Server</h1>
<p><a href="%s">Metrics</a></p>
<p><a href="/healthz">Health</a></p>
</body>
</html>`, s.path)
	})

	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.started = true

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- clasperrors.Wrap(err, "metric.Server", "Start", "serve observability endpoint")
		}
		close(errCh)
	}()
	return errCh, nil
}

// Stop shuts the server down, waiting up to timeout for in-flight
// scrapes to finish.
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := s.server.Shutdown(ctx)
	s.server = nil
	s.started = false
	if err != nil {
		return clasperrors.Wrap(err, "metric.Server", "Stop", "shut down observability server")
	}
	return nil
}

// Address returns the scrape URL.
func (s *Server) Address() string {
	return fmt.Sprintf("http://localhost%s%s", s.addr, s.path)
}
