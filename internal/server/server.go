// Package server exposes the diagnostics HTTP endpoints: liveness and
// readiness probes, a JSON status snapshot, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synchronvoice/synchron/internal/health"
	"github.com/synchronvoice/synchron/internal/observe"
)

// shutdownTimeout bounds graceful shutdown of in-flight requests.
const shutdownTimeout = 5 * time.Second

// Status is the JSON body served at /statusz. It is a point-in-time snapshot
// of the running assistant.
type Status struct {
	// State is the session state: "idle", "connecting", "connected", "error".
	State string `json:"state"`

	// Listening is true while microphone audio is being forwarded.
	Listening bool `json:"listening"`

	// Speaking is true while assistant audio is playing.
	Speaking bool `json:"speaking"`

	// Error holds the last session error message, if any.
	Error string `json:"error,omitempty"`

	// TranscriptEntries is the number of finalised transcript entries.
	TranscriptEntries int `json:"transcript_entries"`

	// CaptureSent and CaptureDropped count microphone blocks forwarded and
	// discarded since startup.
	CaptureSent    uint64 `json:"capture_sent"`
	CaptureDropped uint64 `json:"capture_dropped"`

	// PlaybackActive is the number of audio chunks currently scheduled or
	// playing.
	PlaybackActive int `json:"playback_active"`

	// PlaybackLeadMs is how far ahead of the wall clock the playback cursor
	// sits, in milliseconds.
	PlaybackLeadMs int64 `json:"playback_lead_ms"`
}

// StatusFunc returns the current [Status]. Called on every /statusz request.
type StatusFunc func() Status

// Server is the diagnostics HTTP server.
type Server struct {
	addr     string
	handler  http.Handler
	logger   *slog.Logger
	statusFn StatusFunc
}

// Option configures a [Server].
type Option func(*options)

type options struct {
	logger   *slog.Logger
	metrics  *observe.Metrics
	checkers []health.Checker
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics sets the metrics instance used by the request middleware.
// Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithCheckers adds readiness checkers evaluated on /readyz.
func WithCheckers(checkers ...health.Checker) Option {
	return func(o *options) { o.checkers = append(o.checkers, checkers...) }
}

// New creates a diagnostics server listening on addr once [Server.Run] is
// called. statusFn may be nil, in which case /statusz serves a zero snapshot.
func New(addr string, statusFn StatusFunc, opts ...Option) *Server {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.metrics == nil {
		o.metrics = observe.DefaultMetrics()
	}

	s := &Server{
		addr:     addr,
		logger:   o.logger,
		statusFn: statusFn,
	}

	mux := http.NewServeMux()
	health.New(o.checkers...).Register(mux)
	mux.HandleFunc("GET /statusz", s.handleStatus)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.handler = observe.Middleware(o.metrics)(mux)
	return s
}

// Handler returns the fully wrapped HTTP handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully. It
// returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("diagnostics server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var status Status
	if s.statusFn != nil {
		status = s.statusFn()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}
