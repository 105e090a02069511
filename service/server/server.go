package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/brojonat/nftstake/service/metrics"
	"github.com/brojonat/nftstake/service/temporal"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for the staking service.
type Server struct {
	addr    string
	svc     StakingService
	store   SubmissionStore
	starter temporal.ConfirmationStarter
	stream  *EventStream
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server with the given dependencies.
// The starter launches confirmation tracking for submitted transactions.
// The stream is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, svc StakingService, store SubmissionStore, starter temporal.ConfirmationStarter, stream *EventStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:    addr,
		svc:     svc,
		store:   store,
		starter: starter,
		stream:  stream,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler, wrapped with CORS and HTTP metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Program and pool reads
	route("GET /api/v1/programs/addresses", "/api/v1/programs/addresses", handleGetAddresses(s.svc, s.logger))
	route("GET /api/v1/pools/{owner}", "/api/v1/pools/{owner}", handleGetUserPool(s.svc, s.logger))
	route("GET /api/v1/pools/{owner}/xp", "/api/v1/pools/{owner}/xp", handleGetXP(s.svc, s.logger))

	// Transactions
	route("POST /api/v1/transactions/submit", "/api/v1/transactions/submit", handleSubmitTransaction(s.svc, s.store, s.starter, s.logger))
	route("POST /api/v1/transactions/{action}", "/api/v1/transactions/{action}", handleBuildTransaction(s.svc, s.logger))

	// Submissions
	route("GET /api/v1/submissions/{signature}", "/api/v1/submissions/{signature}", handleGetSubmission(s.store, s.logger))
	route("GET /api/v1/submissions", "/api/v1/submissions", handleListSubmissions(s.store, s.logger))

	// SSE streaming endpoints (if the event stream is configured)
	if s.stream != nil {
		mux.Handle("GET /api/v1/stream/staking/{owner}", handleStreamStakingEvents(s.stream, s.logger))
		mux.Handle("GET /api/v1/stream/staking", handleStreamStakingEvents(s.stream, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	} else {
		s.logger.Warn("event stream not configured, streaming endpoints disabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
		s.logger.Info("Prometheus metrics endpoint enabled")
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown is called.
func (s *Server) Serve(ln net.Listener) error {
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the event stream first (disconnects all SSE clients)
	if s.stream != nil {
		s.stream.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
