// Package server exposes a read-only status API over the running sessions,
// the submission journal and the audit log.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/gflexbot/internal/domain"
	"github.com/alanyoungcy/gflexbot/internal/server/handler"
	"github.com/alanyoungcy/gflexbot/internal/server/middleware"
)

const (
	shutdownTimeout = 5 * time.Second
	healthPath      = "/api/health"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKey, when set, is required on every route except the health check.
	APIKey string
	// Limiter and RateLimitPerMinute enable per-client limiting when both set.
	Limiter            domain.RateLimiter
	RateLimitPerMinute int
}

// Handlers aggregates the HTTP handlers. Submissions is nil when the
// journal is not enabled.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Sessions    *handler.SessionHandler
	Submissions *handler.SubmissionHandler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain: CORS, logging, rate limit, auth.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http_server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/sessions", handlers.Sessions.ListSessions)
	mux.HandleFunc("GET /api/sessions/{id}", handlers.Sessions.GetSession)

	if handlers.Submissions != nil {
		mux.HandleFunc("GET /api/sessions/{id}/submissions", handlers.Submissions.ListBySession)
		mux.HandleFunc("GET /api/submissions", handlers.Submissions.ListRecent)
		mux.HandleFunc("GET /api/submissions/outcomes", handlers.Submissions.CountOutcomes)
		mux.HandleFunc("GET /api/audit", handlers.Submissions.ListAudit)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	if cfg.Limiter != nil && cfg.RateLimitPerMinute > 0 {
		h = middleware.RateLimit(cfg.Limiter, cfg.RateLimitPerMinute, time.Minute, logger)(h)
	}
	h = middleware.Logging(logger, healthPath)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens until ctx is cancelled, then shuts down gracefully. It returns
// nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.InfoContext(ctx, "HTTP server listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	s.logger.InfoContext(ctx, "HTTP server shutting down")
	if err := s.httpServer.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
