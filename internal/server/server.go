// Package server exposes the read-only status API and the operator control
// surface over HTTP and WebSocket.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/relaybot/internal/domain"
	"github.com/alanyoungcy/relaybot/internal/server/handler"
	"github.com/alanyoungcy/relaybot/internal/server/middleware"
	"github.com/alanyoungcy/relaybot/internal/server/ws"
)

// Shared per-client-IP rate limit for the mutating routes.
const (
	mutateRateLimit  = 5
	mutateRateWindow = time.Minute
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health       *handler.HealthHandler
	Status       *handler.StatusHandler
	Feeds        *handler.FeedHandler
	Attempts     *handler.AttemptHandler
	Audit        *handler.AuditHandler
	Orchestrator *handler.OrchestratorHandler
}

// Server is the headless HTTP + WebSocket API server for the updater.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (logging, CORS, auth) and attaches the WebSocket
// hub. limiter may be nil, which leaves the mutating routes unthrottled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Status and feed endpoints.
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/feeds", handlers.Feeds.ListFeeds)
	mux.HandleFunc("GET /api/feeds/{id}", handlers.Feeds.GetFeed)

	// Attempt history and audit log.
	mux.HandleFunc("GET /api/attempts", handlers.Attempts.ListAttempts)
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)

	// Operator controls. Mutating routes share a per-IP rate limit.
	throttle := func(h http.HandlerFunc) http.Handler {
		if limiter == nil {
			return h
		}
		return middleware.RateLimit(limiter, mutateRateLimit, mutateRateWindow)(h)
	}
	mux.Handle("POST /api/feeds/{id}/enable", throttle(handlers.Feeds.EnableFeed))
	mux.Handle("POST /api/feeds/{id}/disable", throttle(handlers.Feeds.DisableFeed))
	mux.Handle("POST /api/orchestrator/stop", throttle(handlers.Orchestrator.StopOrchestrator))

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	// Apply auth middleware (skips if APIKey is empty).
	h = middleware.Auth(cfg.APIKey)(h)

	// Apply request logging middleware.
	h = middleware.Logging(logger)(h)

	// Apply CORS middleware.
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
