// Package server exposes the bounty pool ledger over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/bountypool/internal/crypto"
	"github.com/alanyoungcy/bountypool/internal/domain"
	"github.com/alanyoungcy/bountypool/internal/metrics"
	"github.com/alanyoungcy/bountypool/internal/server/handler"
	"github.com/alanyoungcy/bountypool/internal/server/middleware"
	"github.com/alanyoungcy/bountypool/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	// APIKeys authorise requests; empty disables authentication.
	APIKeys []string
	// Webhook verifies signatures on the comment webhook.
	Webhook *crypto.WebhookSecret
	// RateLimit is requests per second per client; 0 disables limiting.
	RateLimit int
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health        *handler.HealthHandler
	Pools         *handler.PoolHandler
	Issues        *handler.IssueHandler
	Distributions *handler.DistributionHandler
	Commands      *handler.CommandHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limit, auth) and attaches the
// WebSocket hub when one is given.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "http"))
	mux := http.NewServeMux()

	// Unauthenticated.
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /metrics", metrics.Handler())

	// Pools.
	mux.HandleFunc("GET /api/pools/{repo}", handlers.Pools.GetPool)
	mux.HandleFunc("POST /api/pools/{repo}/managers", handlers.Pools.RegisterManager)
	mux.HandleFunc("DELETE /api/pools/{repo}/managers/{address}", handlers.Pools.RemoveManager)
	mux.HandleFunc("POST /api/pools/{repo}/fund", handlers.Pools.Fund)
	mux.HandleFunc("GET /api/pools/{repo}/funding", handlers.Pools.ListFunding)

	// Issues.
	mux.HandleFunc("GET /api/pools/{repo}/issues", handlers.Issues.ListRewards)
	mux.HandleFunc("GET /api/pools/{repo}/issues/{issue}", handlers.Issues.GetReward)
	mux.HandleFunc("POST /api/pools/{repo}/issues/{issue}/allocate", handlers.Issues.Allocate)
	mux.HandleFunc("POST /api/pools/{repo}/issues/{issue}/claim", handlers.Issues.Claim)
	mux.HandleFunc("POST /api/pools/{repo}/issues/{issue}/approve", handlers.Issues.Approve)
	mux.HandleFunc("POST /api/pools/{repo}/issues/{issue}/revoke", handlers.Issues.Revoke)

	// Distributions.
	mux.HandleFunc("POST /api/pools/{repo}/issues/{issue}/distribute", handlers.Distributions.Distribute)
	mux.HandleFunc("GET /api/distributions/{id}", handlers.Distributions.GetJob)

	// Comment webhook.
	mux.Handle("POST /api/commands",
		middleware.WebhookSignature(cfg.Webhook)(http.HandlerFunc(handlers.Commands.HandleComment)))

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	// Build the middleware chain, innermost first.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKeys, "/api/health", "/metrics")(h)
	h = middleware.RateLimit(limiter, cfg.RateLimit, time.Second, logger)(h)
	h = middleware.Logging(logger)(h)
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
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
