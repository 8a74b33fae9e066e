// Package server hosts the escrow HTTP + WebSocket API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/bondescrow/internal/domain"
	"github.com/alanyoungcy/bondescrow/internal/server/handler"
	"github.com/alanyoungcy/bondescrow/internal/server/middleware"
	"github.com/alanyoungcy/bondescrow/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, operator endpoints are disabled
	MaxSkew     time.Duration
	RateLimit   int
	RateWindow  time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Tx        *handler.TxHandler
	Bonds     *handler.BondHandler
	Proposals *handler.ProposalHandler
	Accounts  *handler.AccountHandler
	Archive   *handler.ArchiveHandler // optional
}

// Deps are the infrastructure services the middleware chain uses. Any may
// be nil.
type Deps struct {
	Locks    domain.LockManager
	Limiter  domain.RateLimiter
	Registry prometheus.Gatherer
	Hub      *ws.Hub
}

// Server is the headless HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
func NewServer(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewHandler(cfg, handlers, deps, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed, middleware-wrapped handler.
func NewHandler(cfg Config, handlers Handlers, deps Deps, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health and status (no signature required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	// Signed transactions.
	identity := middleware.Identity(middleware.IdentityConfig{
		MaxSkew: cfg.MaxSkew,
		Locks:   deps.Locks,
	}, logger)
	mux.Handle("POST /api/tx", identity(http.HandlerFunc(handlers.Tx.Submit)))

	// Queries.
	mux.HandleFunc("GET /api/bonds/{id}", handlers.Bonds.GetBond)
	mux.HandleFunc("GET /api/posted-bonds/{id}", handlers.Bonds.GetPostedBond)
	mux.HandleFunc("GET /api/posted-bonds/{id}/proposals", handlers.Proposals.ListForPostedBond)
	mux.HandleFunc("GET /api/users/{address}/bonds", handlers.Bonds.ListUserBonds)
	mux.HandleFunc("GET /api/users/{address}/posted-bonds", handlers.Bonds.ListPostedByUser)
	mux.HandleFunc("GET /api/stakes/{id}", handlers.Bonds.GetStake)
	mux.HandleFunc("GET /api/proposals/{id}", handlers.Proposals.GetProposal)
	mux.HandleFunc("GET /api/proposals/{id}/ballots/{voter}", handlers.Proposals.GetBallot)
	mux.HandleFunc("GET /api/balances/{address}", handlers.Accounts.GetBalance)
	mux.HandleFunc("GET /api/params", handlers.Accounts.GetParams)

	// Operator endpoints.
	if handlers.Archive != nil {
		mux.Handle("POST /api/archive/trigger", middleware.Auth(cfg.APIKey)(http.HandlerFunc(handlers.Archive.Trigger)))
	}

	if deps.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
	}

	// WebSocket endpoint.
	if deps.Hub != nil {
		mux.HandleFunc("GET /ws", deps.Hub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux

	if deps.Limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateWindow, logger)(h)
	}

	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
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
