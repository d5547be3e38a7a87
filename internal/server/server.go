// Package server assembles the settlement HTTP API: route registration,
// the middleware chain, and server lifecycle.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/matchbook/internal/domain"
	"github.com/alanyoungcy/matchbook/internal/server/handler"
	"github.com/alanyoungcy/matchbook/internal/server/middleware"
	"github.com/alanyoungcy/matchbook/internal/server/ws"
)

// defaultIdentitySkew bounds how stale an identity proof may be.
const defaultIdentitySkew = 5 * time.Minute

// Config holds the HTTP server configuration.
type Config struct {
	Port         int
	CORSOrigins  []string
	OpsToken     string        // gates the archive endpoints; empty disables the check
	IdentitySkew time.Duration // 0 means defaultIdentitySkew
	RateLimit    int           // requests per client per window; 0 disables
	RateWindow   time.Duration // 0 means one second
}

// Handlers aggregates the HTTP handlers the server registers. Archive may
// be nil when no archive loop runs in this instance; Events may be nil when
// no stream backend is wired.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Escrows *handler.EscrowHandler
	Markets *handler.MarketHandler
	Archive *handler.ArchiveHandler
	Events  *handler.EventsHandler
}

// Server is the settlement API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain:
// CORS, then caller identity, then rate limiting, then request logging.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)

	mux.HandleFunc("POST /api/escrows", handlers.Escrows.Create)
	mux.HandleFunc("GET /api/escrows/{id}", handlers.Escrows.Get)
	mux.HandleFunc("POST /api/escrows/{id}/deposit", handlers.Escrows.Deposit)
	mux.HandleFunc("POST /api/escrows/{id}/resolve", handlers.Escrows.Resolve)

	mux.HandleFunc("POST /api/markets", handlers.Markets.Create)
	mux.HandleFunc("GET /api/markets/{id}", handlers.Markets.Stats)
	mux.HandleFunc("POST /api/markets/{id}/bets", handlers.Markets.Bet)
	mux.HandleFunc("POST /api/markets/{id}/resolve", handlers.Markets.Resolve)
	mux.HandleFunc("POST /api/markets/{id}/claims", handlers.Markets.Claim)
	mux.HandleFunc("GET /api/markets/{id}/odds", handlers.Markets.Odds)
	mux.HandleFunc("GET /api/markets/{id}/shares/{party}", handlers.Markets.Shares)

	if handlers.Events != nil {
		mux.HandleFunc("GET /api/events", handlers.Events.List)
	}

	if handlers.Archive != nil {
		opsOnly := middleware.RequireKey(cfg.OpsToken)
		mux.Handle("POST /api/archive/trigger", opsOnly(http.HandlerFunc(handlers.Archive.Trigger)))
		mux.Handle("GET /api/archive", opsOnly(http.HandlerFunc(handlers.Archive.List)))
		mux.Handle("GET /api/archive/{kind}/{month}", opsOnly(http.HandlerFunc(handlers.Archive.Download)))
	}

	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	skew := cfg.IdentitySkew
	if skew <= 0 {
		skew = defaultIdentitySkew
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window)(h)
	}
	h = middleware.Identity(skew)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{httpServer: srv, logger: logger}
}

// Handler exposes the assembled handler chain, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens and blocks until the server fails or shuts down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
