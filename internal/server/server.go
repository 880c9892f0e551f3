// Package server exposes the engine's status and control surface over
// HTTP. It is read-mostly: everything except the engine config update is
// a GET.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crossvenue/arbot/internal/config"
	"github.com/crossvenue/arbot/internal/server/handler"
	"github.com/crossvenue/arbot/internal/server/middleware"
)

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Status *handler.StatusHandler
	Trades *handler.TradesHandler
	Config *handler.ConfigHandler
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers all routes and builds the middleware chain:
// rate limiting, then auth, then request logging, then CORS.
func NewServer(cfg config.ServerConfig, handlers Handlers, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Status.HealthCheck)

	mux.HandleFunc("GET /api/status", handlers.Status.GetStatus)
	mux.HandleFunc("GET /api/positions", handlers.Status.ListPositions)
	mux.HandleFunc("GET /api/venues", handlers.Status.GetVenueStats)

	mux.HandleFunc("GET /api/trades/recent", handlers.Trades.ListRecent)
	mux.HandleFunc("GET /api/trades/profit", handlers.Trades.SumProfit)

	mux.HandleFunc("GET /api/config/engine", handlers.Config.GetConfig)
	mux.HandleFunc("PUT /api/config/engine", handlers.Config.UpdateConfig)

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	h = middleware.RateLimit(60, time.Minute)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger.With(slog.String("component", "server")),
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
