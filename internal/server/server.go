// Package server exposes the bot's state over a small read-mostly HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alanyoungcy/revbot/internal/metrics"
	"github.com/alanyoungcy/revbot/internal/server/handler"
	"github.com/alanyoungcy/revbot/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // if empty, authentication is disabled
}

// Handlers aggregates the endpoint handlers. Events is nil when Redis is
// disabled.
type Handlers struct {
	Health    *handler.HealthHandler
	Positions *handler.PositionHandler
	Orders    *handler.OrderHandler
	Trades    *handler.TradeHandler
	Events    *handler.EventHandler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route. /api/health and /metrics are open; the
// rest of /api requires the API key when one is configured.
func NewServer(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(middleware.Logging(logger))

	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/api/health", handlers.Health.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.APIKey))
		r.Use(chimw.Timeout(30 * time.Second))

		r.Get("/positions", handlers.Positions.ListPositions)
		r.Get("/orders", handlers.Orders.ListOrders)
		r.Delete("/orders/{id}", handlers.Orders.CancelOrder)
		r.Get("/trades", handlers.Trades.ListTrades)
		if handlers.Events != nil {
			r.Get("/events", handlers.Events.ListEvents)
		}
	})

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens until the server is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
