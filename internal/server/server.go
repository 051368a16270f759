// Package server exposes the agent's read-only status API over HTTP and a
// websocket event stream.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/dexarb/internal/server/handler"
	"github.com/alanyoungcy/dexarb/internal/server/middleware"
	"github.com/alanyoungcy/dexarb/internal/server/ws"
)

// Config holds listener settings.
type Config struct {
	Port   int
	APIKey string // empty disables auth
}

// Handlers groups the route handlers.
type Handlers struct {
	Health     *handler.HealthHandler
	Ledger     *handler.LedgerHandler
	Quotes     *handler.QuoteHandler
	Executions *handler.ExecutionHandler
}

// Server is the status API.
type Server struct {
	http    *http.Server
	handler http.Handler
	logger  *slog.Logger
}

// New registers routes and middleware. hub may be nil.
func New(cfg Config, h Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/totals", h.Ledger.Totals)
	mux.HandleFunc("GET /api/quotes", h.Quotes.ListQuotes)
	mux.HandleFunc("GET /api/executions", h.Executions.ListExecutions)
	mux.HandleFunc("GET /api/executions/{id}", h.Executions.GetExecution)
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	logger = logger.With(slog.String("component", "server"))
	var root http.Handler = mux
	root = middleware.Auth(cfg.APIKey, "/api/health")(root)
	root = middleware.Logging(logger)(root)

	return &Server{
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: root,
		logger:  logger,
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.http.Addr, err)
	}
	s.logger.InfoContext(ctx, "listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.http.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("stopped")
	return nil
}
