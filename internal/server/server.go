// Package server wires the reference cart API: routes, middleware and the
// HTTP server lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/cartsync/internal/auth"
	"github.com/vyrodovalexey/cartsync/internal/config"
	"github.com/vyrodovalexey/cartsync/internal/handler"
	"github.com/vyrodovalexey/cartsync/internal/middleware"
	"github.com/vyrodovalexey/cartsync/internal/store"
)

// Server represents the HTTP server.
type Server struct {
	httpServer  *http.Server
	router      *mux.Router
	handler     http.Handler
	config      *config.Config
	logger      *zap.Logger
	wsHandler   *handler.WebSocketHandler
	rateLimiter *middleware.RateLimiter
	stopLimiter context.CancelFunc
}

// New creates a new Server instance serving s with bearer tokens from
// tokens and accounts from users.
func New(
	cfg *config.Config,
	logger *zap.Logger,
	s store.Store,
	tokens *auth.TokenService,
	users *auth.UserDirectory,
) *Server {
	srv := &Server{
		router: mux.NewRouter(),
		config: cfg,
		logger: logger,
	}

	srv.setupRoutes(s, tokens, users)
	srv.setupMiddleware(tokens)
	srv.setupHTTPServer()

	return srv
}

// setupMiddleware builds the chain around the router. Metrics run inside
// the router so they can label requests by route template.
func (s *Server) setupMiddleware(tokens *auth.TokenService) {
	if s.config.MetricsEnabled {
		s.router.Use(mux.MiddlewareFunc(middleware.Metrics()))
	}

	var limiterCtx context.Context
	limiterCtx, s.stopLimiter = context.WithCancel(context.Background())
	s.rateLimiter = middleware.NewRateLimiter(limiterCtx, s.config.RateLimitRPS, s.config.RateLimitBurst, s.logger)

	// First listed = outermost.
	chain := middleware.Chain(
		middleware.Recovery(s.logger),
		middleware.RequestID(),
		s.rateLimiter.Middleware(),
		middleware.Logging(s.logger),
		middleware.CORS(middleware.DefaultCORSConfig()),
		middleware.Auth(tokens, s.logger),
	)
	s.handler = chain(s.router)
}

// setupRoutes configures the API routes.
func (s *Server) setupRoutes(st store.Store, tokens *auth.TokenService, users *auth.UserDirectory) {
	s.wsHandler = handler.NewWebSocketHandler(s.logger)

	restHandler := handler.NewRESTHandler(st, tokens, users, s.wsHandler, s.logger)
	restHandler.RegisterRoutes(s.router)

	api := s.router.PathPrefix("/api").Subrouter()
	s.wsHandler.RegisterRoutes(api)

	if s.config.MetricsEnabled {
		s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}
}

// setupHTTPServer configures the HTTP server.
func (s *Server) setupHTTPServer() {
	s.httpServer = &http.Server{
		Addr:              s.config.Address(),
		Handler:           s.handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.Address())
	if err != nil {
		return fmt.Errorf("server listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server",
		zap.String("address", ln.Addr().String()),
		zap.Bool("metrics_enabled", s.config.MetricsEnabled),
		zap.Float64("rate_limit_rps", s.config.RateLimitRPS),
	)

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")

	// Event streams are hijacked connections that http.Server.Shutdown
	// does not track.
	if s.wsHandler != nil {
		s.wsHandler.CloseAllConnections()
	}
	if s.stopLimiter != nil {
		s.stopLimiter()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server shutdown complete")
	return nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the server's router for testing purposes.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Events returns the event hub fed by cart mutations and checkout.
func (s *Server) Events() *handler.WebSocketHandler {
	return s.wsHandler
}
