// Package server exposes the engine over HTTP. It is a thin layer: all
// orchestration lives in the sessions manager; the server only decodes
// requests, invokes the manager, and maps the error taxonomy onto status
// codes.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/deepnoodle-ai/wireflow/sessions"
	"github.com/deepnoodle-ai/wireflow/slogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const (
	defaultReadTimeout  = 15 * time.Second
	defaultWriteTimeout = 60 * time.Second
	defaultIdleTimeout  = 120 * time.Second
	requestTimeout      = 90 * time.Second
)

// Server wraps an http.Server with the engine's routes.
type Server struct {
	manager     *sessions.Manager
	logger      slogger.Logger
	corsOrigins []string
	httpServer  *http.Server
	router      chi.Router
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(logger slogger.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithCORSOrigins enables CORS for the given origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// New creates a Server listening on addr.
func New(addr string, manager *sessions.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		logger:  slogger.DefaultLogger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	if len(s.corsOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.corsOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Route("/design-sessions", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleListUserSessions)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Delete("/", s.handleClose)
			r.Post("/edit", s.handleEdit)
			r.Get("/history", s.handleHistory)
			r.Get("/metrics", s.handleMetrics)
			r.Get("/versions/{version}", s.handleGetVersion)
		})
	})
	s.router = r
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled, then drains it.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}
