package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/deployhook/internal/pipeline"
)

// Deployer runs a delivery through the deployment pipeline.
type Deployer interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Outcome
}

// Config holds HTTP server configuration.
type Config struct {
	Listen string
	// Path is the webhook route, e.g. "/".
	Path         string
	MaxBodyBytes int64
	// Debug exposes diagnostics in response bodies.
	Debug        bool
	Repositories int
}

// Server receives webhook deliveries over HTTP.
type Server struct {
	config    Config
	deployer  Deployer
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	inflight  sync.WaitGroup
}

// New creates a new Server.
func New(config Config, deployer Deployer, logger *slog.Logger) *Server {
	if config.Path == "" {
		config.Path = "/"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		deployer:  deployer,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully. It
// returns only once every deployment it started has finished, even when
// those outlast the shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		// No WriteTimeout: the response waits for build and deploy.
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen, "path", s.config.Path)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		shutdownErr := s.server.Shutdown(shutdownCtx)
		if shutdownErr != nil {
			s.logger.Warn("waiting for in-flight deployments past shutdown timeout", "error", shutdownErr)
		}
		s.inflight.Wait()
		if shutdownErr != nil {
			return fmt.Errorf("server shutdown failed: %w", shutdownErr)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	// All methods reach the delivery handler so a wrong method is a 400
	// diagnostic rather than a router 405.
	r.HandleFunc(s.config.Path, s.handleDelivery)

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}
