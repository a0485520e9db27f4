// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server exposes the taint store to the substitution engine over HTTP.
type Server struct {
	router http.Handler
	logger *zap.Logger
}

// Options configures a Server.
type Options struct {
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
	// AuthSecret, when non-empty, protects /v1 routes with HS256 bearer tokens.
	AuthSecret string
}

// NewServer builds the router.
func NewServer(store TaintReader, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("api")
	handlers := NewHandlers(log, store)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))

	r.Get("/healthz", handlers.HandleHealthCheck)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		if opts.AuthSecret != "" {
			r.Use(requireToken([]byte(opts.AuthSecret), log))
		}
		handlers.RegisterRoutes(r)
	})

	return &Server{router: r, logger: log}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http_server")),
	}

	shutdownErr := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdownErr <- server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Lookup API starting", zap.String("address", ln.Addr().String()))
	err := server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		err = <-shutdownErr
	}
	if err != nil {
		return fmt.Errorf("api server failed: %w", err)
	}
	s.logger.Info("Lookup API stopped.")
	return nil
}
