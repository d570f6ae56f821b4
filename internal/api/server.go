// Package api provides the HTTP REST surface for atlas.
//
// Endpoints:
//
//	GET  /health                                 liveness probe
//	GET  /ready                                  readiness probe (pings the database)
//	POST /api/archivist/sessions                 start or resume a cataloguing session
//	GET  /api/archivist/sessions/{id}            session state
//	GET  /api/archivist/sessions/{id}/fields     accumulated fields + validation
//	POST /api/archivist/sessions/{id}/chat       one conversational turn
//	POST /api/archivist/sessions/{id}/commit     close and archive
//	POST /api/archivist/sessions/{id}/abandon    close and discard
//
// File structure:
//   - server.go: HTTP server setup and lifecycle
//   - middleware.go: HTTP middleware (logging, recovery)
//   - health.go: health check endpoints
//   - archivist.go: archivist session endpoints
//   - response.go: JSON response helpers
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasworld/atlas/internal/archivist"
	"github.com/atlasworld/atlas/internal/log"
	"github.com/atlasworld/atlas/internal/world"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3400"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout is the timeout for reading request headers.
	// This prevents Slowloris attacks (CWE-400).
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	// Chat turns can spend most of this inside the model tool loop.
	WriteTimeout = 120 * time.Second

	// IdleTimeout is the maximum time to wait for the next request on keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the atlas REST API.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger

	health    *HealthHandler
	archivist *ArchivistHandler
}

// NewServer creates a new HTTP server with all routes registered.
// pool is used for readiness checks only; worldStore may be nil.
func NewServer(a *archivist.Archivist, worldStore *world.Store, pool *pgxpool.Pool, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	s := &Server{
		mux:       mux,
		logger:    logger,
		health:    NewHealthHandler(pool, logger),
		archivist: NewArchivistHandler(a, worldStore, logger),
	}

	s.health.RegisterRoutes(mux)
	s.archivist.RegisterRoutes(mux)

	return s
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery → logging → handler
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware(s.logger), loggingMiddleware(s.logger))
}

// Run starts the HTTP server and blocks until the context is cancelled.
// It handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
