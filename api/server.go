// Package api exposes the platform over HTTP.
//
// Endpoints:
//
//	POST /api/chat                 conversation with tool use
//	POST /api/tools/invoke         direct tool invocation
//	GET  /api/tools                tool discovery
//	POST /api/documents            upload and ingest a document
//	POST /api/documents/{id}/ingest  re-ingest or resume a document
//	GET  /api/documents/{id}       document metadata
//	POST /api/search               knowledge retrieval
//	GET  /health                   liveness probe
//	GET  /ready                    readiness probe
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ellttdave/athlete-performance-platform-showcase/internal/log"
)

const (
	// DefaultAddr is the default listen address.
	DefaultAddr = "127.0.0.1:3500"

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout guards against slow-header clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout bounds reading a full request. Document uploads fit
	// comfortably; the split thresholds keep bodies small.
	ReadTimeout = 60 * time.Second

	// WriteTimeout bounds response writes. Chat responses wait on model
	// round-trips.
	WriteTimeout = 120 * time.Second

	// IdleTimeout bounds keep-alive connections.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server with all routes registered.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer wires the handlers onto a mux.
func NewServer(conv Converser, router ToolRouter, lister ToolLister, ingestor Ingestor, docs DocumentStore, retriever Retriever, pool *pgxpool.Pool, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	mux := http.NewServeMux()

	NewHealthHandler(pool, logger).RegisterRoutes(mux)
	NewChatHandler(conv, logger).RegisterRoutes(mux)
	NewToolsHandler(router, lister, logger).RegisterRoutes(mux)
	NewDocumentsHandler(ingestor, docs, logger).RegisterRoutes(mux)
	NewSearchHandler(retriever, logger).RegisterRoutes(mux)

	return &Server{mux: mux, logger: logger.With("component", "api")}
}

// Handler returns the mux with middleware applied, recovery outermost.
func (s *Server) Handler() http.Handler {
	return chain(s.mux, recoveryMiddleware, loggingMiddleware)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
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
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
