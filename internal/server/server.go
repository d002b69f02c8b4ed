// Package server is the local preview server: it serves the published
// dashboard directory and a small JSON API over the stored state, and can
// trigger a sync whose progress streams over server-sent events.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/divyekant/subdash/internal/app"
	"github.com/divyekant/subdash/internal/pipeline"
	"github.com/divyekant/subdash/internal/store"
)

// Backend is the run context the server reads from and syncs through.
// *app.Env satisfies it.
type Backend interface {
	Status() app.Status
	Document() store.LoadResult
	Sync(ctx context.Context, mode pipeline.Mode, progress app.ProgressFn) (*pipeline.Result, error)
}

// Server holds the dependencies for the preview server.
type Server struct {
	backend Backend
	webDir  string
	logger  *slog.Logger
	runs    *RunManager
	router  chi.Router
	baseCtx context.Context
}

// New creates a Server publishing webDir.
func New(backend Backend, webDir string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		backend: backend,
		webDir:  webDir,
		logger:  logger,
		runs:    NewRunManager(),
		router:  chi.NewRouter(),
		baseCtx: context.Background(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start serves on addr until ctx is cancelled, then shuts down gracefully.
// Syncs started over the API are cancelled with ctx.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", addr, "dir", s.webDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
