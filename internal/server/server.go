// Package server exposes the analytics queries as a small JSON API for the
// dashboard.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"tracketl/internal/analytics"
	"tracketl/internal/config"
)

type Server struct {
	cfg    *config.Config
	logger serverLogger
	db     *sql.DB
	store  *analytics.Store
}

type serverLogger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// New wires the API over an open database handle. The handle stays owned by
// the caller.
func New(cfg *config.Config, logger serverLogger, db *sql.DB) (*Server, error) {
	store, err := analytics.NewStore(db, cfg.Database.Table)
	if err != nil {
		return nil, err
	}
	return &Server{cfg: cfg, logger: logger, db: db, store: store}, nil
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "addr", s.cfg.Server.Listen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		s.logger.Info("http server shutting down")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-serverErr:
		return err
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))
	r.Use(RequestLogger(s.logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", s.handleHealth)
		api.Get("/stats", s.handleStats)
		api.Get("/genres/top", s.handleTopGenres)
		api.Get("/genres/popularity", s.handleGenrePopularity)
		api.Get("/artists/top", s.handleTopArtists)
		api.Get("/popularity/histogram", s.handleHistogram)
		api.Get("/tracks", s.handleTracks)
		api.Get("/audio/points", s.handleAudioPoints)
	})

	return r
}
