// Package api exposes the operational HTTP surface: health, runtime
// status, and Prometheus metrics.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/podscribe/internal/config"
	"github.com/snarg/podscribe/internal/ingest"
	"github.com/snarg/podscribe/internal/metrics"
	"github.com/snarg/podscribe/internal/state"
	"github.com/snarg/podscribe/internal/transcribe"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, engine transcribe.Engine, pipeline *ingest.Pipeline, sched *ingest.Scheduler, store *state.Store, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(engine, sched, version, startTime)
	r.Get("/api/v1/health", health.ServeHTTP)

	status := NewStatusHandler(cfg, engine, pipeline, sched, store, startTime)
	r.Get("/api/v1/status", status.ServeHTTP)

	r.Handle("/metrics", promhttp.Handler())

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
