package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/notegen"
	"github.com/snarg/scribe-engine/internal/session"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// BackendFactory builds engines and generators by name for comparison runs.
type BackendFactory interface {
	Engine(name string) (transcribe.Engine, error)
	Generator(name string) (notegen.Generator, error)
}

// Deps are the wired components the HTTP surface exposes.
type Deps struct {
	Controller *session.Controller
	Runner     *session.Runner
	Factory    BackendFactory
	Templates  *notegen.Registry
	Version    string
	StartTime  time.Time
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated surface
	health := NewHealthHandler(deps.Controller, deps.Version, deps.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		sessions := NewSessionHandler(deps.Controller, log)
		r.Route("/api/v1/sessions", sessions.Routes)

		compare := NewCompareHandler(deps.Runner, deps.Factory, deps.Templates, log)
		r.Post("/api/v1/compare", compare.Compare)

		templates := NewTemplateHandler(deps.Templates)
		r.Get("/api/v1/templates", templates.List)
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

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
