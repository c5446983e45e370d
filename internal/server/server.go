// Package server exposes a cluster controller over a JSON HTTP API.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/me/daskcondor/internal/cluster"
	"github.com/me/daskcondor/internal/reconcile"
	"github.com/me/daskcondor/pkg/model"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Cluster is the part of *cluster.Controller the API drives.
type Cluster interface {
	StartWorkers(ctx context.Context, n int, opts cluster.WorkerOptions) ([]model.JobRecord, error)
	StopWorkers(ctx context.Context, ids ...string) error
	KillAll(ctx context.Context) error
	Jobs() []model.JobRecord
	SchedulerID() string
	SchedulerAddress() string
	OwnerConstraint() string
	ReconcileStats() reconcile.Stats
	Closed() bool
}

// Simulator drives job states in a simulated schedd.
type Simulator interface {
	SetStatus(ctx context.Context, id model.JobID, status model.JobStatus) error
	Purge(ctx context.Context) (int, error)
}

// Server is the dask-condor control API.
type Server struct {
	router    chi.Router
	logger    *slog.Logger
	cluster   Cluster
	sim       Simulator
	startTime time.Time
}

// Option configures optional Server dependencies.
type Option func(*Server)

// WithSimulator mounts the /sim routes that move simulated jobs between states.
func WithSimulator(sim Simulator) Option {
	return func(s *Server) {
		s.sim = sim
	}
}

// New creates a Server with all routes registered.
func New(c Cluster, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.With("component", "server"),
		cluster:   c,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/scheduler", s.handleScheduler)

		r.Route("/workers", func(r chi.Router) {
			r.Get("/", s.handleListWorkers)
			r.Post("/", s.handleStartWorkers)
			r.Delete("/", s.handleKillAll)
			r.Post("/stop", s.handleStopWorkers)
			r.Delete("/{id}", s.handleStopWorker)
		})

		if s.sim != nil {
			r.Route("/sim", func(r chi.Router) {
				r.Put("/jobs/{id}/status", s.handleSimSetStatus)
				r.Post("/purge", s.handleSimPurge)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, RequestIDFromContext(r.Context()), http.StatusNotFound,
			model.NewNotFoundError("route", r.URL.Path))
	})
}
