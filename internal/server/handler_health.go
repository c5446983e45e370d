package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/me/daskcondor/internal/reconcile"
	"github.com/me/daskcondor/pkg/model"
)

type healthResponse struct {
	Status     string          `json:"status"`
	Version    string          `json:"version"`
	GoVersion  string          `json:"go_version"`
	Uptime     string          `json:"uptime"`
	Workers    int             `json:"workers"`
	Reconciler reconcile.Stats `json:"reconciler"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if s.cluster.Closed() {
		status = "closed"
	}
	respondOK(w, RequestIDFromContext(r.Context()), healthResponse{
		Status:     status,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Uptime:     time.Since(s.startTime).Round(time.Second).String(),
		Workers:    len(s.cluster.Jobs()),
		Reconciler: s.cluster.ReconcileStats(),
	})
}

func (s *Server) handleScheduler(w http.ResponseWriter, r *http.Request) {
	respondOK(w, RequestIDFromContext(r.Context()), model.SchedulerInfo{
		ID:         s.cluster.SchedulerID(),
		Address:    s.cluster.SchedulerAddress(),
		Constraint: s.cluster.OwnerConstraint(),
	})
}
