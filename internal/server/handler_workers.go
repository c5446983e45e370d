package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/daskcondor/internal/cluster"
	"github.com/me/daskcondor/pkg/model"
)

// handleListWorkers returns the tracked worker jobs.
// GET /api/v1/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	jobs := s.cluster.Jobs()
	if jobs == nil {
		jobs = []model.JobRecord{}
	}
	respondOK(w, RequestIDFromContext(r.Context()), jobs)
}

// handleStartWorkers submits a cluster of workers.
// POST /api/v1/workers
func (s *Server) handleStartWorkers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.StartWorkersRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	records, err := s.cluster.StartWorkers(r.Context(), req.N, cluster.WorkerOptions{
		MemoryMB:    req.MemoryPerWorker,
		Procs:       req.ProcsPerWorker,
		Threads:     req.ThreadsPerWorker,
		IdleTimeout: time.Duration(req.WorkerTimeout) * time.Second,
		Extra:       req.ExtraAttribs,
	})
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondCreated(w, reqID, records)
}

// handleStopWorkers removes the listed jobs.
// POST /api/v1/workers/stop
func (s *Server) handleStopWorkers(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.StopWorkersRequest
	if apiErr := decodeBody(r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if err := s.cluster.StopWorkers(r.Context(), req.IDs...); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"requested": req.IDs})
}

// handleStopWorker removes a single job.
// DELETE /api/v1/workers/{id}
func (s *Server) handleStopWorker(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	if err := s.cluster.StopWorkers(r.Context(), id); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"requested": []string{id}})
}

// handleKillAll removes every job the controller owns.
// DELETE /api/v1/workers
func (s *Server) handleKillAll(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if err := s.cluster.KillAll(r.Context()); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"constraint": s.cluster.OwnerConstraint()})
}
