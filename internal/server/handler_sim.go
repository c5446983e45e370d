package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/me/daskcondor/pkg/model"
)

// handleSimSetStatus moves a simulated job to a new state.
// PUT /api/v1/sim/jobs/{id}/status
func (s *Server) handleSimSetStatus(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	cl, proc, err := model.ParseJobID(chi.URLParam(r, "id"))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	var req struct {
		Status model.JobStatus `json:"status"`
	}
	if apiErr := decodeBody(r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if req.Status == model.JobStatusUnknown {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("unknown job status",
			model.FieldError{Field: "status", Message: "must be a job status name such as Running or Completed"}))
		return
	}

	id := model.NewJobID(cl, proc)
	if err := s.sim.SetStatus(r.Context(), id, req.Status); err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"id": id, "status": req.Status})
}

// handleSimPurge drops jobs that have left the queue.
// POST /api/v1/sim/purge
func (s *Server) handleSimPurge(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	n, err := s.sim.Purge(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, map[string]any{"purged": n})
}
