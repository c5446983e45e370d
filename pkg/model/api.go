package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status    string    `json:"status"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	Error     *APIError `json:"error"`
}

// StartWorkersRequest is the body of POST /api/v1/workers.
// Zero-valued sizing fields fall back to the controller defaults.
type StartWorkersRequest struct {
	N                int               `json:"n"`
	MemoryPerWorker  int               `json:"memory_per_worker,omitempty"`
	ProcsPerWorker   int               `json:"procs_per_worker,omitempty"`
	ThreadsPerWorker int               `json:"threads_per_worker,omitempty"`
	WorkerTimeout    int               `json:"worker_timeout,omitempty"`
	ExtraAttribs     map[string]string `json:"extra_attribs,omitempty"`
}

// StopWorkersRequest is the body of POST /api/v1/workers/stop.
type StopWorkersRequest struct {
	IDs []string `json:"ids"`
}

// SchedulerInfo describes the Dask scheduler a controller serves.
type SchedulerInfo struct {
	ID         string `json:"id"`
	Address    string `json:"address"`
	Constraint string `json:"constraint"`
}
