package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/me/daskcondor/internal/cluster"
	"github.com/me/daskcondor/internal/condor"
	"github.com/me/daskcondor/internal/dask"
	"github.com/me/daskcondor/internal/logging"
	"github.com/me/daskcondor/pkg/model"
)

type testEnv struct {
	srv *Server
	ctl *cluster.Controller
	sim *condor.SimSchedd
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.Discard()
	ctx := context.Background()

	sim, err := condor.NewSimSchedd(ctx, ":memory:", logger)
	if err != nil {
		t.Fatalf("NewSimSchedd: %v", err)
	}
	t.Cleanup(func() { sim.Close() })

	sched, err := dask.NewExternalScheduler("tcp://head:8786", "Scheduler-api")
	if err != nil {
		t.Fatalf("NewExternalScheduler: %v", err)
	}
	ctl, err := cluster.New(ctx, cluster.DefaultConfig(), sim, sched, logger)
	if err != nil {
		t.Fatalf("cluster.New: %v", err)
	}
	t.Cleanup(func() { ctl.Close() })

	return &testEnv{srv: New(ctl, logger, WithSimulator(sim)), ctl: ctl, sim: sim}
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Timestamp string          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
	Error     *model.APIError `json:"error"`
}

func (e *testEnv) do(t *testing.T, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, r)
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	env := e.do(t, "GET", "/api/v1/health", "", http.StatusOK)

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" || data.Version != Version || data.GoVersion == "" {
		t.Errorf("health = %+v", data)
	}
}

func TestScheduler(t *testing.T) {
	e := newTestEnv(t)
	env := e.do(t, "GET", "/api/v1/scheduler", "", http.StatusOK)

	var info model.SchedulerInfo
	json.Unmarshal(env.Data, &info)
	if info.ID != "Scheduler-api" || info.Address != "tcp://head:8786" {
		t.Errorf("scheduler = %+v", info)
	}
	if info.Constraint != `(DaskSchedulerId == "Scheduler-api")` {
		t.Errorf("constraint = %s", info.Constraint)
	}
}

func TestStartAndListWorkers(t *testing.T) {
	e := newTestEnv(t)
	env := e.do(t, "POST", "/api/v1/workers", `{"n": 2, "memory_per_worker": 2048, "procs_per_worker": 2, "threads_per_worker": 4}`, http.StatusCreated)

	var records []model.JobRecord
	json.Unmarshal(env.Data, &records)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0].ClusterID != records[1].ClusterID {
		t.Errorf("cluster ids differ: %d, %d", records[0].ClusterID, records[1].ClusterID)
	}
	if records[0].RequestCpus != 9 || records[0].Status != model.JobStatusIdle {
		t.Errorf("record = %+v", records[0])
	}

	env = e.do(t, "GET", "/api/v1/workers", "", http.StatusOK)
	json.Unmarshal(env.Data, &records)
	if len(records) != 2 {
		t.Errorf("list returned %d workers, want 2", len(records))
	}
}

func TestListWorkers_Empty(t *testing.T) {
	e := newTestEnv(t)
	env := e.do(t, "GET", "/api/v1/workers", "", http.StatusOK)
	if string(env.Data) != "[]" {
		t.Errorf("data = %s, want []", env.Data)
	}
}

func TestStartWorkers_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"zero workers", `{"n": 0}`},
		{"negative memory", `{"n": 1, "memory_per_worker": -5}`},
		{"unknown field", `{"n": 1, "cores": 4}`},
		{"bad json", `{"n":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			env := e.do(t, "POST", "/api/v1/workers", tt.body, http.StatusBadRequest)
			if env.Status != "error" || env.Error == nil || env.Error.Code != model.ErrCodeValidation {
				t.Errorf("envelope = %+v", env)
			}
			if len(e.ctl.Jobs()) != 0 {
				t.Error("workers registered despite invalid request")
			}
		})
	}
}

func TestStopWorkers(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "POST", "/api/v1/workers", `{"n": 3}`, http.StatusCreated)

	e.do(t, "POST", "/api/v1/workers/stop", `{"ids": ["1.0", "1.1"]}`, http.StatusOK)
	e.do(t, "DELETE", "/api/v1/workers/1.2", "", http.StatusOK)

	ads, err := e.sim.Query(context.Background(), e.ctl.OwnerConstraint(), nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	for _, ad := range ads {
		if ad.Status() != model.JobStatusRemoved {
			t.Errorf("job %v status = %v, want Removed", ad[model.AttrProcID], ad.Status())
		}
	}
}

func TestStopWorkers_BadID(t *testing.T) {
	e := newTestEnv(t)
	env := e.do(t, "DELETE", "/api/v1/workers/abc", "", http.StatusBadRequest)
	if env.Error.Code != model.ErrCodeValidation {
		t.Errorf("code = %s", env.Error.Code)
	}
}

func TestKillAll(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "POST", "/api/v1/workers", `{"n": 2}`, http.StatusCreated)
	e.do(t, "DELETE", "/api/v1/workers", "", http.StatusOK)

	ads, _ := e.sim.Query(context.Background(), e.ctl.OwnerConstraint(), nil)
	for _, ad := range ads {
		if ad.Status().IsActive() {
			t.Errorf("job %v still active after killall", ad[model.AttrProcID])
		}
	}
}

func TestClosedController(t *testing.T) {
	e := newTestEnv(t)
	e.ctl.Close()

	env := e.do(t, "POST", "/api/v1/workers", `{"n": 1}`, http.StatusConflict)
	if env.Error.Code != model.ErrCodeConflict {
		t.Errorf("code = %s", env.Error.Code)
	}
	env = e.do(t, "GET", "/api/v1/health", "", http.StatusOK)
	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "closed" {
		t.Errorf("health status = %q, want closed", data.Status)
	}
}

func TestSimSetStatus(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, "POST", "/api/v1/workers", `{"n": 1}`, http.StatusCreated)

	e.do(t, "PUT", "/api/v1/sim/jobs/1.0/status", `{"status": "Running"}`, http.StatusOK)
	e.do(t, "PUT", "/api/v1/sim/jobs/1.0/status", `{"status": "Sleeping"}`, http.StatusBadRequest)
	e.do(t, "PUT", "/api/v1/sim/jobs/9.0/status", `{"status": "Running"}`, http.StatusNotFound)

	ads, _ := e.sim.Query(context.Background(), e.ctl.OwnerConstraint(), nil)
	if len(ads) != 1 || ads[0].Status() != model.JobStatusRunning {
		t.Errorf("ads = %v, want one running job", ads)
	}

	e.do(t, "PUT", "/api/v1/sim/jobs/1.0/status", `{"status": "Completed"}`, http.StatusOK)
	env := e.do(t, "POST", "/api/v1/sim/purge", "", http.StatusOK)
	var data struct {
		Purged int `json:"purged"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Purged != 1 {
		t.Errorf("purged = %d, want 1", data.Purged)
	}
}

func TestNotFound(t *testing.T) {
	e := newTestEnv(t)
	env := e.do(t, "GET", "/api/v1/nope", "", http.StatusNotFound)
	if env.Error.Code != model.ErrCodeNotFound {
		t.Errorf("code = %s", env.Error.Code)
	}
}

func TestResponseEnvelope_RequestID(t *testing.T) {
	e := newTestEnv(t)

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	w := httptest.NewRecorder()
	e.srv.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req_caller" {
		t.Errorf("X-Request-ID = %q, want req_caller", got)
	}
	var env envelope
	json.Unmarshal(w.Body.Bytes(), &env)
	if env.RequestID != "req_caller" {
		t.Errorf("request_id = %q", env.RequestID)
	}

	env = e.do(t, "GET", "/api/v1/health", "", http.StatusOK)
	if len(env.RequestID) != len("req_")+8 {
		t.Errorf("generated request_id = %q", env.RequestID)
	}
}
