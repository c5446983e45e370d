package registry

import (
	"reflect"
	"sync"
	"testing"

	"github.com/me/daskcondor/pkg/model"
)

func rec(cluster, proc int) model.JobRecord {
	return model.JobRecord{
		ID:        model.NewJobID(cluster, proc),
		ClusterID: cluster,
		ProcID:    proc,
		Status:    model.JobStatusIdle,
	}
}

func TestRegistry_AddGetRemove(t *testing.T) {
	r := New()
	r.Add(rec(5, 0), rec(5, 1), rec(10, 0))

	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if _, ok := r.Get("5.1"); !ok {
		t.Error("5.1 should be tracked")
	}
	if n := r.Remove("5.1", "99.0"); n != 1 {
		t.Errorf("Remove returned %d, want 1", n)
	}
	if _, ok := r.Get("5.1"); ok {
		t.Error("5.1 should be gone")
	}
}

func TestRegistry_IDsSortedNumerically(t *testing.T) {
	r := New()
	r.Add(rec(10, 0), rec(9, 2), rec(9, 10), rec(9, 1))

	want := []model.JobID{"9.1", "9.2", "9.10", "10.0"}
	if got := r.IDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("IDs = %v, want %v", got, want)
	}
	recs := r.Records()
	for i, id := range want {
		if recs[i].ID != id {
			t.Errorf("Records[%d] = %s, want %s", i, recs[i].ID, id)
		}
	}
}

func TestRegistry_Retain(t *testing.T) {
	r := New()
	r.Add(rec(5, 0), rec(5, 1), rec(5, 2))

	dropped := r.Retain(map[model.JobID]model.JobStatus{
		"5.0": model.JobStatusRunning,
		"5.2": model.JobStatusHeld,
		"7.0": model.JobStatusIdle, // not ours to add
	}, r.Epoch())

	if want := []model.JobID{"5.1"}; !reflect.DeepEqual(dropped, want) {
		t.Errorf("dropped = %v, want %v", dropped, want)
	}
	if want := []model.JobID{"5.0", "5.2"}; !reflect.DeepEqual(r.IDs(), want) {
		t.Errorf("IDs = %v, want %v", r.IDs(), want)
	}
	if got, _ := r.Get("5.0"); got.Status != model.JobStatusRunning {
		t.Errorf("5.0 status = %v, want Running", got.Status)
	}
	if _, ok := r.Get("7.0"); ok {
		t.Error("Retain must never add untracked ids")
	}
}

func TestRegistry_RetainEmptyDropsAll(t *testing.T) {
	r := New()
	r.Add(rec(1, 0), rec(1, 1))
	if dropped := r.Retain(nil, r.Epoch()); len(dropped) != 2 {
		t.Errorf("dropped = %v, want 2 ids", dropped)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_RetainKeepsJobsAddedAfterSnapshot(t *testing.T) {
	r := New()
	r.Add(rec(1, 0))
	since := r.Epoch()

	// Submitted while the queue snapshot was being taken.
	r.Add(rec(2, 0), rec(2, 1))

	dropped := r.Retain(map[model.JobID]model.JobStatus{}, since)
	if want := []model.JobID{"1.0"}; !reflect.DeepEqual(dropped, want) {
		t.Errorf("dropped = %v, want %v", dropped, want)
	}
	if want := []model.JobID{"2.0", "2.1"}; !reflect.DeepEqual(r.IDs(), want) {
		t.Errorf("IDs = %v, want %v", r.IDs(), want)
	}

	// The next snapshot covers them.
	dropped = r.Retain(map[model.JobID]model.JobStatus{"2.0": model.JobStatusRunning}, r.Epoch())
	if want := []model.JobID{"2.1"}; !reflect.DeepEqual(dropped, want) {
		t.Errorf("dropped = %v, want %v", dropped, want)
	}
}

func TestRegistry_Epoch(t *testing.T) {
	r := New()
	if r.Epoch() != 0 {
		t.Fatalf("Epoch() = %d, want 0", r.Epoch())
	}
	r.Add(rec(1, 0), rec(1, 1))
	r.Add(rec(2, 0))
	if r.Epoch() != 2 {
		t.Errorf("Epoch() = %d, want 2", r.Epoch())
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for c := 0; c < 8; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for p := 0; p < 50; p++ {
				r.Add(rec(c, p))
				_ = r.IDs()
			}
			r.Retain(map[model.JobID]model.JobStatus{}, r.Epoch())
		}(c)
	}
	wg.Wait()
	if r.Len() > 8*50 {
		t.Errorf("Len = %d exceeds jobs added", r.Len())
	}
}
