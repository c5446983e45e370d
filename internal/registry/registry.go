// Package registry tracks the jobs a controller has submitted.
package registry

import (
	"sort"
	"sync"

	"github.com/me/daskcondor/pkg/model"
)

// Registry maps composite job ids to their last-known records. It is a
// cache of the schedd queue, not a source of truth.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[model.JobID]model.JobRecord
	added map[model.JobID]uint64 // epoch of the Add that tracked each id
	epoch uint64
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		jobs:  make(map[model.JobID]model.JobRecord),
		added: make(map[model.JobID]uint64),
	}
}

// Add records jobs, replacing any existing entries with the same id.
// Each call advances the epoch.
func (r *Registry) Add(records ...model.JobRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.epoch++
	for _, rec := range records {
		r.jobs[rec.ID] = rec
		r.added[rec.ID] = r.epoch
	}
}

// Epoch returns the number of Add calls so far. A queue snapshot taken
// after reading the epoch covers every job added up to it.
func (r *Registry) Epoch() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.epoch
}

// Remove forgets the given ids and returns how many were tracked.
func (r *Registry) Remove(ids ...model.JobID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if _, ok := r.jobs[id]; ok {
			delete(r.jobs, id)
			delete(r.added, id)
			n++
		}
	}
	return n
}

// Retain drops every tracked id missing from active and refreshes the
// status of the rest. active is a queue snapshot taken after the registry
// was at epoch since; ids added later are kept untouched because the
// snapshot cannot know about them. Ids in active that are not tracked are
// ignored. It returns the dropped ids in sorted order.
func (r *Registry) Retain(active map[model.JobID]model.JobStatus, since uint64) []model.JobID {
	r.mu.Lock()
	defer r.mu.Unlock()

	var dropped []model.JobID
	for id, rec := range r.jobs {
		if r.added[id] > since {
			continue
		}
		status, ok := active[id]
		if !ok {
			delete(r.jobs, id)
			delete(r.added, id)
			dropped = append(dropped, id)
			continue
		}
		if rec.Status != status {
			rec.Status = status
			r.jobs[id] = rec
		}
	}
	sortIDs(dropped)
	return dropped
}

// Get returns the record for id.
func (r *Registry) Get(id model.JobID) (model.JobRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.jobs[id]
	return rec, ok
}

// IDs returns the tracked ids in sorted order.
func (r *Registry) IDs() []model.JobID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]model.JobID, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	sortIDs(ids)
	return ids
}

// Records returns a snapshot of all records ordered by id.
func (r *Registry) Records() []model.JobRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]model.JobRecord, 0, len(r.jobs))
	for _, rec := range r.jobs {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].ClusterID != recs[j].ClusterID {
			return recs[i].ClusterID < recs[j].ClusterID
		}
		return recs[i].ProcID < recs[j].ProcID
	})
	return recs
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// sortIDs orders ids numerically by cluster, then proc.
func sortIDs(ids []model.JobID) {
	sort.Slice(ids, func(i, j int) bool {
		ci, pi, _ := ids[i].Parts()
		cj, pj, _ := ids[j].Parts()
		if ci != cj {
			return ci < cj
		}
		return pi < pj
	})
}
