package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// JobID is the composite "<ClusterId>.<ProcId>" identifier of one queued job.
type JobID string

// NewJobID formats a composite job id.
func NewJobID(clusterID, procID int) JobID {
	return JobID(fmt.Sprintf("%d.%d", clusterID, procID))
}

// ParseJobID splits a composite id into its cluster and proc parts. Both
// parts must be plain decimal digits: no sign, no surrounding space.
func ParseJobID(s string) (clusterID, procID int, err error) {
	c, p, ok := strings.Cut(s, ".")
	if !ok {
		return 0, 0, InvalidParameter("job_id", "%q is not of the form cluster.proc", s)
	}
	clusterID, ok = parseDigits(c)
	if !ok {
		return 0, 0, InvalidParameter("job_id", "%q has a bad cluster id", s)
	}
	procID, ok = parseDigits(p)
	if !ok {
		return 0, 0, InvalidParameter("job_id", "%q has a bad proc id", s)
	}
	return clusterID, procID, nil
}

func parseDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	return n, err == nil
}

// Parts returns the cluster and proc ids. The id must be well formed.
func (id JobID) Parts() (clusterID, procID int, err error) {
	return ParseJobID(string(id))
}

// String implements fmt.Stringer.
func (id JobID) String() string {
	return string(id)
}

// JobRecord is the last-known state of a job submitted by a controller.
type JobRecord struct {
	ID            JobID     `json:"id"`
	ClusterID     int       `json:"cluster_id"`
	ProcID        int       `json:"proc_id"`
	Status        JobStatus `json:"status"`
	RequestMemory int       `json:"request_memory,omitempty"`
	RequestCpus   int       `json:"request_cpus,omitempty"`
	SubmittedAt   time.Time `json:"submitted_at"`
}

// Job ClassAd attribute names used by the controller.
const (
	AttrClusterID       = "ClusterId"
	AttrProcID          = "ProcId"
	AttrJobStatus       = "JobStatus"
	AttrRequestMemory   = "RequestMemory"
	AttrRequestCpus     = "RequestCpus"
	AttrDaskSchedulerID = "DaskSchedulerId"
	AttrHoldReason      = "HoldReason"
)

// JobAd is the attribute set of one job as reported by the schedd.
type JobAd map[string]any

// Int returns an integer attribute. Values decoded from JSON arrive as
// float64 or json.Number; numeric strings are accepted as well.
func (ad JobAd) Int(key string) (int, bool) {
	switch v := ad[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v != math.Trunc(v) {
			return 0, false
		}
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	case string:
		n, err := strconv.Atoi(v)
		return n, err == nil
	}
	return 0, false
}

// String returns a string attribute.
func (ad JobAd) String(key string) (string, bool) {
	v, ok := ad[key].(string)
	return v, ok
}

// JobID returns the composite id of the ad.
func (ad JobAd) JobID() (JobID, error) {
	c, ok := ad.Int(AttrClusterID)
	if !ok {
		return "", fmt.Errorf("job ad has no %s", AttrClusterID)
	}
	p, ok := ad.Int(AttrProcID)
	if !ok {
		return "", fmt.Errorf("job ad has no %s", AttrProcID)
	}
	return NewJobID(c, p), nil
}

// Status returns the JobStatus attribute, or JobStatusUnknown.
func (ad JobAd) Status() JobStatus {
	s, ok := ad.Int(AttrJobStatus)
	if !ok {
		return JobStatusUnknown
	}
	return JobStatus(s)
}

// Record converts the ad into a JobRecord stamped with submittedAt.
func (ad JobAd) Record(submittedAt time.Time) (JobRecord, error) {
	id, err := ad.JobID()
	if err != nil {
		return JobRecord{}, err
	}
	c, _ := ad.Int(AttrClusterID)
	p, _ := ad.Int(AttrProcID)
	mem, _ := ad.Int(AttrRequestMemory)
	cpus, _ := ad.Int(AttrRequestCpus)
	return JobRecord{
		ID:            id,
		ClusterID:     c,
		ProcID:        p,
		Status:        ad.Status(),
		RequestMemory: mem,
		RequestCpus:   cpus,
		SubmittedAt:   submittedAt,
	}, nil
}
