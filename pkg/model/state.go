package model

// JobStatus is the HTCondor JobStatus attribute of a queued job.
type JobStatus int

const (
	JobStatusUnknown            JobStatus = 0
	JobStatusIdle               JobStatus = 1
	JobStatusRunning            JobStatus = 2
	JobStatusRemoved            JobStatus = 3
	JobStatusCompleted          JobStatus = 4
	JobStatusHeld               JobStatus = 5
	JobStatusTransferringOutput JobStatus = 6
	JobStatusSuspended          JobStatus = 7
)

var jobStatusNames = map[JobStatus]string{
	JobStatusUnknown:            "Unknown",
	JobStatusIdle:               "Idle",
	JobStatusRunning:            "Running",
	JobStatusRemoved:            "Removed",
	JobStatusCompleted:          "Completed",
	JobStatusHeld:               "Held",
	JobStatusTransferringOutput: "TransferringOutput",
	JobStatusSuspended:          "Suspended",
}

// String returns the HTCondor name of the status.
func (s JobStatus) String() string {
	if name, ok := jobStatusNames[s]; ok {
		return name
	}
	return "Unknown"
}

// IsActive reports whether a job in this status is still tracked.
// Only Idle, Running and Held count; anything else is terminal.
func (s JobStatus) IsActive() bool {
	switch s {
	case JobStatusIdle, JobStatusRunning, JobStatusHeld:
		return true
	}
	return false
}

// MarshalText encodes the status by name for JSON responses.
func (s JobStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the names produced by MarshalText.
func (s *JobStatus) UnmarshalText(b []byte) error {
	for k, v := range jobStatusNames {
		if v == string(b) {
			*s = k
			return nil
		}
	}
	*s = JobStatusUnknown
	return nil
}
