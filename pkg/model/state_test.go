package model

import (
	"encoding/json"
	"testing"
)

func TestJobStatus_IsActive(t *testing.T) {
	tests := []struct {
		status JobStatus
		active bool
	}{
		{JobStatusIdle, true},
		{JobStatusRunning, true},
		{JobStatusHeld, true},
		{JobStatusRemoved, false},
		{JobStatusCompleted, false},
		{JobStatusTransferringOutput, false},
		{JobStatusSuspended, false},
		{JobStatusUnknown, false},
		{JobStatus(42), false},
	}
	for _, tt := range tests {
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("JobStatus(%d).IsActive() = %v, want %v", tt.status, got, tt.active)
		}
	}
}

func TestJobStatus_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]JobStatus{"s": JobStatusHeld})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"s":"Held"}` {
		t.Errorf("got %s", data)
	}

	var out map[string]JobStatus
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out["s"] != JobStatusHeld {
		t.Errorf("round trip = %v, want Held", out["s"])
	}
}
