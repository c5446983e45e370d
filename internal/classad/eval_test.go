package classad

import (
	"testing"

	"github.com/me/daskcondor/pkg/model"
)

func TestEvaluator_Matches(t *testing.T) {
	ad := model.JobAd{
		"ClusterId":       float64(5),
		"ProcId":          float64(1),
		"JobStatus":       float64(2),
		"DaskSchedulerId": "Scheduler-abc",
	}
	owner := OwnerConstraint("Scheduler-abc")
	ids, err := WorkersConstraint([]model.JobID{"5.0", "5.1"})
	if err != nil {
		t.Fatalf("WorkersConstraint: %v", err)
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"owner", owner, true},
		{"other owner", OwnerConstraint("Scheduler-xyz"), false},
		{"owner and ids", And(owner, ids), true},
		{"owner and other id", And(owner, "(ClusterId == 5 && ProcId == 7)"), false},
		{"case-insensitive attribute", "clusterid == 5", true},
		{"MY prefix", "MY.JobStatus == 2", true},
		{"missing attribute", "DaskWorkerName == \"x\"", false},
		{"meta equals undefined", "DaskWorkerName =?= undefined", true},
		{"meta not equals", "JobStatus =!= 5", true},
		{"arithmetic", "ProcId + 1 >= 2", true},
		{"negation", "!(JobStatus == 5)", true},
		{"literal true", "true", true},
		{"non-boolean result", "ClusterId", false},
	}

	e := NewEvaluator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Matches(tt.expr, ad)
			if err != nil {
				t.Fatalf("Matches(%s): %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("Matches(%s) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvaluator_Rejects(t *testing.T) {
	ad := model.JobAd{"ClusterId": 1}
	bad := []string{
		"ClusterId = 2",
		"isUndefined(ClusterId)",
		"ClusterId == 1; 2",
		`"unterminated`,
		"TARGET.Memory > 1",
	}
	e := NewEvaluator()
	for _, expr := range bad {
		if _, err := e.Matches(expr, ad); err == nil {
			t.Errorf("Matches(%q) succeeded, want error", expr)
		}
	}
	if v, ok := ad.Int("ClusterId"); !ok || v != 1 {
		t.Errorf("ad mutated: ClusterId = %v", ad["ClusterId"])
	}
}
