// Package condor talks to an HTCondor schedd: submitting worker clusters,
// querying the job queue and removing jobs by constraint.
package condor

import (
	"context"

	"github.com/me/daskcondor/internal/submit"
	"github.com/me/daskcondor/pkg/model"
)

// Schedd is the narrow view of the batch scheduler the controller needs.
// Implementations are safe for concurrent use.
type Schedd interface {
	// Submit queues count jobs from d in one transaction. Either every job
	// is queued under a single cluster id, or none is.
	Submit(ctx context.Context, d *submit.Description, count int) ([]model.JobAd, error)

	// Query returns the ads of all jobs matching constraint, restricted to
	// the projected attributes (all attributes when projection is empty).
	Query(ctx context.Context, constraint string, projection []string) ([]model.JobAd, error)

	// Remove asks the schedd to remove every job matching constraint. It
	// does not wait for the jobs to leave the queue.
	Remove(ctx context.Context, constraint string) error

	// Ping checks that the schedd can be reached.
	Ping(ctx context.Context) error
}

// ReconcileProjection is the attribute set the reconciliation loop needs.
var ReconcileProjection = []string{model.AttrClusterID, model.AttrProcID, model.AttrJobStatus}
