// Package classad builds and evaluates the ClassAd constraint expressions
// used to select a controller's jobs in the schedd queue.
package classad

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/me/daskcondor/pkg/model"
)

// Quote returns s as a ClassAd string literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// OwnerConstraint selects every job tagged with the given scheduler id.
func OwnerConstraint(schedulerID string) string {
	return fmt.Sprintf("(%s == %s)", model.AttrDaskSchedulerID, Quote(schedulerID))
}

// WorkerConstraint selects a single job by its composite id.
func WorkerConstraint(id model.JobID) (string, error) {
	c, p, err := id.Parts()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("(%s == %d && %s == %d)", model.AttrClusterID, c, model.AttrProcID, p), nil
}

// WorkersConstraint selects any of the given jobs in one expression, so a
// bulk removal is a single request.
func WorkersConstraint(ids []model.JobID) (string, error) {
	if len(ids) == 0 {
		return "", model.InvalidParameter("job_ids", "at least one job id is required")
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		c, err := WorkerConstraint(id)
		if err != nil {
			return "", err
		}
		parts = append(parts, c)
	}
	return Or(parts...), nil
}

// Or joins constraints with ||.
func Or(constraints ...string) string {
	return "(" + strings.Join(constraints, " || ") + ")"
}

// And joins constraints with &&.
func And(constraints ...string) string {
	return strings.Join(constraints, " && ")
}

// ParseLiteral decodes a ClassAd literal: quoted strings, integers, reals
// and booleans. Anything else is returned unchanged as expression text.
func ParseLiteral(s string) any {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		r := strings.NewReplacer(`\"`, `"`, `\\`, `\`)
		return r.Replace(s[1 : len(s)-1])
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	switch strings.ToLower(s) {
	case "true":
		return true
	case "false":
		return false
	}
	return s
}
