package condor

import (
	"context"
	"database/sql"
)

// simSchema holds the DDL for the simulated job queue.
// Each statement uses IF NOT EXISTS for idempotency.
var simSchema = []string{
	`CREATE TABLE IF NOT EXISTS clusters (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		submit_file  TEXT NOT NULL,
		submitted_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS jobs (
		cluster_id     INTEGER NOT NULL REFERENCES clusters(id),
		proc_id        INTEGER NOT NULL,
		status         INTEGER NOT NULL DEFAULT 1,
		entered_status INTEGER NOT NULL,
		ad             TEXT NOT NULL,
		PRIMARY KEY (cluster_id, proc_id)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
}

func migrateSim(ctx context.Context, db *sql.DB) error {
	for _, stmt := range simSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
