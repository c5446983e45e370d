package condor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/me/daskcondor/internal/classad"
	"github.com/me/daskcondor/internal/submit"
	"github.com/me/daskcondor/pkg/model"

	_ "modernc.org/sqlite"
)

// SimSchedd is an in-process stand-in for a schedd. It keeps its queue in
// SQLite and evaluates constraints with the classad evaluator, so the
// controller can be exercised end to end without an HTCondor pool. Jobs
// never run on their own; SetStatus moves them between states.
type SimSchedd struct {
	db     *sql.DB
	eval   *classad.Evaluator
	logger *slog.Logger
	now    func() time.Time
}

// NewSimSchedd opens (or creates) the queue database at dbPath.
// Use ":memory:" for a throwaway queue.
func NewSimSchedd(ctx context.Context, dbPath string, logger *slog.Logger) (*SimSchedd, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// One connection: an in-memory database exists per connection.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if err := migrateSim(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sim queue: %w", err)
	}

	return &SimSchedd{
		db:     db,
		eval:   classad.NewEvaluator(),
		logger: logger.With("component", "sim-schedd"),
		now:    time.Now,
	}, nil
}

// Close closes the queue database.
func (s *SimSchedd) Close() error {
	return s.db.Close()
}

// Submit inserts a cluster and its jobs in one transaction.
func (s *SimSchedd) Submit(ctx context.Context, d *submit.Description, count int) ([]model.JobAd, error) {
	if count < 1 {
		return nil, model.InvalidParameter("n", "must be >= 1, got %d", count)
	}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO clusters (submit_file, submitted_at) VALUES (?, ?)`,
		d.Render(count), now.Format(time.RFC3339Nano))
	if err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "insert cluster", err)
	}
	clusterID, err := res.LastInsertId()
	if err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "insert cluster", err)
	}

	attrs := d.Attributes()
	ads := make([]model.JobAd, 0, count)
	for proc := 0; proc < count; proc++ {
		ad := make(model.JobAd, len(attrs)+6)
		for k, v := range attrs {
			ad[k] = v
		}
		ad[model.AttrClusterID] = int(clusterID)
		ad[model.AttrProcID] = proc
		ad[model.AttrJobStatus] = int(model.JobStatusIdle)
		ad[model.AttrRequestMemory] = d.RequestMemory()
		ad[model.AttrRequestCpus] = d.RequestCpus()
		ad["EnteredCurrentStatus"] = now.Unix()

		adJSON, err := json.Marshal(ad)
		if err != nil {
			return nil, model.NewOpError(model.ErrSubmissionFailed, "marshal job ad", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (cluster_id, proc_id, status, entered_status, ad) VALUES (?, ?, ?, ?, ?)`,
			clusterID, proc, int(model.JobStatusIdle), now.Unix(), string(adJSON),
		); err != nil {
			return nil, model.NewOpError(model.ErrSubmissionFailed, "insert job", err)
		}
		ads = append(ads, ad)
	}

	if err := tx.Commit(); err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "commit", err)
	}
	s.logger.Debug("submitted", "cluster_id", clusterID, "count", count)
	return ads, nil
}

// Query returns the projected ads of every queued job matching constraint.
func (s *SimSchedd) Query(ctx context.Context, constraint string, projection []string) ([]model.JobAd, error) {
	all, err := s.load(ctx, s.db)
	if err != nil {
		return nil, model.NewOpError(model.ErrQueryFailure, "query", err)
	}

	var out []model.JobAd
	for _, ad := range all {
		ok, err := s.eval.Matches(constraint, ad)
		if err != nil {
			return nil, model.NewOpError(model.ErrQueryFailure, "query", err)
		}
		if ok {
			out = append(out, project(ad, projection))
		}
	}
	return out, nil
}

// Remove marks every matching job that is still in the queue as Removed.
func (s *SimSchedd) Remove(ctx context.Context, constraint string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.NewOpError(model.ErrRemovalFailure, "begin transaction", err)
	}
	defer tx.Rollback()

	all, err := s.load(ctx, tx)
	if err != nil {
		return model.NewOpError(model.ErrRemovalFailure, "remove", err)
	}

	removed := 0
	for _, ad := range all {
		st := ad.Status()
		if st == model.JobStatusRemoved || st == model.JobStatusCompleted {
			continue
		}
		ok, err := s.eval.Matches(constraint, ad)
		if err != nil {
			return model.NewOpError(model.ErrRemovalFailure, "remove", err)
		}
		if !ok {
			continue
		}
		c, _ := ad.Int(model.AttrClusterID)
		p, _ := ad.Int(model.AttrProcID)
		if err := s.setStatus(ctx, tx, c, p, model.JobStatusRemoved); err != nil {
			return model.NewOpError(model.ErrRemovalFailure, "remove", err)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return model.NewOpError(model.ErrRemovalFailure, "commit", err)
	}
	s.logger.Debug("removed", "constraint", constraint, "count", removed)
	return nil
}

// Ping checks the queue database.
func (s *SimSchedd) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return model.NewOpError(model.ErrConnectionFailure, "ping", err)
	}
	return nil
}

// SetStatus moves a queued job to status, as the real schedd would when
// the job starts, is held, completes, and so on.
func (s *SimSchedd) SetStatus(ctx context.Context, id model.JobID, status model.JobStatus) error {
	c, p, err := id.Parts()
	if err != nil {
		return err
	}
	return s.setStatus(ctx, s.db, c, p, status)
}

// Purge drops jobs in a terminal state from the queue, as the schedd does
// once a removed or completed job has been cleaned up.
func (s *SimSchedd) Purge(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN (?, ?)`,
		int(model.JobStatusRemoved), int(model.JobStatusCompleted))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SimSchedd) setStatus(ctx context.Context, q execQuerier, cluster, proc int, status model.JobStatus) error {
	res, err := q.ExecContext(ctx,
		`UPDATE jobs SET status = ?, entered_status = ? WHERE cluster_id = ? AND proc_id = ?`,
		int(status), s.now().Unix(), cluster, proc)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.NewNotFoundError("job", string(model.NewJobID(cluster, proc)))
	}
	return nil
}

func (s *SimSchedd) load(ctx context.Context, q execQuerier) ([]model.JobAd, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT cluster_id, proc_id, status, entered_status, ad FROM jobs ORDER BY cluster_id, proc_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ads []model.JobAd
	for rows.Next() {
		var cluster, proc, status int
		var entered int64
		var adJSON string
		if err := rows.Scan(&cluster, &proc, &status, &entered, &adJSON); err != nil {
			return nil, err
		}
		var ad model.JobAd
		if err := json.Unmarshal([]byte(adJSON), &ad); err != nil {
			return nil, fmt.Errorf("unmarshal ad %d.%d: %w", cluster, proc, err)
		}
		ad[model.AttrClusterID] = cluster
		ad[model.AttrProcID] = proc
		ad[model.AttrJobStatus] = status
		ad["EnteredCurrentStatus"] = entered
		ads = append(ads, ad)
	}
	return ads, rows.Err()
}

// project keeps only the requested attributes, matched case-insensitively.
func project(ad model.JobAd, projection []string) model.JobAd {
	if len(projection) == 0 {
		return ad
	}
	out := make(model.JobAd, len(projection))
	for _, want := range projection {
		for k, v := range ad {
			if strings.EqualFold(k, want) {
				out[want] = v
				break
			}
		}
	}
	return out
}

var _ Schedd = (*SimSchedd)(nil)
