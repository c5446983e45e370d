// Package reconcile keeps a controller's job registry in step with the
// schedd queue.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/me/daskcondor/internal/condor"
	"github.com/me/daskcondor/internal/registry"
	"github.com/me/daskcondor/pkg/model"
	"go.uber.org/atomic"
)

// Config holds reconciliation settings.
type Config struct {
	Interval     time.Duration
	QueryTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Interval: time.Second, QueryTimeout: 30 * time.Second}
}

// Stats summarises the loop's activity.
type Stats struct {
	Ticks      int64     `json:"ticks"`
	Failures   int64     `json:"failures"`
	Pruned     int64     `json:"pruned"`
	LastTick   time.Time `json:"last_tick,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	LastPruned int64     `json:"last_pruned"`
}

// Option configures optional Loop dependencies.
type Option func(*Loop)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(l *Loop) {
		l.clock = c
	}
}

// Loop periodically prunes jobs that have left the active states from the
// registry. It never adds jobs: anything in the queue it did not submit,
// even with a matching owner tag, stays invisible.
type Loop struct {
	schedd     condor.Schedd
	registry   *registry.Registry
	constraint string
	config     Config
	clock      clock.Clock
	logger     *slog.Logger

	stopCh   chan struct{}
	doneCh   chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	ticks      atomic.Int64
	failures   atomic.Int64
	pruned     atomic.Int64
	lastPruned atomic.Int64
	lastTick   atomic.Time
	lastError  atomic.String
}

// NewLoop creates a loop that reconciles reg against the jobs matching constraint.
func NewLoop(schedd condor.Schedd, reg *registry.Registry, constraint string, cfg Config, logger *slog.Logger, opts ...Option) (*Loop, error) {
	if cfg.Interval < time.Millisecond {
		return nil, model.InvalidParameter("reconciliation_interval_ms", "must be >= 1, got %v", cfg.Interval)
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultConfig().QueryTimeout
	}
	l := &Loop{
		schedd:     schedd,
		registry:   reg,
		constraint: constraint,
		config:     cfg,
		clock:      clock.New(),
		logger:     logger.With("component", "reconcile"),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Start runs the loop. Blocks until ctx is cancelled or Stop is called.
// A failed tick is logged and retried on the next one.
func (l *Loop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("reconcile loop already started")
	}
	defer close(l.doneCh)

	l.logger.Info("reconcile loop started", "interval", l.config.Interval, "constraint", l.constraint)
	ticker := l.clock.Ticker(l.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("reconcile loop stopping (context cancelled)")
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("reconcile loop stopping (stop called)")
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Warn("reconcile tick failed", "error", err)
			}
		}
	}
}

// Stop ends the loop and waits for the current tick to finish.
// It is safe to call more than once, and before Start.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
	if l.started.Load() {
		<-l.doneCh
	}
	return nil
}

// Tick runs a single reconciliation pass.
func (l *Loop) Tick(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, l.config.QueryTimeout)
	defer cancel()

	l.ticks.Inc()
	l.lastTick.Store(l.clock.Now())

	// Jobs registered after this point may be missing from the snapshot.
	since := l.registry.Epoch()
	ads, err := l.schedd.Query(qctx, l.constraint, condor.ReconcileProjection)
	if err != nil {
		l.failures.Inc()
		l.lastError.Store(err.Error())
		if !errors.Is(err, model.ErrQueryFailure) {
			err = model.NewOpError(model.ErrQueryFailure, "reconcile", err)
		}
		return fmt.Errorf("query schedd: %w", err)
	}
	l.lastError.Store("")

	active := make(map[model.JobID]model.JobStatus, len(ads))
	for _, ad := range ads {
		id, err := ad.JobID()
		if err != nil {
			l.logger.Debug("skipping job ad", "error", err)
			continue
		}
		if st := ad.Status(); st.IsActive() {
			active[id] = st
		}
	}

	dropped := l.registry.Retain(active, since)
	l.lastPruned.Store(int64(len(dropped)))
	l.pruned.Add(int64(len(dropped)))
	if len(dropped) > 0 {
		l.logger.Info("jobs left the queue", "job_ids", dropped, "tracked", l.registry.Len())
	}
	return nil
}

// Stats returns a snapshot of the loop's counters.
func (l *Loop) Stats() Stats {
	return Stats{
		Ticks:      l.ticks.Load(),
		Failures:   l.failures.Load(),
		Pruned:     l.pruned.Load(),
		LastTick:   l.lastTick.Load(),
		LastError:  l.lastError.Load(),
		LastPruned: l.lastPruned.Load(),
	}
}
