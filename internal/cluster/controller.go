// Package cluster provisions Dask workers as HTCondor jobs on behalf of one
// Dask scheduler and keeps track of the ones still in the queue.
package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/atomic"

	"github.com/me/daskcondor/internal/classad"
	"github.com/me/daskcondor/internal/condor"
	"github.com/me/daskcondor/internal/dask"
	"github.com/me/daskcondor/internal/reconcile"
	"github.com/me/daskcondor/internal/registry"
	"github.com/me/daskcondor/internal/submit"
	"github.com/me/daskcondor/pkg/model"
)

// Config holds the defaults applied to every StartWorkers call and the
// reconciliation settings.
type Config struct {
	MemoryMB          int
	Procs             int
	Threads           int
	IdleTimeout       time.Duration
	Executable        string
	ReconcileInterval time.Duration
	QueryTimeout      time.Duration
}

// DefaultConfig returns the stock worker sizing: 1 GiB, one process, one
// thread, a day of idleness and a one second reconciliation interval.
func DefaultConfig() Config {
	return Config{
		MemoryMB:          1024,
		Procs:             1,
		Threads:           1,
		IdleTimeout:       24 * time.Hour,
		Executable:        submit.DefaultExecutable,
		ReconcileInterval: time.Second,
		QueryTimeout:      30 * time.Second,
	}
}

// WorkerOptions override the controller defaults for one StartWorkers call.
// Zero fields use the default.
type WorkerOptions struct {
	MemoryMB    int
	Procs       int
	Threads     int
	IdleTimeout time.Duration
	Extra       map[string]string
}

// Option configures optional Controller dependencies.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock drives the reconciliation loop from c, for tests.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Controller submits, tracks and removes the worker jobs of one scheduler.
type Controller struct {
	config    Config
	schedd    condor.Schedd
	scheduler dask.Scheduler
	registry  *registry.Registry
	loop      *reconcile.Loop
	owner     string
	logger    *slog.Logger

	submitMu  sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
	loopDone  chan struct{}
}

// New connects to the schedd, registers the controller for process exit
// cleanup and starts reconciling. The returned controller must be closed.
func New(ctx context.Context, cfg Config, schedd condor.Schedd, scheduler dask.Scheduler, logger *slog.Logger, opts ...Option) (*Controller, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}

	if err := schedd.Ping(ctx); err != nil {
		return nil, model.NewOpError(model.ErrConnectionFailure, "connect to schedd", err)
	}

	c := &Controller{
		config:    cfg,
		schedd:    schedd,
		scheduler: scheduler,
		registry:  registry.New(),
		owner:     classad.OwnerConstraint(scheduler.ID()),
		logger:    logger.With("component", "cluster", "scheduler_id", scheduler.ID()),
		loopDone:  make(chan struct{}),
	}
	if _, err := c.params(WorkerOptions{}); err != nil {
		return nil, err
	}

	var loopOpts []reconcile.Option
	if o.clock != nil {
		loopOpts = append(loopOpts, reconcile.WithClock(o.clock))
	}
	loop, err := reconcile.NewLoop(schedd, c.registry, c.owner, reconcile.Config{
		Interval:     cfg.ReconcileInterval,
		QueryTimeout: cfg.QueryTimeout,
	}, logger, loopOpts...)
	if err != nil {
		return nil, err
	}
	c.loop = loop

	register(c)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	go func() {
		defer close(c.loopDone)
		c.loop.Start(loopCtx)
	}()

	c.logger.Info("controller started", "scheduler_address", scheduler.Address(), "constraint", c.owner)
	return c, nil
}

// params resolves opts against the controller defaults and validates the
// result. Nothing is submitted when it fails.
func (c *Controller) params(opts WorkerOptions) (submit.Params, error) {
	switch {
	case opts.MemoryMB < 0:
		return submit.Params{}, model.InvalidParameter("memory_per_worker", "must be >= 1 (MB), got %d", opts.MemoryMB)
	case opts.Procs < 0:
		return submit.Params{}, model.InvalidParameter("procs_per_worker", "must be >= 1, got %d", opts.Procs)
	case opts.Threads < 0:
		return submit.Params{}, model.InvalidParameter("threads_per_worker", "must be >= 1, got %d", opts.Threads)
	case opts.IdleTimeout < 0:
		return submit.Params{}, model.InvalidParameter("worker_timeout", "must be >= 1 (sec), got %v", opts.IdleTimeout)
	}

	p := submit.Params{
		Executable:       c.config.Executable,
		MemoryMB:         or(opts.MemoryMB, c.config.MemoryMB),
		Procs:            or(opts.Procs, c.config.Procs),
		Threads:          or(opts.Threads, c.config.Threads),
		IdleTimeout:      int(or(opts.IdleTimeout, c.config.IdleTimeout) / time.Second),
		SchedulerAddress: c.scheduler.Address(),
		SchedulerID:      c.scheduler.ID(),
		Extra:            opts.Extra,
	}
	if err := p.Validate(); err != nil {
		return submit.Params{}, err
	}
	return p, nil
}

func or[T comparable](v, fallback T) T {
	var zero T
	if v == zero {
		return fallback
	}
	return v
}

// StartWorkers submits n worker jobs as one cluster and tracks them.
// Cancelling ctx does not abort a submission already handed to the schedd:
// it may have committed the cluster, and jobs it never reports back would
// go untracked. The submission is bounded by the query timeout instead.
func (c *Controller) StartWorkers(ctx context.Context, n int, opts WorkerOptions) ([]model.JobRecord, error) {
	if c.closed.Load() {
		return nil, model.ErrClosed
	}
	if n < 1 {
		return nil, model.InvalidParameter("n", "must be >= 1, got %d", n)
	}
	p, err := c.params(opts)
	if err != nil {
		return nil, err
	}
	desc, err := submit.Build(p)
	if err != nil {
		return nil, err
	}

	c.submitMu.Lock()
	defer c.submitMu.Unlock()
	// Close may have run its final removal while we waited for the lock.
	if c.closed.Load() {
		return nil, model.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.queryTimeout())
	defer cancel()
	ads, err := c.schedd.Submit(sctx, desc, n)
	if err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, fmt.Sprintf("submit %d workers", n), err)
	}

	now := time.Now().UTC()
	records := make([]model.JobRecord, 0, len(ads))
	for _, ad := range ads {
		rec, err := ad.Record(now)
		if err != nil {
			return nil, model.NewOpError(model.ErrSubmissionFailed, "read submitted job", err)
		}
		records = append(records, rec)
	}
	c.registry.Add(records...)

	clusterID := -1
	if len(records) > 0 {
		clusterID = records[0].ClusterID
	}
	c.logger.Info("started workers",
		"cluster_id", clusterID,
		"count", len(records),
		"request_memory", desc.RequestMemory(),
		"request_cpus", desc.RequestCpus(),
	)
	return records, nil
}

// SubmitWorker starts a single worker.
func (c *Controller) SubmitWorker(ctx context.Context, opts WorkerOptions) (model.JobRecord, error) {
	records, err := c.StartWorkers(ctx, 1, opts)
	if err != nil {
		return model.JobRecord{}, err
	}
	return records[0], nil
}

// StopWorkers asks the schedd to remove the given jobs, restricted to jobs
// owned by this controller. Removal failures are logged, not returned; the
// registry catches up on the next reconciliation.
func (c *Controller) StopWorkers(ctx context.Context, ids ...string) error {
	if c.closed.Load() {
		return model.ErrClosed
	}
	if len(ids) == 0 {
		return nil
	}
	jobIDs := make([]model.JobID, 0, len(ids))
	for _, id := range ids {
		cl, p, err := model.ParseJobID(id)
		if err != nil {
			return err
		}
		jobIDs = append(jobIDs, model.NewJobID(cl, p))
	}
	workers, err := classad.WorkersConstraint(jobIDs)
	if err != nil {
		return err
	}
	c.remove(ctx, classad.And(c.owner, workers))
	return nil
}

// KillAll removes every job owned by this controller, including ones it no
// longer tracks.
func (c *Controller) KillAll(ctx context.Context) error {
	if c.closed.Load() {
		return model.ErrClosed
	}
	c.remove(ctx, c.owner)
	return nil
}

func (c *Controller) remove(ctx context.Context, constraint string) {
	if err := c.schedd.Remove(ctx, constraint); err != nil {
		c.logger.Error("remove workers failed", "constraint", constraint, "error", err)
		return
	}
	c.logger.Info("removed workers", "constraint", constraint)
}

// Close stops reconciling, removes every owned job, closes the scheduler and
// unregisters the controller. Only the first call has any effect.
func (c *Controller) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.loop.Stop()
		c.cancel()
		<-c.loopDone

		// Wait out any submission in flight so its jobs fall under the
		// removal below; later ones see closed and back off.
		c.submitMu.Lock()
		ctx, cancel := context.WithTimeout(context.Background(), c.queryTimeout())
		defer cancel()
		c.remove(ctx, c.owner)
		c.submitMu.Unlock()

		if cerr := c.scheduler.Close(); cerr != nil {
			err = fmt.Errorf("close dask scheduler: %w", cerr)
		}
		unregister(c)
		c.logger.Info("controller closed")
	})
	return err
}

func (c *Controller) queryTimeout() time.Duration {
	if c.config.QueryTimeout > 0 {
		return c.config.QueryTimeout
	}
	return DefaultConfig().QueryTimeout
}

// JobIDs returns the ids of the tracked jobs in order.
func (c *Controller) JobIDs() []model.JobID {
	return c.registry.IDs()
}

// Jobs returns the tracked job records in id order.
func (c *Controller) Jobs() []model.JobRecord {
	return c.registry.Records()
}

// SchedulerID returns the owner tag stamped on every submitted job.
func (c *Controller) SchedulerID() string {
	return c.scheduler.ID()
}

// SchedulerAddress returns the address workers connect to.
func (c *Controller) SchedulerAddress() string {
	return c.scheduler.Address()
}

// OwnerConstraint matches every job this controller submitted.
func (c *Controller) OwnerConstraint() string {
	return c.owner
}

// ReconcileStats reports the reconciliation loop counters.
func (c *Controller) ReconcileStats() reconcile.Stats {
	return c.loop.Stats()
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	return c.closed.Load()
}

func (c *Controller) String() string {
	return fmt.Sprintf("<Controller: %d workers>", c.registry.Len())
}
