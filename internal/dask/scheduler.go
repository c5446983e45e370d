// Package dask manages the Dask scheduler that submitted workers connect to.
package dask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/me/daskcondor/pkg/model"
)

// Scheduler is the distributed-compute scheduler a controller provisions
// workers for. ID is unique per scheduler instance and is used to tag jobs.
type Scheduler interface {
	ID() string
	Address() string
	Close() error
}

// NewID returns a scheduler identity in Dask's "Scheduler-<uuid>" form.
func NewID() string {
	return "Scheduler-" + uuid.New().String()
}

// ExternalScheduler is a scheduler started and owned by someone else.
type ExternalScheduler struct {
	id      string
	address string
}

// NewExternalScheduler wraps an already running scheduler. An empty id
// gets a fresh one.
func NewExternalScheduler(address, id string) (*ExternalScheduler, error) {
	if address == "" {
		return nil, model.InvalidParameter("scheduler_address", "is required")
	}
	if id == "" {
		id = NewID()
	}
	return &ExternalScheduler{id: id, address: address}, nil
}

// ID returns the scheduler identity.
func (s *ExternalScheduler) ID() string { return s.id }

// Address returns the scheduler address.
func (s *ExternalScheduler) Address() string { return s.address }

// Close is a no-op; the scheduler belongs to someone else.
func (s *ExternalScheduler) Close() error { return nil }

// ProcessConfig configures a locally launched dask-scheduler.
type ProcessConfig struct {
	Command      string   // default "dask-scheduler"
	Host         string   // address advertised to workers; default os.Hostname()
	Port         int      // default 8786
	ExtraArgs    []string // appended to the command line
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// ProcessScheduler runs dask-scheduler as a child process.
type ProcessScheduler struct {
	id          string
	address     string
	cmd         *exec.Cmd
	waitCh      chan error
	stopTimeout time.Duration
	logger      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// StartProcessScheduler launches dask-scheduler and waits until its port
// accepts connections.
func StartProcessScheduler(ctx context.Context, cfg ProcessConfig, logger *slog.Logger) (*ProcessScheduler, error) {
	if cfg.Command == "" {
		cfg.Command = "dask-scheduler"
	}
	if cfg.Port == 0 {
		cfg.Port = 8786
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, model.InvalidParameter("scheduler_port", "must be in 1..65535, got %d", cfg.Port)
	}
	if cfg.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, model.NewOpError(model.ErrConnectionFailure, "resolve hostname", err)
		}
		cfg.Host = host
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	id := NewID()
	port := strconv.Itoa(cfg.Port)
	args := append([]string{"--port", port}, cfg.ExtraArgs...)
	cmd := exec.Command(cfg.Command, args...)
	cmd.Stdout = os.Stderr
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, model.NewOpError(model.ErrConnectionFailure, "start "+cfg.Command, err)
	}

	s := &ProcessScheduler{
		id:          id,
		address:     "tcp://" + net.JoinHostPort(cfg.Host, port),
		cmd:         cmd,
		waitCh:      make(chan error, 1),
		stopTimeout: cfg.StopTimeout,
		logger:      logger.With("component", "dask-scheduler", "scheduler_id", id),
	}
	go func() { s.waitCh <- cmd.Wait() }()

	if err := s.waitReady(ctx, net.JoinHostPort("localhost", port), cfg.StartTimeout); err != nil {
		s.Close()
		return nil, model.NewOpError(model.ErrConnectionFailure, "start "+cfg.Command, err)
	}

	s.logger.Info("dask scheduler started", "address", s.address, "pid", cmd.Process.Pid)
	return s, nil
}

// ID returns the scheduler identity.
func (s *ProcessScheduler) ID() string { return s.id }

// Address returns the address workers connect to.
func (s *ProcessScheduler) Address() string { return s.address }

// Close terminates the scheduler process, escalating to SIGKILL after the
// stop timeout. Later calls return the first result.
func (s *ProcessScheduler) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.stop()
	})
	return s.closeErr
}

func (s *ProcessScheduler) stop() error {
	select {
	case err := <-s.waitCh:
		// Already gone.
		return exitErr(err)
	default:
	}

	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Warn("signal dask scheduler", "error", err)
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()
	select {
	case err := <-s.waitCh:
		s.logger.Info("dask scheduler stopped")
		return exitErr(err)
	case <-timer.C:
		s.logger.Warn("dask scheduler did not exit, killing", "timeout", s.stopTimeout)
		if err := s.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			return fmt.Errorf("kill dask scheduler: %w", err)
		}
		<-s.waitCh
		return nil
	}
}

// waitReady polls addr until it accepts a TCP connection, the process
// exits, or timeout elapses.
func (s *ProcessScheduler) waitReady(ctx context.Context, addr string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var d net.Dialer
	for {
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return nil
		}
		select {
		case werr := <-s.waitCh:
			s.waitCh <- werr
			return fmt.Errorf("scheduler exited before listening: %v", werr)
		case <-ctx.Done():
			return fmt.Errorf("scheduler not listening on %s: %w", addr, ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// exitErr treats termination by our own SIGTERM as a clean exit.
func exitErr(err error) error {
	var ee *exec.ExitError
	if errors.As(err, &ee) {
		if ws, ok := ee.Sys().(syscall.WaitStatus); ok && ws.Signaled() && ws.Signal() == syscall.SIGTERM {
			return nil
		}
	}
	return err
}
