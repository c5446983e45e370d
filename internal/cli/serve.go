package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/me/daskcondor/internal/cluster"
	"github.com/me/daskcondor/internal/condor"
	"github.com/me/daskcondor/internal/config"
	"github.com/me/daskcondor/internal/dask"
	"github.com/me/daskcondor/internal/logging"
	"github.com/me/daskcondor/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		cfg        = config.Default()
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a controller and its control API",
		Long: "serve connects to the schedd, starts (or attaches to) a Dask scheduler and serves\n" +
			"the control API until interrupted. Every worker it started is removed on exit.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			// Flags given on the command line win over the file.
			cmd.Flags().Visit(func(f *pflag.Flag) {
				overrideFromFlag(&loaded, &cfg, f.Name)
			})
			if cmd.Flags().Changed("log-level") || flagDebug {
				loaded.LogLevel = flagLogLevel
			}
			if cmd.Flags().Changed("log-format") {
				loaded.LogFormat = flagLogFormat
			}
			if err := loaded.Validate(); err != nil {
				return err
			}

			level, _ := logging.ParseLevel(loaded.LogLevel)
			log := logging.NewLoggerWithWriter(level, loaded.LogFormat, cmd.ErrOrStderr())
			return runServe(cmd.Context(), loaded, log)
		},
	}

	f := cmd.Flags()
	f.StringVar(&configPath, "config", "", "YAML config file")
	f.BoolVar(&cfg.Simulate, "simulate", cfg.Simulate, "Use a simulated schedd instead of HTCondor")
	f.StringVar(&cfg.SimDB, "sim-db", cfg.SimDB, "SQLite database for the simulated schedd")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "Control API listen address")
	f.StringVar(&cfg.Pool, "pool", cfg.Pool, "HTCondor collector used to locate the schedd")
	f.StringVar(&cfg.ScheddName, "schedd", cfg.ScheddName, "Remote schedd name (default: local schedd)")
	f.StringVar(&cfg.SchedulerAddress, "scheduler-address", cfg.SchedulerAddress, "Attach to a running Dask scheduler instead of starting one")
	f.IntVar(&cfg.SchedulerPort, "scheduler-port", cfg.SchedulerPort, "Port for the Dask scheduler started by serve")
	f.IntVar(&cfg.MemoryPerWorker, "memory", cfg.MemoryPerWorker, "Default memory per worker (MB)")
	f.IntVar(&cfg.ProcsPerWorker, "procs", cfg.ProcsPerWorker, "Default processes per worker")
	f.IntVar(&cfg.ThreadsPerWorker, "threads", cfg.ThreadsPerWorker, "Default threads per worker process")
	f.IntVar(&cfg.ReconciliationIntervalMS, "interval-ms", cfg.ReconciliationIntervalMS, "Reconciliation interval (ms)")
	return cmd
}

// overrideFromFlag copies the value bound to flag name from src into dst.
func overrideFromFlag(dst, src *config.Config, name string) {
	switch name {
	case "simulate":
		dst.Simulate = src.Simulate
	case "sim-db":
		dst.SimDB = src.SimDB
	case "listen":
		dst.Listen = src.Listen
	case "pool":
		dst.Pool = src.Pool
	case "schedd":
		dst.ScheddName = src.ScheddName
	case "scheduler-address":
		dst.SchedulerAddress = src.SchedulerAddress
	case "scheduler-port":
		dst.SchedulerPort = src.SchedulerPort
	case "memory":
		dst.MemoryPerWorker = src.MemoryPerWorker
	case "procs":
		dst.ProcsPerWorker = src.ProcsPerWorker
	case "threads":
		dst.ThreadsPerWorker = src.ThreadsPerWorker
	case "interval-ms":
		dst.ReconciliationIntervalMS = src.ReconciliationIntervalMS
	}
}

// runServe runs the controller and HTTP server until ctx is cancelled or a
// termination signal arrives, then closes the controller.
func runServe(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	schedd, sim, err := openSchedd(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if sim != nil {
		defer sim.Close()
	}

	sched, err := openScheduler(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ctl, err := cluster.New(ctx, cfg.Cluster(), schedd, sched, logger)
	if err != nil {
		sched.Close()
		return err
	}
	defer func() {
		if err := ctl.Close(); err != nil {
			logger.Error("close controller", "error", err)
		}
	}()

	var opts []server.Option
	if sim != nil {
		opts = append(opts, server.WithSimulator(sim))
	}
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(ctl, logger, opts...),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", "addr", cfg.Listen, "scheduler_address", ctl.SchedulerAddress())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen on %s: %w", cfg.Listen, err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// openSchedd returns the schedd selected by cfg. The second result is set
// when the schedd is simulated.
func openSchedd(ctx context.Context, cfg config.Config, logger *slog.Logger) (condor.Schedd, *condor.SimSchedd, error) {
	if cfg.Simulate {
		sim, err := condor.NewSimSchedd(ctx, cfg.SimDB, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("using simulated schedd; no jobs reach HTCondor", "db", cfg.SimDB)
		return sim, sim, nil
	}
	return condor.NewCLISchedd(condor.CLIConfig{
		ScheddName: cfg.ScheddName,
		Pool:       cfg.Pool,
		BinDir:     cfg.CondorBinDir,
		Rate:       cfg.ScheddRate,
		Burst:      int(cfg.ScheddRate) + 1,
	}, condor.ExecRunner{}, logger), nil, nil
}

func openScheduler(ctx context.Context, cfg config.Config, logger *slog.Logger) (dask.Scheduler, error) {
	if cfg.SchedulerAddress != "" {
		return dask.NewExternalScheduler(cfg.SchedulerAddress, cfg.SchedulerID)
	}
	return dask.StartProcessScheduler(ctx, dask.ProcessConfig{
		Command: cfg.SchedulerCommand,
		Port:    cfg.SchedulerPort,
	}, logger)
}
