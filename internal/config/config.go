// Package config holds the dask-condor server configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/me/daskcondor/internal/cluster"
	"github.com/me/daskcondor/internal/logging"
	"github.com/me/daskcondor/internal/submit"
	"github.com/me/daskcondor/pkg/model"
)

// Config is the server configuration. Worker sizing keys are the defaults
// for every start request that leaves them unset.
type Config struct {
	MemoryPerWorker          int    `yaml:"memory_per_worker"`          // MB
	ProcsPerWorker           int    `yaml:"procs_per_worker"`
	ThreadsPerWorker         int    `yaml:"threads_per_worker"`
	ReconciliationIntervalMS int    `yaml:"reconciliation_interval_ms"`
	WorkerIdleTimeoutSec     int    `yaml:"worker_idle_timeout_sec"`
	WorkerExecutable         string `yaml:"worker_executable"`

	SchedulerPort    int    `yaml:"scheduler_port"`
	SchedulerAddress string `yaml:"scheduler_address"` // use a running scheduler instead of launching one
	SchedulerID      string `yaml:"scheduler_id"`
	SchedulerCommand string `yaml:"scheduler_command"`

	Pool            string  `yaml:"pool"`
	ScheddName      string  `yaml:"schedd_name"`
	CondorBinDir    string  `yaml:"condor_bin_dir"`
	ScheddRate      float64 `yaml:"schedd_rate"` // condor tool invocations per second
	QueryTimeoutSec int     `yaml:"query_timeout_sec"`
	Simulate        bool    `yaml:"simulate"`
	SimDB           string  `yaml:"sim_db"`

	Listen    string `yaml:"listen"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MemoryPerWorker:          1024,
		ProcsPerWorker:           1,
		ThreadsPerWorker:         1,
		ReconciliationIntervalMS: 1000,
		WorkerIdleTimeoutSec:     86400,
		WorkerExecutable:         submit.DefaultExecutable,
		SchedulerPort:            8786,
		SchedulerCommand:         "dask-scheduler",
		ScheddRate:               10,
		QueryTimeoutSec:          30,
		SimDB:                    ":memory:",
		Listen:                   ":8788",
		LogLevel:                 "info",
		LogFormat:                "text",
	}
}

// Load reads a YAML file over the defaults. Unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every key against its allowed range.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, field, format string, args ...any) {
		if !ok {
			errs = append(errs, model.InvalidParameter(field, format, args...))
		}
	}
	check(c.MemoryPerWorker >= 1, "memory_per_worker", "must be >= 1 (MB), got %d", c.MemoryPerWorker)
	check(c.ProcsPerWorker >= 1, "procs_per_worker", "must be >= 1, got %d", c.ProcsPerWorker)
	check(c.ThreadsPerWorker >= 1, "threads_per_worker", "must be >= 1, got %d", c.ThreadsPerWorker)
	check(c.ReconciliationIntervalMS >= 1, "reconciliation_interval_ms", "must be >= 1, got %d", c.ReconciliationIntervalMS)
	check(c.WorkerIdleTimeoutSec >= 1, "worker_idle_timeout_sec", "must be >= 1, got %d", c.WorkerIdleTimeoutSec)
	check(c.SchedulerAddress != "" || (c.SchedulerPort >= 1 && c.SchedulerPort <= 65535),
		"scheduler_port", "must be in 1..65535, got %d", c.SchedulerPort)
	check(c.ScheddRate >= 0, "schedd_rate", "must be >= 0, got %v", c.ScheddRate)
	check(c.QueryTimeoutSec >= 1, "query_timeout_sec", "must be >= 1, got %d", c.QueryTimeoutSec)
	check(c.Listen != "", "listen", "is required")
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if err := logging.CheckFormat(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Cluster returns the controller settings.
func (c Config) Cluster() cluster.Config {
	return cluster.Config{
		MemoryMB:          c.MemoryPerWorker,
		Procs:             c.ProcsPerWorker,
		Threads:           c.ThreadsPerWorker,
		IdleTimeout:       time.Duration(c.WorkerIdleTimeoutSec) * time.Second,
		Executable:        c.WorkerExecutable,
		ReconcileInterval: time.Duration(c.ReconciliationIntervalMS) * time.Millisecond,
		QueryTimeout:      c.QueryTimeout(),
	}
}

// QueryTimeout bounds each schedd query.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSec) * time.Second
}
