package condor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/me/daskcondor/internal/submit"
	"github.com/me/daskcondor/pkg/model"
	"golang.org/x/time/rate"
)

// CLIConfig locates the schedd and bounds how hard it is driven.
type CLIConfig struct {
	// ScheddName selects a remote schedd; empty means the local one.
	ScheddName string
	// Pool is the collector used to locate ScheddName.
	Pool string
	// BinDir holds the condor_* tools; empty means $PATH.
	BinDir string
	// Rate limits tool invocations per second across all operations.
	// Zero disables the limit.
	Rate  float64
	Burst int
}

// CLISchedd drives a schedd through condor_submit, condor_q and condor_rm.
type CLISchedd struct {
	cfg     CLIConfig
	runner  Runner
	limiter *rate.Limiter
	logger  *slog.Logger
	now     func() time.Time
}

// NewCLISchedd creates a CLISchedd. A nil runner means ExecRunner.
func NewCLISchedd(cfg CLIConfig, runner Runner, logger *slog.Logger) *CLISchedd {
	if runner == nil {
		runner = ExecRunner{}
	}
	limit := rate.Inf
	if cfg.Rate > 0 {
		limit = rate.Limit(cfg.Rate)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &CLISchedd{
		cfg:     cfg,
		runner:  runner,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger.With("component", "condor-cli", "schedd", cfg.ScheddName),
		now:     time.Now,
	}
}

// Submit runs condor_submit with the rendered description on stdin.
func (s *CLISchedd) Submit(ctx context.Context, d *submit.Description, count int) ([]model.JobAd, error) {
	if count < 1 {
		return nil, model.InvalidParameter("n", "must be >= 1, got %d", count)
	}

	args := append([]string{"-terse"}, s.locate()...)
	args = append(args, "-")
	out, err := s.run(ctx, strings.NewReader(d.Render(count)), "condor_submit", args...)
	if err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "condor_submit", err)
	}

	cluster, first, last, err := parseTerse(out)
	if err != nil {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "condor_submit", err)
	}
	if got := last - first + 1; got != count {
		return nil, model.NewOpError(model.ErrSubmissionFailed, "condor_submit",
			fmt.Errorf("queued %d jobs in cluster %d, want %d", got, cluster, count))
	}

	attrs := d.Attributes()
	entered := s.now().Unix()
	ads := make([]model.JobAd, 0, count)
	for proc := first; proc <= last; proc++ {
		ad := make(model.JobAd, len(attrs)+6)
		for k, v := range attrs {
			ad[k] = v
		}
		ad[model.AttrClusterID] = cluster
		ad[model.AttrProcID] = proc
		ad[model.AttrJobStatus] = int(model.JobStatusIdle)
		ad[model.AttrRequestMemory] = d.RequestMemory()
		ad[model.AttrRequestCpus] = d.RequestCpus()
		ad["EnteredCurrentStatus"] = entered
		ads = append(ads, ad)
	}
	s.logger.Debug("condor_submit", "cluster_id", cluster, "count", count)
	return ads, nil
}

// Query runs condor_q in JSON mode.
func (s *CLISchedd) Query(ctx context.Context, constraint string, projection []string) ([]model.JobAd, error) {
	args := append(s.locate(), "-constraint", constraint)
	if len(projection) > 0 {
		args = append(args, "-attributes", strings.Join(projection, ","))
	}
	args = append(args, "-json")

	out, err := s.run(ctx, nil, "condor_q", args...)
	if err != nil {
		return nil, model.NewOpError(model.ErrQueryFailure, "condor_q", err)
	}

	// An empty queue prints nothing at all.
	out = bytes.TrimSpace(out)
	if len(out) == 0 {
		return nil, nil
	}
	var ads []model.JobAd
	if err := json.Unmarshal(out, &ads); err != nil {
		return nil, model.NewOpError(model.ErrQueryFailure, "condor_q", fmt.Errorf("parse output: %w", err))
	}
	return ads, nil
}

// Remove runs condor_rm with a constraint.
func (s *CLISchedd) Remove(ctx context.Context, constraint string) error {
	args := append(s.locate(), "-constraint", constraint)
	if _, err := s.run(ctx, nil, "condor_rm", args...); err != nil {
		return model.NewOpError(model.ErrRemovalFailure, "condor_rm", err)
	}
	return nil
}

// Ping asks the schedd for its queue totals.
func (s *CLISchedd) Ping(ctx context.Context) error {
	args := append(s.locate(), "-totals")
	if _, err := s.run(ctx, nil, "condor_q", args...); err != nil {
		return model.NewOpError(model.ErrConnectionFailure, "condor_q", err)
	}
	return nil
}

func (s *CLISchedd) locate() []string {
	var args []string
	if s.cfg.ScheddName != "" {
		args = append(args, "-name", s.cfg.ScheddName)
	}
	if s.cfg.Pool != "" {
		args = append(args, "-pool", s.cfg.Pool)
	}
	return args
}

func (s *CLISchedd) run(ctx context.Context, stdin io.Reader, tool string, args ...string) ([]byte, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	name := tool
	if s.cfg.BinDir != "" {
		name = filepath.Join(s.cfg.BinDir, tool)
	}
	s.logger.Debug("exec", "tool", tool, "args", args)
	return s.runner.Run(ctx, stdin, name, args...)
}

// parseTerse reads condor_submit -terse output: "C.P - C.Q".
func parseTerse(out []byte) (cluster, first, last int, err error) {
	line := strings.TrimSpace(string(out))
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = strings.TrimSpace(line[:i])
	}
	lo, hi, ok := strings.Cut(line, " - ")
	if !ok {
		return 0, 0, 0, fmt.Errorf("unexpected condor_submit output %q", line)
	}
	c1, p1, err := model.ParseJobID(lo)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("unexpected condor_submit output %q", line)
	}
	c2, p2, err := model.ParseJobID(hi)
	if err != nil || c1 != c2 || p2 < p1 {
		return 0, 0, 0, fmt.Errorf("unexpected condor_submit output %q", line)
	}
	return c1, p1, p2, nil
}

var _ Schedd = (*CLISchedd)(nil)
