package submit

import (
	"errors"
	"strings"
	"testing"

	"github.com/me/daskcondor/pkg/model"
)

func validParams() Params {
	return Params{
		MemoryMB:         1024,
		Procs:            1,
		Threads:          1,
		IdleTimeout:      86400,
		SchedulerAddress: "tcp://10.0.0.1:8786",
		SchedulerID:      "Scheduler-abc",
	}
}

func TestRequestCpus(t *testing.T) {
	tests := []struct {
		procs, threads, want int
	}{
		{1, 1, 1},
		{1, 4, 4},
		{2, 1, 3},
		{2, 4, 9},
		{8, 2, 17},
	}
	for _, tt := range tests {
		if got := RequestCpus(tt.procs, tt.threads); got != tt.want {
			t.Errorf("RequestCpus(%d, %d) = %d, want %d", tt.procs, tt.threads, got, tt.want)
		}
	}
}

func TestBuild_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Params)
	}{
		{"zero memory", func(p *Params) { p.MemoryMB = 0 }},
		{"negative procs", func(p *Params) { p.Procs = -1 }},
		{"zero threads", func(p *Params) { p.Threads = 0 }},
		{"zero timeout", func(p *Params) { p.IdleTimeout = 0 }},
		{"no address", func(p *Params) { p.SchedulerAddress = "" }},
		{"no scheduler id", func(p *Params) { p.SchedulerID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validParams()
			tt.mutate(&p)
			d, err := Build(p)
			if !errors.Is(err, model.ErrInvalidParameter) {
				t.Fatalf("Build error = %v, want ErrInvalidParameter", err)
			}
			if d != nil {
				t.Error("expected nil description on error")
			}
		})
	}
}

func TestBuild_SingleProcessWorker(t *testing.T) {
	d, err := Build(validParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	want := map[string]string{
		"Executable":           DefaultExecutable,
		"Universe":             "vanilla",
		"RequestMemory":        "1024",
		"RequestCpus":          "1",
		"MY.DaskSchedulerId":   `"Scheduler-abc"`,
		"MY.DaskNProcs":        "1",
		"MY.DaskNThreads":      "1",
		"MY.DaskWorkerTimeout": "86400",
		"MY.DaskWorkerName":    `"htcondor-$(ClusterId).$(ProcId)"`,
		"Periodic_Hold_Reason": `"dask-worker exceeded max lifetime of 1+00:00:00"`,
	}
	for k, v := range want {
		got, ok := d.Get(k)
		if !ok {
			t.Errorf("%s missing", k)
			continue
		}
		if got != v {
			t.Errorf("%s = %s, want %s", k, got, v)
		}
	}

	args, _ := d.Get("arguments")
	for _, frag := range []string{
		"tcp://10.0.0.1:8786",
		"--nprocs=1",
		"--nthreads=1",
		"--memory-limit=805306368",
		"--no-nanny",
		"--name=htcondor-$(ClusterId).$(ProcId)",
	} {
		if !strings.Contains(args, frag) {
			t.Errorf("Arguments %s missing %q", args, frag)
		}
	}
	if !strings.HasPrefix(args, `"`) || !strings.HasSuffix(args, `"`) {
		t.Errorf("Arguments not in new-style quoting: %s", args)
	}
}

func TestBuild_MultiProcessWorker(t *testing.T) {
	p := validParams()
	p.MemoryMB = 2048
	p.Procs = 2
	p.Threads = 4

	d, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if got := d.RequestCpus(); got != 9 {
		t.Errorf("RequestCpus = %d, want 9", got)
	}
	if got := d.RequestMemory(); got != 2048 {
		t.Errorf("RequestMemory = %d, want 2048", got)
	}
	if _, ok := d.Get("MY.DaskWorkerName"); ok {
		t.Error("DaskWorkerName must not be set when procs >= 2")
	}
	if _, ok := d.Attributes()["DaskWorkerName"]; ok {
		t.Error("DaskWorkerName attribute must not be present when procs >= 2")
	}
	args, _ := d.Get("Arguments")
	if strings.Contains(args, "--no-nanny") || strings.Contains(args, "--name=") {
		t.Errorf("multi-process worker args should not carry --no-nanny/--name: %s", args)
	}
}

func TestBuild_ExtraOverrides(t *testing.T) {
	p := validParams()
	p.Extra = map[string]string{
		"requestcpus":      "1",
		"+AccountingGroup": `"group_dask"`,
		"Requirements":     "(OpSys == \"LINUX\")",
	}
	d, err := Build(p)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if got := d.RequestCpus(); got != 1 {
		t.Errorf("RequestCpus = %d, want override 1", got)
	}
	count := 0
	for _, k := range d.Keys() {
		if strings.EqualFold(k, "RequestCpus") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("RequestCpus appears %d times, want 1", count)
	}
	if v, _ := d.Get("Requirements"); v != `(OpSys == "LINUX")` {
		t.Errorf("Requirements = %s", v)
	}
	if got := d.Attributes()["AccountingGroup"]; got != "group_dask" {
		t.Errorf("AccountingGroup attribute = %v", got)
	}
}

func TestRender(t *testing.T) {
	d, err := Build(validParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := d.Render(3)
	if !strings.HasPrefix(out, "Executable = /usr/bin/dask-worker\n") {
		t.Errorf("unexpected first line:\n%s", out)
	}
	if !strings.HasSuffix(out, "queue 3\n") {
		t.Errorf("render should end with queue 3:\n%s", out)
	}
}

func TestFormatInterval(t *testing.T) {
	tests := []struct {
		secs int
		want string
	}{
		{1, "00:00:01"},
		{3661, "01:01:01"},
		{86400, "1+00:00:00"},
		{2*86400 + 59, "2+00:00:59"},
	}
	for _, tt := range tests {
		if got := FormatInterval(tt.secs); got != tt.want {
			t.Errorf("FormatInterval(%d) = %q, want %q", tt.secs, got, tt.want)
		}
	}
}

func TestAttributes(t *testing.T) {
	d, err := Build(validParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	attrs := d.Attributes()
	if attrs["DaskSchedulerId"] != "Scheduler-abc" {
		t.Errorf("DaskSchedulerId = %v", attrs["DaskSchedulerId"])
	}
	if attrs["DaskNProcs"] != int64(1) {
		t.Errorf("DaskNProcs = %#v", attrs["DaskNProcs"])
	}
}
