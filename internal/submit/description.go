// Package submit builds HTCondor submit descriptions for Dask worker jobs.
package submit

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/me/daskcondor/internal/classad"
	"github.com/me/daskcondor/pkg/model"
)

// DefaultExecutable is the dask-worker entry point on execute nodes.
const DefaultExecutable = "/usr/bin/dask-worker"

// memoryLimitFraction of RequestMemory is handed to the worker as its own
// memory limit, leaving headroom before the startd's accounting kicks in.
const memoryLimitFraction = 0.75

// Params are the inputs to Build. IdleTimeout is in seconds.
type Params struct {
	Executable       string
	MemoryMB         int
	Procs            int
	Threads          int
	IdleTimeout      int
	SchedulerAddress string
	SchedulerID      string

	// Extra submit commands merged last and verbatim. They are not checked.
	Extra map[string]string
}

// Validate checks every parameter against its minimum.
func (p Params) Validate() error {
	switch {
	case p.MemoryMB < 1:
		return model.InvalidParameter("memory_per_worker", "must be >= 1 (MB), got %d", p.MemoryMB)
	case p.Procs < 1:
		return model.InvalidParameter("procs_per_worker", "must be >= 1, got %d", p.Procs)
	case p.Threads < 1:
		return model.InvalidParameter("threads_per_worker", "must be >= 1, got %d", p.Threads)
	case p.IdleTimeout < 1:
		return model.InvalidParameter("worker_timeout", "must be >= 1 (sec), got %d", p.IdleTimeout)
	case p.SchedulerAddress == "":
		return model.InvalidParameter("scheduler_address", "is required")
	case p.SchedulerID == "":
		return model.InvalidParameter("scheduler_id", "is required")
	}
	return nil
}

// RequestCpus is one core per thread, plus one for the nanny when a worker
// runs more than one process.
func RequestCpus(procs, threads int) int {
	if procs < 2 {
		return threads
	}
	return 1 + procs*threads
}

// MemoryLimit is the --memory-limit, in bytes, passed to each worker.
func MemoryLimit(memoryMB int) int64 {
	return int64(math.Floor(float64(memoryMB) * 1048576 * memoryLimitFraction))
}

type command struct {
	key   string
	value string
}

// Description is an immutable submit description.
type Description struct {
	params   Params
	commands []command
}

// Build validates p and assembles the submit description.
func Build(p Params) (*Description, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Executable == "" {
		p.Executable = DefaultExecutable
	}

	d := &Description{params: p}
	cpus := RequestCpus(p.Procs, p.Threads)

	d.set("Executable", p.Executable)
	d.set("Universe", "vanilla")
	d.set("Output", "worker-$(ClusterId).$(ProcId).out")
	d.set("Error", "worker-$(ClusterId).$(ProcId).err")
	d.set("Log", "worker-$(ClusterId).$(ProcId).log")
	d.set("Arguments", arguments(p))
	d.set("RequestMemory", strconv.Itoa(p.MemoryMB))
	d.set("RequestCpus", strconv.Itoa(cpus))
	d.set("MY.DaskSchedulerAddress", classad.Quote(p.SchedulerAddress))
	d.set("MY.DaskSchedulerId", classad.Quote(p.SchedulerID))
	d.set("MY.DaskNProcs", strconv.Itoa(p.Procs))
	d.set("MY.DaskNThreads", strconv.Itoa(p.Threads))
	d.set("MY.DaskWorkerTimeout", strconv.Itoa(p.IdleTimeout))
	if p.Procs == 1 {
		// A multi-process worker has no single deterministic name.
		d.set("MY.DaskWorkerName", classad.Quote(workerName))
	}
	d.set("Periodic_Hold", "((time() - EnteredCurrentStatus) > MY.DaskWorkerTimeout) && (JobStatus == 2)")
	d.set("Periodic_Hold_Reason", classad.Quote("dask-worker exceeded max lifetime of "+FormatInterval(p.IdleTimeout)))

	for _, k := range sortedKeys(p.Extra) {
		d.set(k, p.Extra[k])
	}
	return d, nil
}

const workerName = "htcondor-$(ClusterId).$(ProcId)"

func arguments(p Params) string {
	args := []string{
		p.SchedulerAddress,
		"--nprocs=" + strconv.Itoa(p.Procs),
		"--nthreads=" + strconv.Itoa(p.Threads),
		"--no-bokeh",
		"--memory-limit=" + strconv.FormatInt(MemoryLimit(p.MemoryMB), 10),
	}
	if p.Procs < 2 {
		args = append(args, "--no-nanny", "--name="+workerName)
	}
	// New-style argument syntax: the whole list is double-quoted and any
	// embedded double quote is doubled.
	return `"` + strings.ReplaceAll(strings.Join(args, " "), `"`, `""`) + `"`
}

// set replaces a command whose key matches case-insensitively, or appends it.
func (d *Description) set(key, value string) {
	for i := range d.commands {
		if strings.EqualFold(d.commands[i].key, key) {
			d.commands[i].value = value
			return
		}
	}
	d.commands = append(d.commands, command{key: key, value: value})
}

// Get returns the value of a submit command, matching the key case-insensitively.
func (d *Description) Get(key string) (string, bool) {
	for _, c := range d.commands {
		if strings.EqualFold(c.key, key) {
			return c.value, true
		}
	}
	return "", false
}

// Keys returns the submit command keys in render order.
func (d *Description) Keys() []string {
	keys := make([]string, len(d.commands))
	for i, c := range d.commands {
		keys[i] = c.key
	}
	return keys
}

// Params returns the parameters the description was built from.
func (d *Description) Params() Params {
	return d.params
}

// RequestMemory is the effective RequestMemory in MB, honouring overrides.
func (d *Description) RequestMemory() int {
	return d.intValue("RequestMemory", d.params.MemoryMB)
}

// RequestCpus is the effective RequestCpus, honouring overrides.
func (d *Description) RequestCpus() int {
	return d.intValue("RequestCpus", RequestCpus(d.params.Procs, d.params.Threads))
}

func (d *Description) intValue(key string, fallback int) int {
	v, ok := d.Get(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// Attributes returns the custom job attributes set by MY.* (or +) commands,
// with the prefix stripped and literal values decoded.
func (d *Description) Attributes() model.JobAd {
	attrs := make(model.JobAd)
	for _, c := range d.commands {
		name, ok := cutPrefixFold(c.key, "MY.")
		if !ok {
			name, ok = cutPrefixFold(c.key, "+")
		}
		if !ok {
			continue
		}
		attrs[name] = classad.ParseLiteral(c.value)
	}
	return attrs
}

// Render produces the submit file text, queueing count jobs in one cluster.
func (d *Description) Render(count int) string {
	var b strings.Builder
	for _, c := range d.commands {
		fmt.Fprintf(&b, "%s = %s\n", c.key, c.value)
	}
	fmt.Fprintf(&b, "queue %d\n", count)
	return b.String()
}

// FormatInterval renders seconds the way the ClassAd interval() function
// does: [D+]HH:MM:SS.
func FormatInterval(seconds int) string {
	days := seconds / 86400
	rem := seconds % 86400
	hms := fmt.Sprintf("%02d:%02d:%02d", rem/3600, rem%3600/60, rem%60)
	if days > 0 {
		return fmt.Sprintf("%d+%s", days, hms)
	}
	return hms
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) > len(prefix) && strings.EqualFold(s[:len(prefix)], prefix) {
		return s[len(prefix):], true
	}
	return s, false
}
