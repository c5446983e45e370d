package cluster

import (
	"context"
	"sync"

	"github.com/me/daskcondor/internal/condor"
)

// live holds every controller that has not been closed, so that jobs are
// not left behind when the process exits without closing them.
var live = struct {
	mu          sync.Mutex
	controllers map[*Controller]struct{}
}{controllers: make(map[*Controller]struct{})}

func register(c *Controller) {
	live.mu.Lock()
	defer live.mu.Unlock()
	live.controllers[c] = struct{}{}
}

func unregister(c *Controller) {
	live.mu.Lock()
	defer live.mu.Unlock()
	delete(live.controllers, c)
}

// Live returns the number of controllers not yet closed.
func Live() int {
	live.mu.Lock()
	defer live.mu.Unlock()
	return len(live.controllers)
}

// Shutdown removes the jobs of every live controller. It is meant for
// process exit and does not close the controllers; errors are logged.
func Shutdown(ctx context.Context) {
	live.mu.Lock()
	type target struct {
		c     *Controller
		sched condor.Schedd
		owner string
	}
	targets := make([]target, 0, len(live.controllers))
	for c := range live.controllers {
		targets = append(targets, target{c: c, sched: c.schedd, owner: c.owner})
	}
	live.mu.Unlock()

	for _, t := range targets {
		t.c.logger.Warn("removing workers at exit", "constraint", t.owner)
		if err := t.sched.Remove(ctx, t.owner); err != nil {
			t.c.logger.Error("remove workers at exit failed", "constraint", t.owner, "error", err)
		}
	}
}
