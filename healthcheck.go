package race

import (
	"context"
	"fmt"

	"github.com/racecore/race/health"
)

// workerChecker adapts one admitted Worker into a health.HealthChecker: it
// is critical once the worker has terminated (a restart budget exhausted
// or Stop called unexpectedly) and healthy otherwise. The System itself
// decides liveness from heartbeat timeouts (see heartbeatLoop); this
// checker only reports lifecycle state for the /healthz surface.
type workerChecker struct {
	name string
	sys  *System
}

func (c *workerChecker) Name() string        { return c.name }
func (c *workerChecker) Description() string { return fmt.Sprintf("worker %s lifecycle state", c.name) }

func (c *workerChecker) Check(ctx context.Context) (*health.CheckResult, error) {
	w, ok := c.sys.Worker(c.name)
	if !ok {
		return &health.CheckResult{Name: c.name, Status: health.StatusUnknown, Message: "not admitted"}, nil
	}
	status := health.StatusHealthy
	msg := w.State().String()
	if w.State() == Terminated {
		status = health.StatusCritical
	}
	return &health.CheckResult{Name: c.name, Status: status, Message: msg}, nil
}

// RegisterHealthChecks adds one readiness-affecting checker per worker
// currently admitted to sys into agg. Call after every worker has been
// Admit'd and before System.Start, so the ops surface reflects the full
// worker set from the first check.
func (s *System) RegisterHealthChecks(agg *health.Aggregator) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name := range s.workers {
		_ = agg.RegisterTypedCheck(context.Background(), &workerChecker{name: name, sys: s}, health.CheckTypeReadiness)
	}
}
