// Package health reports whether the database is reachable. It is queried by
// the container supervisor and never by the runner.
package health

import (
	"context"
	"fmt"
	"time"
)

// Supervisor probe schedule. Orchestrator configuration must use these.
const (
	ProbeInterval    = 30 * time.Second
	ProbeTimeout     = 10 * time.Second
	ProbeRetries     = 3
	ProbeStartPeriod = 5 * time.Second
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Checker performs one database round trip
type Checker interface {
	HealthCheck(ctx context.Context) error
}

// Observer is told about every probe
type Observer interface {
	ObserveHealthCheck(healthy bool, elapsed time.Duration)
}

// Status is the outcome of one probe. It is never persisted.
type Status struct {
	Status    string        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	CheckedAt time.Time     `json:"checked_at"`
	Latency   time.Duration `json:"latency_ns"`
}

// Healthy reports whether the probe succeeded
func (s Status) Healthy() bool {
	return s.Status == StatusHealthy
}

// Reporter runs bounded health probes
type Reporter struct {
	checker  Checker
	timeout  time.Duration
	observer Observer
	now      func() time.Time
}

// NewReporter creates a reporter. A non-positive timeout uses ProbeTimeout.
func NewReporter(checker Checker, timeout time.Duration, observer Observer) *Reporter {
	if timeout <= 0 {
		timeout = ProbeTimeout
	}
	return &Reporter{
		checker:  checker,
		timeout:  timeout,
		observer: observer,
		now:      time.Now,
	}
}

// Check probes the database once within the reporter timeout. Failures are
// reported in the returned Status, never as an error.
func (r *Reporter) Check(ctx context.Context) Status {
	started := r.now()
	status := Status{Status: StatusHealthy, CheckedAt: started.UTC()}

	if r.checker == nil {
		status.Status = StatusUnhealthy
		status.Reason = "database not configured"
		return status
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.check(probeCtx); err != nil {
		status.Status = StatusUnhealthy
		status.Reason = err.Error()
	}
	status.Latency = r.now().Sub(started)

	if r.observer != nil {
		r.observer.ObserveHealthCheck(status.Healthy(), status.Latency)
	}

	return status
}

func (r *Reporter) check(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("health check panicked: %v", rec)
		}
	}()
	return r.checker.HealthCheck(ctx)
}
