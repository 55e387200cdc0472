package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type checkerFunc func(ctx context.Context) error

func (f checkerFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

type countingObserver struct {
	healthy, unhealthy int
}

func (o *countingObserver) ObserveHealthCheck(healthy bool, elapsed time.Duration) {
	if healthy {
		o.healthy++
	} else {
		o.unhealthy++
	}
}

func TestReporter_Check(t *testing.T) {
	tests := []struct {
		name       string
		checker    Checker
		wantStatus string
		wantReason string
	}{
		{
			name:       "database reachable",
			checker:    checkerFunc(func(ctx context.Context) error { return nil }),
			wantStatus: StatusHealthy,
		},
		{
			name: "database unreachable",
			checker: checkerFunc(func(ctx context.Context) error {
				return errors.New("database health check failed: connection refused")
			}),
			wantStatus: StatusUnhealthy,
			wantReason: "database health check failed: connection refused",
		},
		{
			name:       "no database configured",
			checker:    nil,
			wantStatus: StatusUnhealthy,
			wantReason: "database not configured",
		},
		{
			name: "checker panics",
			checker: checkerFunc(func(ctx context.Context) error {
				panic("driver bug")
			}),
			wantStatus: StatusUnhealthy,
			wantReason: "health check panicked: driver bug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := NewReporter(tt.checker, time.Second, nil).Check(context.Background())

			assert.Equal(t, tt.wantStatus, status.Status)
			assert.Equal(t, tt.wantReason, status.Reason)
			assert.False(t, status.CheckedAt.IsZero())
		})
	}
}

func TestReporter_CheckIsBounded(t *testing.T) {
	hanging := checkerFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	started := time.Now()
	status := NewReporter(hanging, 20*time.Millisecond, nil).Check(context.Background())

	assert.False(t, status.Healthy())
	assert.Contains(t, status.Reason, "deadline exceeded")
	assert.Less(t, time.Since(started), 5*time.Second)
}

func TestReporter_Observer(t *testing.T) {
	observer := &countingObserver{}
	fail := true
	r := NewReporter(checkerFunc(func(ctx context.Context) error {
		if fail {
			return errors.New("down")
		}
		return nil
	}), 0, observer)

	r.Check(context.Background())
	fail = false
	r.Check(context.Background())

	assert.Equal(t, 1, observer.healthy)
	assert.Equal(t, 1, observer.unhealthy)
	assert.Equal(t, ProbeTimeout, r.timeout)
}

func TestProbeSchedule(t *testing.T) {
	assert.Equal(t, 30*time.Second, ProbeInterval)
	assert.Equal(t, 10*time.Second, ProbeTimeout)
	assert.Equal(t, 3, ProbeRetries)
	assert.Equal(t, 5*time.Second, ProbeStartPeriod)
}
