package postgresql

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"
)

// RetryPolicy bounds how connectivity failures are retried
type RetryPolicy struct {
	Attempts    int
	Interval    time.Duration
	Multiplier  float64
	MaxInterval time.Duration
}

// Delay returns the wait before the given retry (1 = first retry)
func (p RetryPolicy) Delay(retry int) time.Duration {
	if retry < 1 || p.Interval <= 0 {
		return 0
	}

	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := time.Duration(float64(p.Interval) * math.Pow(mult, float64(retry-1)))
	if p.MaxInterval > 0 && delay > p.MaxInterval {
		delay = p.MaxInterval
	}
	return delay
}

// Retry runs fn until it succeeds, returns a non-connectivity error, or the
// policy's attempts are used up. Waiting between attempts stops early when
// ctx ends.
func Retry(ctx context.Context, policy RetryPolicy, logger *slog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var connErr *ConnectivityError
	for attempt := 1; attempt <= attempts; attempt++ {
		err := classify(op, fn(ctx))
		if err == nil {
			if attempt > 1 {
				logger.Info("Database operation succeeded after retry",
					slog.String("op", op),
					slog.Int("attempt", attempt),
				)
			}
			return nil
		}

		var commitErr *commitError
		if errors.As(err, &commitErr) {
			if IsConnectivity(commitErr.err) {
				asConnectivity(commitErr.err).Attempts = attempt
				logger.Error("Connection lost during commit, transaction outcome unknown",
					slog.String("op", op),
					slog.Any("error", commitErr.err),
				)
			}
			return commitErr.err
		}

		if !IsConnectivity(err) {
			return err
		}

		connErr = asConnectivity(err)
		connErr.Attempts = attempt

		if attempt == attempts {
			break
		}

		delay := policy.Delay(attempt)
		logger.Warn("Database unreachable, retrying...",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
			slog.Duration("retry_after", delay),
			slog.Any("error", connErr.Err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return connErr
		case <-timer.C:
		}
	}

	logger.Error("Database unreachable after all retries",
		slog.String("op", op),
		slog.Int("attempts", connErr.Attempts),
		slog.Any("error", connErr.Err),
	)
	return connErr
}

// commitError marks a failed commit so Retry returns it without another
// attempt
type commitError struct {
	err error
}

func (e *commitError) Error() string {
	return e.err.Error()
}

func (e *commitError) Unwrap() error {
	return e.err
}

func asConnectivity(err error) *ConnectivityError {
	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return connErr
	}
	return &ConnectivityError{Op: "unknown", Err: err}
}
