package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
	"github.com/leadflowx/scoring-job/internal/worker/scoring"
	"github.com/leadflowx/scoring-job/shared/postgresql"
)

// Store is the persistence the runner needs. *storage.Storage implements it.
type Store interface {
	ClaimItems(ctx context.Context, workerID string, limit int) ([]domain.WorkItem, error)
	CompleteItem(ctx context.Context, item domain.WorkItem, workerID, runID string, score domain.Score) error
	FailItem(ctx context.Context, itemID int64, workerID, reason string) error
	ReleaseItems(ctx context.Context, itemIDs []int64, workerID string) (int64, error)
	ReclaimStale(ctx context.Context, claimTimeout time.Duration) (requeued, expired int64, err error)
	EnqueueLeads(ctx context.Context, jobDate time.Time, maxAttempts int) (int64, error)
	LoadScoringConfig(ctx context.Context) (map[string]string, error)
	CreateRun(ctx context.Context, run domain.JobRun) error
	FinishRun(ctx context.Context, runID, status string, processed, failed int, errMsg string) error
	FailStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error)
	CleanupRuns(ctx context.Context, retention time.Duration) (int64, error)
}

// Publisher announces finished runs
type Publisher interface {
	PublishRunSummary(ctx context.Context, summary domain.Summary) error
}

// Recorder receives run and item outcomes for metrics
type Recorder interface {
	ObserveItem(outcome string, elapsed time.Duration)
	ObserveRun(status string, summary domain.Summary)
	AddReclaimed(requeued, expired int64)
}

// Item outcomes
const (
	OutcomeProcessed = "processed"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

const defaultReleaseTimeout = 10 * time.Second

// Config holds runner configuration
type Config struct {
	Logger          *slog.Logger
	Store           Store
	Validator       *scoring.Validator
	Publisher       Publisher
	Metrics         Recorder
	WorkerID        string
	BatchSize       int
	MaxAttempts     int
	PollInterval    time.Duration
	ClaimTimeout    time.Duration
	StaleRunTimeout time.Duration
	RunRetention    time.Duration
	ReleaseTimeout  time.Duration
	Location        *time.Location
	Now             func() time.Time
	// EnqueueLeads makes Drain and every Loop cycle enqueue today's leads
	// before claiming
	EnqueueLeads    bool
}

// Runner claims, scores and commits work items. It keeps no state between
// cycles; all coordination with other instances happens in the database.
type Runner struct {
	logger          *slog.Logger
	store           Store
	validator       *scoring.Validator
	publisher       Publisher
	metrics         Recorder
	workerID        string
	batchSize       int
	maxAttempts     int
	pollInterval    time.Duration
	claimTimeout    time.Duration
	staleRunTimeout time.Duration
	runRetention    time.Duration
	releaseTimeout  time.Duration
	location        *time.Location
	now             func() time.Time
	enqueueLeads    bool
}

// NewRunner creates a new runner instance
func NewRunner(cfg *Config) *Runner {
	r := &Runner{
		logger:          cfg.Logger,
		store:           cfg.Store,
		validator:       cfg.Validator,
		publisher:       cfg.Publisher,
		metrics:         cfg.Metrics,
		workerID:        cfg.WorkerID,
		batchSize:       cfg.BatchSize,
		maxAttempts:     cfg.MaxAttempts,
		pollInterval:    cfg.PollInterval,
		claimTimeout:    cfg.ClaimTimeout,
		staleRunTimeout: cfg.StaleRunTimeout,
		runRetention:    cfg.RunRetention,
		releaseTimeout:  cfg.ReleaseTimeout,
		location:        cfg.Location,
		now:             cfg.Now,
		enqueueLeads:    cfg.EnqueueLeads,
	}

	if r.workerID == "" {
		r.workerID = NewWorkerID()
	}
	if r.metrics == nil {
		r.metrics = nopRecorder{}
	}
	if r.releaseTimeout <= 0 {
		r.releaseTimeout = defaultReleaseTimeout
	}
	if r.location == nil {
		r.location = time.UTC
	}
	if r.now == nil {
		r.now = time.Now
	}

	return r
}

// NewWorkerID returns "<hostname>-<random>" so claims stay traceable to a
// container while two processes on one host never share an identity
func NewWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "scorer"
	}
	return host + "-" + uuid.NewString()[:8]
}

// WorkerID returns the identity written into claimed items
func (r *Runner) WorkerID() string {
	return r.workerID
}

func (r *Runner) jobDate(t time.Time) time.Time {
	local := t.In(r.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, r.location)
}

// RunOnce executes one claim, score and commit cycle. Domain and query
// failures of single items are recorded on the items and do not fail the
// cycle. A connectivity failure that outlived the gateway's retries, or
// cancellation of ctx, ends the cycle early with the remaining claimed items
// released back to pending.
func (r *Runner) RunOnce(ctx context.Context) (domain.Summary, error) {
	start := r.now()
	summary := domain.Summary{
		RunID:    uuid.NewString(),
		WorkerID: r.workerID,
		JobDate:  r.jobDate(start).Format(time.DateOnly),
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}

	if err := r.housekeeping(ctx, &summary); err != nil {
		return summary, err
	}

	err := r.store.CreateRun(ctx, domain.JobRun{
		ID:        summary.RunID,
		JobDate:   r.jobDate(start),
		WorkerID:  r.workerID,
		Status:    domain.RunStatusRunning,
		StartTime: start,
	})
	if err != nil {
		return summary, fmt.Errorf("failed to start job run: %w", err)
	}

	r.logger.Info("Starting scoring run",
		slog.String("run_id", summary.RunID),
		slog.String("worker_id", r.workerID),
		slog.String("job_date", summary.JobDate),
		slog.Int("batch_size", r.batchSize),
	)

	weights, err := r.loadWeights(ctx)
	if err != nil {
		return r.abort(ctx, &summary, start, nil, err)
	}

	items, err := r.store.ClaimItems(ctx, r.workerID, r.batchSize)
	if err != nil {
		return r.abort(ctx, &summary, start, nil, err)
	}
	summary.Claimed = len(items)

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return r.abort(ctx, &summary, start, items[i:], err)
		}

		outcome, err := r.processItem(ctx, summary.RunID, weights, item)
		if err != nil {
			return r.abort(ctx, &summary, start, items[i:], err)
		}

		switch outcome {
		case OutcomeProcessed:
			summary.Processed++
		case OutcomeFailed:
			summary.Failed++
		case OutcomeSkipped:
			summary.Skipped++
		}
	}

	summary.Duration = r.now().Sub(start)

	if err := r.store.FinishRun(ctx, summary.RunID, domain.RunStatusCompleted, summary.Processed, summary.Failed, ""); err != nil {
		if postgresql.IsConnectivity(err) {
			return summary, fmt.Errorf("failed to finish job run: %w", err)
		}
		r.logger.Error("Failed to record job run result",
			slog.String("run_id", summary.RunID),
			slog.Any("error", err),
		)
	}

	if _, err := r.store.CleanupRuns(ctx, r.runRetention); err != nil {
		r.logger.Warn("Failed to clean up old job runs",
			slog.Any("error", err),
		)
	}

	r.metrics.ObserveRun(domain.RunStatusCompleted, summary)
	r.publish(ctx, summary)

	r.logger.Info("Scoring run completed",
		slog.String("run_id", summary.RunID),
		slog.Int("claimed", summary.Claimed),
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
		slog.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// housekeeping fails abandoned runs and applies the stale claim policy.
// Only connectivity failures are fatal here.
func (r *Runner) housekeeping(ctx context.Context, summary *domain.Summary) error {
	if _, err := r.store.FailStaleRuns(ctx, r.staleRunTimeout); err != nil {
		if fatal(err) {
			return err
		}
		r.logger.Warn("Failed to mark stale job runs",
			slog.Any("error", err),
		)
	}

	requeued, expired, err := r.store.ReclaimStale(ctx, r.claimTimeout)
	if err != nil {
		if fatal(err) {
			return err
		}
		r.logger.Warn("Failed to reclaim stale work items",
			slog.Any("error", err),
		)
		return nil
	}

	summary.Reclaimed = requeued + expired
	r.metrics.AddReclaimed(requeued, expired)
	return nil
}

// loadWeights reads weight overrides. A missing or broken config table
// falls back to the default weights.
func (r *Runner) loadWeights(ctx context.Context) (scoring.Weights, error) {
	weights := scoring.DefaultWeights()

	rows, err := r.store.LoadScoringConfig(ctx)
	if err != nil {
		if fatal(err) {
			return weights, err
		}
		r.logger.Warn("Using default scoring weights",
			slog.Any("error", err),
		)
		return weights, nil
	}

	for _, rejected := range weights.ApplyOverrides(rows) {
		r.logger.Warn("Ignoring scoring config value",
			slog.String("key", rejected.Key),
			slog.String("value", rejected.Value),
			slog.String("reason", rejected.Reason),
		)
	}

	return weights, nil
}

// abort releases the unprocessed items, marks the run failed and returns
// cause. Cleanup uses a context detached from ctx so it still runs after
// cancellation.
func (r *Runner) abort(ctx context.Context, summary *domain.Summary, start time.Time, remaining []domain.WorkItem, cause error) (domain.Summary, error) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.releaseTimeout)
	defer cancel()

	if len(remaining) > 0 {
		ids := make([]int64, len(remaining))
		for i, item := range remaining {
			ids[i] = item.ID
		}

		released, err := r.store.ReleaseItems(cleanupCtx, ids, r.workerID)
		if err != nil {
			r.logger.Error("Failed to release claimed work items",
				slog.Int("count", len(ids)),
				slog.Any("error", err),
			)
		}
		summary.Released = int(released)
	}

	summary.Duration = r.now().Sub(start)

	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		reason = "run interrupted before completion"
	}
	if err := r.store.FinishRun(cleanupCtx, summary.RunID, domain.RunStatusFailed, summary.Processed, summary.Failed, reason); err != nil {
		r.logger.Error("Failed to mark job run as failed",
			slog.String("run_id", summary.RunID),
			slog.Any("error", err),
		)
	}

	r.metrics.ObserveRun(domain.RunStatusFailed, *summary)

	r.logger.Error("Scoring run aborted",
		slog.String("run_id", summary.RunID),
		slog.Int("processed", summary.Processed),
		slog.Int("failed", summary.Failed),
		slog.Int("released", summary.Released),
		slog.Any("error", cause),
	)

	return *summary, cause
}

func (r *Runner) publish(ctx context.Context, summary domain.Summary) {
	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishRunSummary(ctx, summary); err != nil {
		r.logger.Warn("Failed to publish run summary",
			slog.String("run_id", summary.RunID),
			slog.Any("error", err),
		)
	}
}

// Loop runs a cycle every poll interval until ctx ends. It returns nil on
// cancellation and the error of the first fatal cycle otherwise.
func (r *Runner) Loop(ctx context.Context) error {
	r.logger.Info("Starting scoring loop",
		slog.String("worker_id", r.workerID),
		slog.Duration("poll_interval", r.pollInterval),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if err := r.enqueueToday(ctx); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("Scoring loop stopped")
				return nil
			}
			return err
		}

		if _, err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				r.logger.Info("Scoring loop stopped")
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			r.logger.Info("Scoring loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Drain scores the whole backlog: it enqueues today's leads when enabled,
// then repeats cycles until one claims nothing or fails. The returned summary
// sums the counters of all cycles.
func (r *Runner) Drain(ctx context.Context) (domain.Summary, error) {
	start := r.now()
	total := domain.Summary{
		WorkerID: r.workerID,
		JobDate:  r.jobDate(start).Format(time.DateOnly),
	}

	if err := r.enqueueToday(ctx); err != nil {
		return total, err
	}

	cycles := 0
	for {
		summary, err := r.RunOnce(ctx)
		cycles++

		total.RunID = summary.RunID
		total.Claimed += summary.Claimed
		total.Processed += summary.Processed
		total.Failed += summary.Failed
		total.Skipped += summary.Skipped
		total.Released += summary.Released
		total.Reclaimed += summary.Reclaimed
		total.Duration = r.now().Sub(start)

		if err != nil {
			return total, err
		}
		if summary.Claimed == 0 {
			break
		}
	}

	r.logger.Info("Backlog drained",
		slog.String("worker_id", r.workerID),
		slog.Int("cycles", cycles),
		slog.Int("processed", total.Processed),
		slog.Int("failed", total.Failed),
		slog.Int("skipped", total.Skipped),
		slog.Duration("duration", total.Duration),
	)

	return total, nil
}

// Enqueue creates pending work items for today's unscored leads
func (r *Runner) Enqueue(ctx context.Context) (int64, error) {
	n, err := r.store.EnqueueLeads(ctx, r.jobDate(r.now()), r.maxAttempts)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// enqueueToday runs Enqueue when enabled. Only connectivity failures are
// fatal; the existing backlog is scored either way.
func (r *Runner) enqueueToday(ctx context.Context) error {
	if !r.enqueueLeads {
		return nil
	}

	n, err := r.Enqueue(ctx)
	if err != nil {
		if fatal(err) {
			return err
		}
		r.logger.Warn("Failed to enqueue leads",
			slog.Any("error", err),
		)
		return nil
	}

	if n > 0 {
		r.logger.Info("Leads enqueued",
			slog.Int64("count", n),
		)
	}
	return nil
}

// fatal reports whether err must end the cycle
func fatal(err error) bool {
	return postgresql.IsConnectivity(err) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

type nopRecorder struct{}

func (nopRecorder) ObserveItem(string, time.Duration)  {}
func (nopRecorder) ObserveRun(string, domain.Summary) {}
func (nopRecorder) AddReclaimed(int64, int64)         {}
