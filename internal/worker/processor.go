package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
	"github.com/leadflowx/scoring-job/internal/worker/scoring"
)

// processItem scores one claimed item and commits the outcome. The returned
// error is non-nil only when the cycle must stop.
func (r *Runner) processItem(ctx context.Context, runID string, weights scoring.Weights, item domain.WorkItem) (string, error) {
	started := r.now()

	lead, err := r.validator.Decode(item.ID, item.Payload)
	if err != nil {
		return r.recordFailure(ctx, item, started, err)
	}

	score := scoring.Score(lead, weights)

	err = r.store.CompleteItem(ctx, item, r.workerID, runID, score)
	switch {
	case err == nil:
		r.logger.Info("Lead scored",
			slog.Int64("item_id", item.ID),
			slog.Int64("lead_id", item.LeadID),
			slog.String("email", lead.Email),
			slog.Int("score", score.Total),
		)
		r.metrics.ObserveItem(OutcomeProcessed, r.now().Sub(started))
		return OutcomeProcessed, nil

	case errors.Is(err, domain.ErrItemNotClaimed):
		r.logger.Warn("Work item no longer claimed, skipping",
			slog.Int64("item_id", item.ID),
			slog.String("worker_id", r.workerID),
		)
		r.metrics.ObserveItem(OutcomeSkipped, r.now().Sub(started))
		return OutcomeSkipped, nil

	case fatal(err):
		return "", err
	}

	// Rejected statements only affect this item
	return r.recordFailure(ctx, item, started, err)
}

func (r *Runner) recordFailure(ctx context.Context, item domain.WorkItem, started time.Time, cause error) (string, error) {
	reason := cause.Error()
	var compErr *domain.ComputationError
	if errors.As(cause, &compErr) {
		reason = compErr.Reason
		if compErr.Err != nil {
			reason += ": " + compErr.Err.Error()
		}
	}

	r.logger.Error("Failed to score lead",
		slog.Int64("item_id", item.ID),
		slog.Int64("lead_id", item.LeadID),
		slog.Int("attempt", item.Attempts),
		slog.String("reason", reason),
	)

	err := r.store.FailItem(ctx, item.ID, r.workerID, reason)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrItemNotClaimed):
		r.metrics.ObserveItem(OutcomeSkipped, r.now().Sub(started))
		return OutcomeSkipped, nil
	case fatal(err):
		return "", err
	default:
		// The item stays in progress and is picked up by the stale claim policy
		r.logger.Error("Failed to record work item failure",
			slog.Int64("item_id", item.ID),
			slog.Any("error", err),
		)
	}

	r.metrics.ObserveItem(OutcomeFailed, r.now().Sub(started))
	return OutcomeFailed, nil
}
