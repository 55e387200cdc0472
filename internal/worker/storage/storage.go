package storage

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
	"github.com/leadflowx/scoring-job/shared/postgresql"
)

//go:embed schema.sql
var schemaSQL string

// Schema returns the DDL applied by ApplySchema
func Schema() string {
	return schemaSQL
}

// Storage handles all database operations for the worker
type Storage struct {
	client *postgresql.Client
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(client *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		client: client,
		logger: logger,
	}
}

// ApplySchema creates the worker tables when they do not exist
func (s *Storage) ApplySchema(ctx context.Context) error {
	if _, err := s.client.Exec(ctx, "migrate", schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	s.logger.Info("Database schema applied")
	return nil
}

// ClaimItems moves up to limit pending items to in_progress for workerID.
// Rows locked by a concurrent claimer are skipped, so two workers never
// receive the same item.
func (s *Storage) ClaimItems(ctx context.Context, workerID string, limit int) ([]domain.WorkItem, error) {
	query := `
		UPDATE scoring_work_items
		SET status = $1,
		    worker_id = $2,
		    claimed_at = NOW(),
		    attempts = attempts + 1,
		    updated_at = NOW()
		WHERE id IN (
			SELECT id
			FROM scoring_work_items
			WHERE status = $3
			ORDER BY id
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, lead_id, payload, status, worker_id, attempts, max_attempts,
		          COALESCE(error_message, '') AS error_message, claimed_at
	`

	var items []domain.WorkItem
	err := s.client.WithTx(ctx, "claim", func(tx *sqlx.Tx) error {
		items = items[:0]
		return tx.SelectContext(ctx, &items, query,
			domain.ItemStatusInProgress, workerID, domain.ItemStatusPending, limit)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim work items: %w", err)
	}

	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	if len(items) > 0 {
		s.logger.Info("Work items claimed",
			slog.String("worker_id", workerID),
			slog.Int("count", len(items)),
			slog.Int64("first_id", items[0].ID),
			slog.Int64("last_id", items[len(items)-1].ID),
		)
	}

	return items, nil
}

// CompleteItem writes the result record and marks the item completed in one
// transaction. It returns domain.ErrItemNotClaimed when the item is no longer
// in progress for workerID; nothing is written in that case.
func (s *Storage) CompleteItem(ctx context.Context, item domain.WorkItem, workerID, runID string, score domain.Score) error {
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to marshal score breakdown: %w", err)
	}

	insertResult := `
		INSERT INTO lead_scores (work_item_id, lead_id, score, breakdown, run_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (work_item_id) DO NOTHING
	`
	markCompleted := `
		UPDATE scoring_work_items
		SET status = $1,
		    completed_at = NOW(),
		    error_message = NULL,
		    updated_at = NOW()
		WHERE id = $2 AND status = $3 AND worker_id = $4
	`

	err = s.client.WithTx(ctx, "complete", func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, insertResult, item.ID, item.LeadID, score.Total, breakdown, runID); err != nil {
			return err
		}

		result, err := tx.ExecContext(ctx, markCompleted,
			domain.ItemStatusCompleted, item.ID, domain.ItemStatusInProgress, workerID)
		if err != nil {
			return err
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return domain.ErrItemNotClaimed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrItemNotClaimed) {
			return err
		}
		return fmt.Errorf("failed to complete work item %d: %w", item.ID, err)
	}

	return nil
}

// FailItem marks an in-progress item failed with reason
func (s *Storage) FailItem(ctx context.Context, itemID int64, workerID, reason string) error {
	query := `
		UPDATE scoring_work_items
		SET status = $1,
		    error_message = $2,
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3 AND status = $4 AND worker_id = $5
	`

	rows, err := s.client.Exec(ctx, "fail_item", query,
		domain.ItemStatusFailed, reason, itemID, domain.ItemStatusInProgress, workerID)
	if err != nil {
		return fmt.Errorf("failed to mark work item %d failed: %w", itemID, err)
	}
	if rows == 0 {
		return domain.ErrItemNotClaimed
	}

	return nil
}

// ReleaseItems returns claimed but unprocessed items to pending and gives
// back the attempt the claim consumed
func (s *Storage) ReleaseItems(ctx context.Context, itemIDs []int64, workerID string) (int64, error) {
	if len(itemIDs) == 0 {
		return 0, nil
	}

	query := `
		UPDATE scoring_work_items
		SET status = $1,
		    worker_id = NULL,
		    claimed_at = NULL,
		    attempts = GREATEST(attempts - 1, 0),
		    updated_at = NOW()
		WHERE id = ANY($2) AND status = $3 AND worker_id = $4
	`

	rows, err := s.client.Exec(ctx, "release", query,
		domain.ItemStatusPending, pq.Array(itemIDs), domain.ItemStatusInProgress, workerID)
	if err != nil {
		return 0, fmt.Errorf("failed to release work items: %w", err)
	}

	s.logger.Info("Work items released",
		slog.String("worker_id", workerID),
		slog.Int64("count", rows),
	)

	return rows, nil
}

// ReclaimStale applies the stale claim policy to items claimed longer than
// claimTimeout ago. Items with attempts left go back to pending, the rest
// fail.
func (s *Storage) ReclaimStale(ctx context.Context, claimTimeout time.Duration) (requeued, expired int64, err error) {
	expire := `
		UPDATE scoring_work_items
		SET status = $1,
		    error_message = 'claim expired after ' || attempts || ' attempts',
		    completed_at = NOW(),
		    updated_at = NOW()
		WHERE status = $2
		  AND claimed_at < NOW() - ($3 * INTERVAL '1 second')
		  AND attempts >= max_attempts
	`
	requeue := `
		UPDATE scoring_work_items
		SET status = $1,
		    worker_id = NULL,
		    claimed_at = NULL,
		    updated_at = NOW()
		WHERE status = $2
		  AND claimed_at < NOW() - ($3 * INTERVAL '1 second')
		  AND attempts < max_attempts
	`
	seconds := int64(claimTimeout.Seconds())

	err = s.client.WithTx(ctx, "reclaim", func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, expire, domain.ItemStatusFailed, domain.ItemStatusInProgress, seconds)
		if err != nil {
			return err
		}
		if expired, err = res.RowsAffected(); err != nil {
			return err
		}

		res, err = tx.ExecContext(ctx, requeue, domain.ItemStatusPending, domain.ItemStatusInProgress, seconds)
		if err != nil {
			return err
		}
		requeued, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to reclaim stale work items: %w", err)
	}

	if requeued > 0 || expired > 0 {
		s.logger.Warn("Reclaimed stale work items",
			slog.Int64("requeued", requeued),
			slog.Int64("expired", expired),
			slog.Duration("claim_timeout", claimTimeout),
		)
	}

	return requeued, expired, nil
}

// EnqueueLeads creates a pending item for every lead that has no open item
// and was not scored on jobDate
func (s *Storage) EnqueueLeads(ctx context.Context, jobDate time.Time, maxAttempts int) (int64, error) {
	query := `
		INSERT INTO scoring_work_items (lead_id, payload, status, max_attempts)
		SELECT l.id,
		       jsonb_build_object(
		           'email', l.email,
		           'company', l.company,
		           'website', l.website,
		           'correlation_id', l.correlation_id,
		           'audit_score', NULL
		       ),
		       $1,
		       $2
		FROM raw_leads l
		WHERE NOT EXISTS (
		          SELECT 1 FROM scoring_work_items w
		          WHERE w.lead_id = l.id AND w.status IN ($3, $4)
		      )
		  AND NOT EXISTS (
		          SELECT 1 FROM lead_scores s
		          WHERE s.lead_id = l.id AND s.created_at::date = $5::date
		      )
		ORDER BY l.created_at DESC
	`

	rows, err := s.client.Exec(ctx, "enqueue", query,
		domain.ItemStatusPending, maxAttempts,
		domain.ItemStatusPending, domain.ItemStatusInProgress,
		jobDate.Format(time.DateOnly))
	if err != nil {
		return 0, fmt.Errorf("failed to enqueue leads: %w", err)
	}

	s.logger.Info("Leads enqueued for scoring",
		slog.String("job_date", jobDate.Format(time.DateOnly)),
		slog.Int64("count", rows),
	)

	return rows, nil
}

// LoadScoringConfig returns the config rows that override scoring weights
func (s *Storage) LoadScoringConfig(ctx context.Context) (map[string]string, error) {
	var rows []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}

	err := s.client.Select(ctx, "load_config", &rows,
		`SELECT key, value FROM config WHERE key LIKE 'scoring\_%' ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to load scoring config: %w", err)
	}

	values := make(map[string]string, len(rows))
	for _, row := range rows {
		values[row.Key] = row.Value
	}
	return values, nil
}

// CreateRun inserts the bookkeeping row of a new cycle
func (s *Storage) CreateRun(ctx context.Context, run domain.JobRun) error {
	query := `
		INSERT INTO scoring_jobs (id, job_date, worker_id, status, leads_processed, leads_failed, start_time)
		VALUES ($1, $2, $3, $4, 0, 0, $5)
	`

	_, err := s.client.Exec(ctx, "create_run", query,
		run.ID, run.JobDate.Format(time.DateOnly), run.WorkerID, run.Status, run.StartTime)
	if err != nil {
		return fmt.Errorf("failed to create job run: %w", err)
	}

	return nil
}

// FinishRun records the outcome of a cycle. An empty errMsg stores NULL.
func (s *Storage) FinishRun(ctx context.Context, runID, status string, processed, failed int, errMsg string) error {
	query := `
		UPDATE scoring_jobs
		SET status = $1,
		    leads_processed = $2,
		    leads_failed = $3,
		    end_time = NOW(),
		    error_message = NULLIF($4, '')
		WHERE id = $5
	`

	rows, err := s.client.Exec(ctx, "finish_run", query, status, processed, failed, errMsg, runID)
	if err != nil {
		return fmt.Errorf("failed to finish job run: %w", err)
	}
	if rows == 0 {
		return domain.ErrRunNotFound
	}

	s.logger.Info("Job run finished",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int("leads_processed", processed),
		slog.Int("leads_failed", failed),
	)

	return nil
}

// FailStaleRuns marks running rows started before olderThan as failed
func (s *Storage) FailStaleRuns(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE scoring_jobs
		SET status = $1,
		    end_time = NOW(),
		    error_message = 'Job marked as failed due to timeout'
		WHERE status = $2
		  AND start_time < NOW() - ($3 * INTERVAL '1 second')
	`

	rows, err := s.client.Exec(ctx, "fail_stale_runs", query,
		domain.RunStatusFailed, domain.RunStatusRunning, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to fail stale job runs: %w", err)
	}

	if rows > 0 {
		s.logger.Warn("Marked stale job runs as failed",
			slog.Int64("count", rows),
			slog.Duration("older_than", olderThan),
		)
	}

	return rows, nil
}

// CleanupRuns deletes job runs started before the retention window
func (s *Storage) CleanupRuns(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM scoring_jobs
		WHERE status <> $1
		  AND start_time < NOW() - ($2 * INTERVAL '1 second')
	`

	rows, err := s.client.Exec(ctx, "cleanup_runs", query, domain.RunStatusRunning, int64(retention.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up job runs: %w", err)
	}

	s.logger.Info("Cleaned up old job runs",
		slog.Int64("deleted", rows),
	)

	return rows, nil
}
