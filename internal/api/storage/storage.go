package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
	"github.com/leadflowx/scoring-job/shared/postgresql"
)

// Storage serves read-only queries over result records and job runs
type Storage struct {
	client *postgresql.Client
}

func NewStorage(pg *postgresql.Client) *Storage {
	return &Storage{
		client: pg,
	}
}

type ScoreFilter struct {
	JobDate  string
	RunID    string
	MinScore int
	PageSize int
	Cursor   *ScoreCursor
}

type ScoreCursor struct {
	CreatedAt time.Time
	ID        int64
}

// ListScores returns up to PageSize+1 results, newest first, so the caller
// can tell whether another page exists
func (s *Storage) ListScores(ctx context.Context, filter ScoreFilter) ([]domain.Result, error) {
	query := `
        SELECT
            s.id, s.work_item_id, s.lead_id, s.score, s.breakdown, s.run_id,
            COALESCE(w.payload->>'email', '') AS email, s.created_at
        FROM lead_scores s
        JOIN scoring_work_items w ON w.id = s.work_item_id
        WHERE 1=1
    `
	args := []interface{}{}
	argIdx := 1

	if filter.JobDate != "" {
		query += fmt.Sprintf(" AND s.created_at::date = $%d::date", argIdx)
		args = append(args, filter.JobDate)
		argIdx++
	}

	if filter.RunID != "" {
		query += fmt.Sprintf(" AND s.run_id = $%d", argIdx)
		args = append(args, filter.RunID)
		argIdx++
	}

	if filter.MinScore > 0 {
		query += fmt.Sprintf(" AND s.score >= $%d", argIdx)
		args = append(args, filter.MinScore)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (s.created_at, s.id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY s.created_at DESC, s.id DESC"

	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var results []domain.Result
	if err := s.client.Select(ctx, "list_scores", &results, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list scores: %w", err)
	}

	return results, nil
}

// GetRun retrieves a job run by id
func (s *Storage) GetRun(ctx context.Context, runID string) (*domain.JobRun, error) {
	query := `
		SELECT id, job_date, worker_id, status, leads_processed, leads_failed,
		       start_time, end_time, error_message
		FROM scoring_jobs
		WHERE id = $1
	`

	var run domain.JobRun
	if err := s.client.Get(ctx, "get_run", &run, query, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}

	return &run, nil
}

// RecentRuns returns the latest job runs, newest first
func (s *Storage) RecentRuns(ctx context.Context, limit int) ([]domain.JobRun, error) {
	query := `
		SELECT id, job_date, worker_id, status, leads_processed, leads_failed,
		       start_time, end_time, error_message
		FROM scoring_jobs
		ORDER BY start_time DESC
		LIMIT $1
	`

	var runs []domain.JobRun
	if err := s.client.Select(ctx, "recent_runs", &runs, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}

	return runs, nil
}
