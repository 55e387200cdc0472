package storage

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
	"github.com/leadflowx/scoring-job/shared/postgresql"
)

func newTestStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := postgresql.NewFromDB(sqlx.NewDb(db, "postgres"), &postgresql.Config{
		Retry: postgresql.RetryPolicy{Attempts: 2},
	}, logger)

	return NewStorage(client, logger), mock
}

var itemColumns = []string{
	"id", "lead_id", "payload", "status", "worker_id", "attempts", "max_attempts", "error_message", "claimed_at",
}

func TestStorage_ClaimItems(t *testing.T) {
	s, mock := newTestStorage(t)
	claimedAt := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE scoring_work_items .* FOR UPDATE SKIP LOCKED`).
		WithArgs(domain.ItemStatusInProgress, "worker-a", domain.ItemStatusPending, 10).
		WillReturnRows(sqlmock.NewRows(itemColumns).
			AddRow(12, 7, []byte(`{"email":"b@x.io"}`), "in_progress", "worker-a", 1, 3, "", claimedAt).
			AddRow(11, 6, []byte(`{"email":"a@x.io"}`), "in_progress", "worker-a", 2, 3, "", claimedAt))
	mock.ExpectCommit()

	items, err := s.ClaimItems(context.Background(), "worker-a", 10)

	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(11), items[0].ID, "items are returned in id order")
	assert.Equal(t, int64(12), items[1].ID)
	assert.JSONEq(t, `{"email":"a@x.io"}`, string(items[0].Payload))
	assert.Equal(t, 2, items[0].Attempts)
	require.NotNil(t, items[0].ClaimedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ClaimItemsEmpty(t *testing.T) {
	s, mock := newTestStorage(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE scoring_work_items`).WillReturnRows(sqlmock.NewRows(itemColumns))
	mock.ExpectCommit()

	items, err := s.ClaimItems(context.Background(), "worker-a", 10)

	require.NoError(t, err)
	assert.Empty(t, items)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ClaimItemsConnectivityExhausted(t *testing.T) {
	s, mock := newTestStorage(t)

	for i := 0; i < 2; i++ {
		mock.ExpectBegin().WillReturnError(&pq.Error{Code: "57P03", Message: "the database system is starting up"})
	}

	_, err := s.ClaimItems(context.Background(), "worker-a", 10)

	require.Error(t, err)
	assert.True(t, postgresql.IsConnectivity(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_CompleteItem(t *testing.T) {
	item := domain.WorkItem{ID: 11, LeadID: 6}
	score := domain.Score{Total: 18, Breakdown: map[string]int{"email_exists": 2}}

	t.Run("writes result and marks completed", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO lead_scores .* ON CONFLICT \(work_item_id\) DO NOTHING`).
			WithArgs(int64(11), int64(6), 18, []byte(`{"email_exists":2}`), "run-1").
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE scoring_work_items`).
			WithArgs(domain.ItemStatusCompleted, int64(11), domain.ItemStatusInProgress, "worker-a").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.CompleteItem(context.Background(), item, "worker-a", "run-1", score))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("guard miss rolls back", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO lead_scores`).WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec(`UPDATE scoring_work_items`).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.CompleteItem(context.Background(), item, "worker-a", "run-1", score)

		assert.ErrorIs(t, err, domain.ErrItemNotClaimed)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("constraint violation is a query error", func(t *testing.T) {
		s, mock := newTestStorage(t)
		mock.ExpectBegin()
		mock.ExpectExec(`INSERT INTO lead_scores`).
			WillReturnError(&pq.Error{Code: "23514", Message: "violates check constraint"})
		mock.ExpectRollback()

		err := s.CompleteItem(context.Background(), item, "worker-a", "run-1", score)

		require.Error(t, err)
		assert.True(t, postgresql.IsQuery(err))
		assert.Contains(t, err.Error(), "failed to complete work item 11")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStorage_FailItem(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectExec(`UPDATE scoring_work_items`).
		WithArgs(domain.ItemStatusFailed, "payload is not valid JSON", int64(4), domain.ItemStatusInProgress, "worker-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scoring_work_items`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.FailItem(context.Background(), 4, "worker-a", "payload is not valid JSON"))
	assert.ErrorIs(t, s.FailItem(context.Background(), 5, "worker-a", "x"), domain.ErrItemNotClaimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ReleaseItems(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectExec(`attempts = GREATEST\(attempts - 1, 0\)`).
		WithArgs(domain.ItemStatusPending, sqlmock.AnyArg(), domain.ItemStatusInProgress, "worker-a").
		WillReturnResult(sqlmock.NewResult(0, 2))

	released, err := s.ReleaseItems(context.Background(), []int64{3, 4}, "worker-a")

	require.NoError(t, err)
	assert.Equal(t, int64(2), released)

	released, err = s.ReleaseItems(context.Background(), nil, "worker-a")
	require.NoError(t, err)
	assert.Zero(t, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ReclaimStale(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectBegin()
	mock.ExpectExec(`claim expired after`).
		WithArgs(domain.ItemStatusFailed, domain.ItemStatusInProgress, int64(1800)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`attempts < max_attempts`).
		WithArgs(domain.ItemStatusPending, domain.ItemStatusInProgress, int64(1800)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	requeued, expired, err := s.ReclaimStale(context.Background(), 30*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, int64(3), requeued)
	assert.Equal(t, int64(1), expired)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_EnqueueLeads(t *testing.T) {
	s, mock := newTestStorage(t)
	jobDate := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`INSERT INTO scoring_work_items .* FROM raw_leads`).
		WithArgs(domain.ItemStatusPending, 3, domain.ItemStatusPending, domain.ItemStatusInProgress, "2026-03-01").
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := s.EnqueueLeads(context.Background(), jobDate, 3)

	require.NoError(t, err)
	assert.Equal(t, int64(42), n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LoadScoringConfig(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT key, value FROM config`)).
		WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
			AddRow("scoring_email_exists_points", "4").
			AddRow("scoring_website_ssl_points", "1"))

	values, err := s.LoadScoringConfig(context.Background())

	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"scoring_email_exists_points": "4",
		"scoring_website_ssl_points":  "1",
	}, values)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_LoadScoringConfigMissingTable(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectQuery(`SELECT key, value FROM config`).
		WillReturnError(&pq.Error{Code: "42P01", Message: `relation "config" does not exist`})

	_, err := s.LoadScoringConfig(context.Background())

	require.Error(t, err)
	assert.True(t, postgresql.IsQuery(err))
}

func TestStorage_RunLifecycle(t *testing.T) {
	s, mock := newTestStorage(t)
	start := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO scoring_jobs`).
		WithArgs("run-1", "2026-03-01", "worker-a", domain.RunStatusRunning, start).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scoring_jobs`).
		WithArgs(domain.RunStatusCompleted, 9, 1, "", "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE scoring_jobs`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.CreateRun(context.Background(), domain.JobRun{
		ID:        "run-1",
		JobDate:   start,
		WorkerID:  "worker-a",
		Status:    domain.RunStatusRunning,
		StartTime: start,
	})
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(context.Background(), "run-1", domain.RunStatusCompleted, 9, 1, ""))
	assert.ErrorIs(t, s.FinishRun(context.Background(), "missing", domain.RunStatusFailed, 0, 0, "boom"), domain.ErrRunNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_Housekeeping(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectExec(`Job marked as failed due to timeout`).
		WithArgs(domain.RunStatusFailed, domain.RunStatusRunning, int64(4*3600)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM scoring_jobs`).
		WithArgs(domain.RunStatusRunning, int64(720*3600)).
		WillReturnResult(sqlmock.NewResult(0, 5))

	failed, err := s.FailStaleRuns(context.Background(), 4*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	deleted, err := s.CleanupRuns(context.Background(), 720*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_ApplySchema(t *testing.T) {
	s, mock := newTestStorage(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS scoring_work_items")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.ApplySchema(context.Background()))
	assert.Contains(t, Schema(), "UNIQUE REFERENCES scoring_work_items")
	require.NoError(t, mock.ExpectationsWereMet())
}
