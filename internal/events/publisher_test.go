package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

type recordingSender struct {
	body        []byte
	contentType string
	err         error
}

func (s *recordingSender) PublishWithRetry(ctx context.Context, body []byte, contentType string) error {
	s.body, s.contentType = body, contentType
	return s.err
}

func TestPublisher_PublishRunSummary(t *testing.T) {
	sender := &recordingSender{}
	p := NewPublisher(sender)
	p.now = func() time.Time { return time.Date(2026, 3, 1, 2, 0, 5, 0, time.UTC) }

	err := p.PublishRunSummary(context.Background(), domain.Summary{
		RunID:     "run-1",
		WorkerID:  "host-1a2b3c4d",
		JobDate:   "2026-03-01",
		Claimed:   4,
		Processed: 3,
		Failed:    1,
		Duration:  1500 * time.Millisecond,
	})

	require.NoError(t, err)
	assert.Equal(t, "application/json", sender.contentType)
	assert.JSONEq(t, `{
		"event": "scoring.run.completed",
		"run_id": "run-1",
		"worker_id": "host-1a2b3c4d",
		"job_date": "2026-03-01",
		"claimed": 4,
		"processed": 3,
		"failed": 1,
		"skipped": 0,
		"reclaimed": 0,
		"duration_ms": 1500,
		"occurred_at": "2026-03-01T02:00:05Z"
	}`, string(sender.body))
}

func TestPublisher_SenderError(t *testing.T) {
	sender := &recordingSender{err: errors.New("channel closed")}

	err := NewPublisher(sender).PublishRunSummary(context.Background(), domain.Summary{RunID: "run-1"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to publish run event")
}
