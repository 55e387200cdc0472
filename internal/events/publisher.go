// Package events publishes scoring run notifications.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

// RunCompleted is the event name of a finished run
const RunCompleted = "scoring.run.completed"

// Sender delivers one encoded message. *rabbitmq.Client implements it.
type Sender interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// RunCompletedEvent is the message body published after each run
type RunCompletedEvent struct {
	Event      string    `json:"event"`
	RunID      string    `json:"run_id"`
	WorkerID   string    `json:"worker_id"`
	JobDate    string    `json:"job_date"`
	Claimed    int       `json:"claimed"`
	Processed  int       `json:"processed"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Reclaimed  int64     `json:"reclaimed"`
	DurationMS int64     `json:"duration_ms"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher turns run summaries into events
type Publisher struct {
	sender Sender
	now    func() time.Time
}

// NewPublisher creates a new Publisher
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender, now: time.Now}
}

// PublishRunSummary sends a RunCompletedEvent for summary
func (p *Publisher) PublishRunSummary(ctx context.Context, summary domain.Summary) error {
	body, err := json.Marshal(RunCompletedEvent{
		Event:      RunCompleted,
		RunID:      summary.RunID,
		WorkerID:   summary.WorkerID,
		JobDate:    summary.JobDate,
		Claimed:    summary.Claimed,
		Processed:  summary.Processed,
		Failed:     summary.Failed,
		Skipped:    summary.Skipped,
		Reclaimed:  summary.Reclaimed,
		DurationMS: summary.Duration.Milliseconds(),
		OccurredAt: p.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}

	if err := p.sender.PublishWithRetry(ctx, body, "application/json"); err != nil {
		return fmt.Errorf("failed to publish run event: %w", err)
	}
	return nil
}
