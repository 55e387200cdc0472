package domain

import (
	"encoding/json"
	"time"
)

// WorkItem is a lead awaiting scoring, claimed by one worker at a time
type WorkItem struct {
	ID           int64           `db:"id"`
	LeadID       int64           `db:"lead_id"`
	Payload      json.RawMessage `db:"payload"`
	Status       string          `db:"status"`
	WorkerID     string          `db:"worker_id"`
	Attempts     int             `db:"attempts"`
	MaxAttempts  int             `db:"max_attempts"`
	ErrorMessage string          `db:"error_message"`
	ClaimedAt    *time.Time      `db:"claimed_at"`
}

// Lead is the lead snapshot stored in a work item payload
type Lead struct {
	Email         string   `json:"email"`
	Company       string   `json:"company"`
	Website       string   `json:"website"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	AuditScore    *float64 `json:"audit_score,omitempty"`
}

// Score is the outcome of scoring one lead
type Score struct {
	Total     int            `json:"total"`
	Breakdown map[string]int `json:"breakdown"`
}

// Result is the durable record written for a completed work item
type Result struct {
	ID         int64           `db:"id"`
	WorkItemID int64           `db:"work_item_id"`
	LeadID     int64           `db:"lead_id"`
	Score      int             `db:"score"`
	Breakdown  json.RawMessage `db:"breakdown"`
	RunID      string          `db:"run_id"`
	Email      string          `db:"email"`
	CreatedAt  time.Time       `db:"created_at"`
}

// JobRun is the bookkeeping row of one processing cycle
type JobRun struct {
	ID             string     `db:"id"`
	JobDate        time.Time  `db:"job_date"`
	WorkerID       string     `db:"worker_id"`
	Status         string     `db:"status"`
	LeadsProcessed int        `db:"leads_processed"`
	LeadsFailed    int        `db:"leads_failed"`
	StartTime      time.Time  `db:"start_time"`
	EndTime        *time.Time `db:"end_time"`
	ErrorMessage   *string    `db:"error_message"`
}

// Summary reports the outcome of one cycle to the caller
type Summary struct {
	RunID     string        `json:"run_id"`
	WorkerID  string        `json:"worker_id"`
	JobDate   string        `json:"job_date"`
	Claimed   int           `json:"claimed"`
	Processed int           `json:"processed"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Released  int           `json:"released"`
	Reclaimed int64         `json:"reclaimed"`
	Duration  time.Duration `json:"duration_ns"`
}
