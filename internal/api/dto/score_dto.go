package dto

type ListScoresRequest struct {
	Date     string `form:"date"`
	RunID    string `form:"run_id"`
	MinScore int    `form:"min_score"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListScoresResponse struct {
	Scores     []ScoreDTO `json:"scores"`
	NextCursor string     `json:"next_cursor,omitempty"`
}

type ScoreDTO struct {
	ID         int64          `json:"id"`
	WorkItemID int64          `json:"work_item_id"`
	LeadID     int64          `json:"lead_id"`
	Email      string         `json:"email"`
	Score      int            `json:"score"`
	Breakdown  map[string]int `json:"breakdown"`
	RunID      string         `json:"run_id"`
	CreatedAt  string         `json:"created_at"`
}

type RunDTO struct {
	RunID          string  `json:"run_id"`
	JobDate        string  `json:"job_date"`
	WorkerID       string  `json:"worker_id"`
	Status         string  `json:"status"`
	LeadsProcessed int     `json:"leads_processed"`
	LeadsFailed    int     `json:"leads_failed"`
	StartTime      string  `json:"start_time"`
	EndTime        *string `json:"end_time,omitempty"`
	ErrorMessage   *string `json:"error_message,omitempty"`
}

type ListRunsResponse struct {
	Runs []RunDTO `json:"runs"`
}
