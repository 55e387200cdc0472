package handler

import (
	"context"
	"log/slog"

	"github.com/leadflowx/scoring-job/internal/api/storage"
	"github.com/leadflowx/scoring-job/internal/health"
	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

// Reader is the read side of the scoring tables. *storage.Storage implements it.
type Reader interface {
	ListScores(ctx context.Context, filter storage.ScoreFilter) ([]domain.Result, error)
	GetRun(ctx context.Context, runID string) (*domain.JobRun, error)
	RecentRuns(ctx context.Context, limit int) ([]domain.JobRun, error)
}

// HealthChecker reports database reachability
type HealthChecker interface {
	Check(ctx context.Context) health.Status
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger  *slog.Logger
	Reader  Reader
	Health  HealthChecker
	Service string
}

// ScoreHandler handles score and run HTTP requests
type ScoreHandler struct {
	logger *slog.Logger
	reader Reader
}

// NewScoreHandler creates a new ScoreHandler instance
func NewScoreHandler(deps *Dependencies) *ScoreHandler {
	return &ScoreHandler{
		logger: deps.Logger,
		reader: deps.Reader,
	}
}
