package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/leadflowx/scoring-job/internal/api/dto"
	"github.com/leadflowx/scoring-job/internal/api/storage"
	"github.com/leadflowx/scoring-job/internal/worker/domain"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListScores handles GET /api/v1/scores
// Lists result records newest first with cursor pagination
func (h *ScoreHandler) ListScores(c *gin.Context) {
	var req dto.ListScoresRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	if req.Date != "" {
		if _, err := time.Parse(time.DateOnly, req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "date must be formatted as YYYY-MM-DD",
			})
			return
		}
	}

	if req.RunID != "" {
		if _, err := uuid.Parse(req.RunID); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "run_id must be a valid UUID",
			})
			return
		}
	}

	cursor, err := DecodeScoreCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter := storage.ScoreFilter{
		JobDate:  req.Date,
		RunID:    req.RunID,
		MinScore: req.MinScore,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	results, err := h.reader.ListScores(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list scores", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list scores",
		})
		return
	}

	hasMore := len(results) > req.PageSize
	if hasMore {
		results = results[:req.PageSize]
	}

	scores := make([]dto.ScoreDTO, len(results))
	for i, result := range results {
		scores[i] = toScoreDTO(result)
	}

	var nextCursor string
	if hasMore {
		last := results[len(results)-1]
		nextCursor = EncodeScoreCursor(&storage.ScoreCursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListScoresResponse{
		Scores:     scores,
		NextCursor: nextCursor,
	})
}

// GetRun handles GET /api/v1/runs/:run_id
func (h *ScoreHandler) GetRun(c *gin.Context) {
	runID := c.Param("run_id")

	if _, err := uuid.Parse(runID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "run_id must be a valid UUID",
		})
		return
	}

	run, err := h.reader.GetRun(c.Request.Context(), runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Job run not found",
			})
			return
		}
		h.logger.Error("Failed to get job run", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job run",
		})
		return
	}

	c.JSON(http.StatusOK, toRunDTO(*run))
}

// ListRuns handles GET /api/v1/runs
func (h *ScoreHandler) ListRuns(c *gin.Context) {
	limit := defaultPageSize
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "limit must be a positive integer",
			})
			return
		}
		limit = min(n, maxPageSize)
	}

	runs, err := h.reader.RecentRuns(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list job runs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list job runs",
		})
		return
	}

	resp := dto.ListRunsResponse{Runs: make([]dto.RunDTO, len(runs))}
	for i, run := range runs {
		resp.Runs[i] = toRunDTO(run)
	}
	c.JSON(http.StatusOK, resp)
}

func toScoreDTO(result domain.Result) dto.ScoreDTO {
	breakdown := map[string]int{}
	if len(result.Breakdown) > 0 {
		// A malformed breakdown is reported as empty rather than failing the page
		_ = json.Unmarshal(result.Breakdown, &breakdown)
	}

	return dto.ScoreDTO{
		ID:         result.ID,
		WorkItemID: result.WorkItemID,
		LeadID:     result.LeadID,
		Email:      result.Email,
		Score:      result.Score,
		Breakdown:  breakdown,
		RunID:      result.RunID,
		CreatedAt:  result.CreatedAt.Format(time.RFC3339),
	}
}

func toRunDTO(run domain.JobRun) dto.RunDTO {
	out := dto.RunDTO{
		RunID:          run.ID,
		JobDate:        run.JobDate.Format(time.DateOnly),
		WorkerID:       run.WorkerID,
		Status:         run.Status,
		LeadsProcessed: run.LeadsProcessed,
		LeadsFailed:    run.LeadsFailed,
		StartTime:      run.StartTime.Format(time.RFC3339),
		ErrorMessage:   run.ErrorMessage,
	}
	if run.EndTime != nil {
		end := run.EndTime.Format(time.RFC3339)
		out.EndTime = &end
	}
	return out
}
