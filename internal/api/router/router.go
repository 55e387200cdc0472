package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leadflowx/scoring-job/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes. A nil
// metrics handler leaves /metrics unrouted; a nil Reader leaves out /api/v1.
func SetupRouter(deps *handler.Dependencies, metrics http.Handler) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	healthHandler := handler.NewHealthHandler(deps)
	r.GET("/health", healthHandler.Health)

	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	if deps.Reader == nil {
		return r
	}

	scoreHandler := handler.NewScoreHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// GET /api/v1/scores - List result records with filtering and pagination
		v1.GET("/scores", scoreHandler.ListScores)

		runs := v1.Group("/runs")
		{
			// GET /api/v1/runs - Latest job runs
			runs.GET("", scoreHandler.ListRuns)

			// GET /api/v1/runs/:run_id - Job run details
			runs.GET("/:run_id", scoreHandler.GetRun)
		}
	}

	return r
}
