package router

import (
	"github.com/cuongbtq/transcribe-queue/internal/api/handler"
	"github.com/cuongbtq/transcribe-queue/internal/metrics"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(metrics.Middleware())

	jobHandler := handler.NewJobHandler(deps)

	r.GET("/health", jobHandler.Health)
	r.GET("/metrics", jobHandler.Metrics)

	api := r.Group("/api")
	{
		// GET /api/state - running job, queue, history and worker state
		api.GET("/state", jobHandler.State)

		jobs := api.Group("/jobs")
		{
			// POST /api/jobs - Upload files and enqueue one job per file
			jobs.POST("", jobHandler.CreateJobs)

			// GET /api/jobs/:job_id - Get job details
			jobs.GET("/:job_id", jobHandler.GetJob)

			// DELETE /api/jobs/:job_id - Remove a queued job
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)

			// POST /api/jobs/:job_id/cancel - Force-stop the running job
			jobs.POST("/:job_id/cancel", jobHandler.CancelJob)
		}

		// POST /api/queue/reorder - Replace the queue order
		api.POST("/queue/reorder", jobHandler.Reorder)

		history := api.Group("/history")
		{
			history.GET("", jobHandler.ListHistory)
			history.DELETE("/:job_id", jobHandler.DeleteHistoryJob)
			history.POST("/delete", jobHandler.DeleteHistoryBatch)
		}

		worker := api.Group("/worker")
		{
			worker.POST("/pause", jobHandler.PauseWorker)
			worker.POST("/resume", jobHandler.ResumeWorker)
		}

		results := api.Group("/results")
		{
			results.GET("/:job_id", jobHandler.ListResults)
			results.GET("/:job_id/:filename", jobHandler.DownloadResult)
		}
	}

	return r
}
