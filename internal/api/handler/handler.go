package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcribe-queue/internal/api/storage"
	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/cuongbtq/transcribe-queue/internal/store"
	"github.com/gin-gonic/gin"
)

// JobStore is the job store surface used by the HTTP layer
type JobStore interface {
	Insert(ctx context.Context, job *domain.Job) error
	Get(ctx context.Context, id string) (*domain.Job, error)
	ListAll(ctx context.Context) ([]domain.Job, error)
	ListHistory(ctx context.Context, filter store.HistoryFilter) ([]domain.Job, error)
	CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error)
	Reorder(ctx context.Context, ids []string) error
	CancelRunning(ctx context.Context, id string) error
	DeleteIfQueued(ctx context.Context, id string) (bool, error)
	DeleteIfTerminal(ctx context.Context, id string) (bool, error)
	DeleteTerminalBatch(ctx context.Context, ids []string) (int64, error)
}

// WorkerControl is the operator surface of the worker supervisor
type WorkerControl interface {
	Pause()
	Resume()
	State() (string, *domain.Job)
}

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Store          JobStore
	Worker         WorkerControl
	Files          *storage.FileStore
	DB             HealthChecker
	MaxUploadBytes int64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger         *slog.Logger
	store          JobStore
	worker         WorkerControl
	files          *storage.FileStore
	db             HealthChecker
	maxUploadBytes int64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:         deps.Logger,
		store:          deps.Store,
		worker:         deps.Worker,
		files:          deps.Files,
		db:             deps.DB,
		maxUploadBytes: deps.MaxUploadBytes,
	}
}

// respondError maps store errors onto HTTP statuses
func (h *JobHandler) respondError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Failed to "+action,
			slog.String("path", c.Request.URL.Path),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to " + action})
	}
}

// jobIDParam reads :job_id and rejects anything that is not a UUID
func (h *JobHandler) jobIDParam(c *gin.Context) (string, bool) {
	jobID := c.Param("job_id")
	if !validJobID(jobID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return "", false
	}
	return jobID, true
}

// Health handles GET /health
func (h *JobHandler) Health(c *gin.Context) {
	if h.db != nil {
		if err := h.db.HealthCheck(c.Request.Context()); err != nil {
			h.logger.Error("Health check failed", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}

	state, _ := h.worker.State()
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"worker": state,
	})
}
