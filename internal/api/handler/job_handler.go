package handler

import (
	"errors"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/api/dto"
	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const multipartMemory = 32 << 20

func validJobID(jobID string) bool {
	if jobID == "" {
		return false
	}
	_, err := uuid.Parse(jobID)
	return err == nil
}

// CreateJobs handles POST /api/jobs
// Stores every uploaded file and enqueues one job per file
func (h *JobHandler) CreateJobs(c *gin.Context) {
	h.logger.Info("CreateJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	}

	form, err := c.MultipartForm()
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "Upload too large",
			})
			return
		}
		h.logger.Error("Invalid multipart body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart body",
		})
		return
	}

	files := append(form.File["files"], form.File["files[]"]...)
	if len(files) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "At least one file is required",
		})
		return
	}

	language := domain.DefaultLanguage
	if values := form.Value["language"]; len(values) > 0 && strings.TrimSpace(values[0]) != "" {
		language = strings.TrimSpace(values[0])
	}
	if !domain.ValidLanguage(language) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "language must be a short language code such as en or pt-BR",
		})
		return
	}

	created := make([]dto.JobDTO, 0, len(files))
	for _, header := range files {
		job, err := h.enqueueUpload(c, header, language)
		if err != nil {
			h.respondError(c, err, "create job")
			return
		}
		created = append(created, dto.NewJobDTO(*job))
	}

	c.JSON(http.StatusCreated, dto.CreateJobsResponse{Jobs: created})
}

func (h *JobHandler) enqueueUpload(c *gin.Context, header *multipart.FileHeader, language string) (*domain.Job, error) {
	src, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	jobID := uuid.New().String()
	name, path, err := h.files.SaveUpload(jobID, header.Filename, src)
	if err != nil {
		return nil, err
	}

	job := domain.NewQueuedJob(jobID, name, path, language, time.Now())
	if err := h.store.Insert(c.Request.Context(), &job); err != nil {
		h.files.RemoveJobFiles(jobID)
		return nil, err
	}

	h.logger.Info("Job queued",
		slog.String("job_id", job.ID),
		slog.String("filename", job.Filename),
		slog.String("language", job.Language),
	)
	return &job, nil
}

// GetJob handles GET /api/jobs/:job_id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "get job")
		return
	}

	c.JSON(http.StatusOK, dto.NewJobDTO(*job))
}

// DeleteJob handles DELETE /api/jobs/:job_id
// Removes a job that is still waiting in the queue
func (h *JobHandler) DeleteJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	h.logger.Info("DeleteJob called", slog.String("job_id", jobID))

	removed, err := h.store.DeleteIfQueued(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "delete job")
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	h.files.RemoveJobFiles(jobID)
	c.Status(http.StatusNoContent)
}

// CancelJob handles POST /api/jobs/:job_id/cancel
// Force-stops the running job. The transcription itself keeps going and its
// result is discarded.
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	h.logger.Info("CancelJob called", slog.String("job_id", jobID))

	if err := h.store.CancelRunning(c.Request.Context(), jobID); err != nil {
		h.respondError(c, err, "cancel job")
		return
	}

	job, err := h.store.Get(c.Request.Context(), jobID)
	if err != nil {
		h.respondError(c, err, "get job")
		return
	}
	c.JSON(http.StatusOK, dto.NewJobDTO(*job))
}
