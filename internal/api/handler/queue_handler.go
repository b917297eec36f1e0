package handler

import (
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcribe-queue/internal/api/dto"
	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/gin-gonic/gin"
)

// State handles GET /api/state
// Returns the running job, the queue, the history and the worker state in one snapshot
func (h *JobHandler) State(c *gin.Context) {
	jobs, err := h.store.ListAll(c.Request.Context())
	if err != nil {
		h.respondError(c, err, "list jobs")
		return
	}

	resp := dto.StateResponse{
		Queue:        []dto.JobDTO{},
		History:      []dto.JobDTO{},
		ResultsByJob: map[string][]string{},
	}

	for _, job := range jobs {
		jobDTO := dto.NewJobDTO(job)
		switch {
		case job.Status == domain.JobStatusRunning:
			resp.Running = &jobDTO
		case job.Status == domain.JobStatusQueued:
			resp.Queue = append(resp.Queue, jobDTO)
		default:
			resp.History = append(resp.History, jobDTO)
		}

		if job.Status == domain.JobStatusDone {
			names, err := h.files.ListResults(job.ID)
			if err != nil {
				h.logger.Warn("Failed to list results",
					slog.String("job_id", job.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			resp.ResultsByJob[job.ID] = names
		}
	}

	state, current := h.worker.State()
	resp.Worker = dto.WorkerDTO{State: state}
	if current != nil {
		resp.Worker.JobID = current.ID
		resp.Worker.Filename = current.Filename
	}

	c.JSON(http.StatusOK, resp)
}

// Reorder handles POST /api/queue/reorder
// The body must list exactly the queued job ids in their new order
func (h *JobHandler) Reorder(c *gin.Context) {
	var req dto.JobIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Info("Reorder called", slog.Int("count", len(req.JobIDs)))

	if err := h.store.Reorder(c.Request.Context(), req.JobIDs); err != nil {
		h.respondError(c, err, "reorder queue")
		return
	}

	c.JSON(http.StatusOK, gin.H{"job_ids": req.JobIDs})
}

// PauseWorker handles POST /api/worker/pause
func (h *JobHandler) PauseWorker(c *gin.Context) {
	h.worker.Pause()
	state, _ := h.worker.State()
	c.JSON(http.StatusOK, dto.WorkerDTO{State: state})
}

// ResumeWorker handles POST /api/worker/resume
func (h *JobHandler) ResumeWorker(c *gin.Context) {
	h.worker.Resume()
	state, _ := h.worker.State()
	c.JSON(http.StatusOK, dto.WorkerDTO{State: state})
}
