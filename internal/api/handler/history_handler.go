package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcribe-queue/internal/api/dto"
	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/cuongbtq/transcribe-queue/internal/metrics"
	"github.com/cuongbtq/transcribe-queue/internal/store"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListHistory handles GET /api/history
// Pages through finished jobs, newest first
func (h *JobHandler) ListHistory(c *gin.Context) {
	var req dto.ListHistoryRequest
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

	cursor, err := DecodeHistoryCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// one extra row tells us whether another page exists
	jobs, err := h.store.ListHistory(c.Request.Context(), store.HistoryFilter{
		Limit:  req.PageSize + 1,
		Cursor: cursor,
	})
	if err != nil {
		h.respondError(c, err, "list history")
		return
	}

	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		last := jobs[len(jobs)-1]
		nextCursor = EncodeHistoryCursor(&store.HistoryCursor{
			CreatedAt: last.CreatedAt,
			JobID:     last.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListHistoryResponse{
		Jobs:       dto.NewJobDTOs(jobs),
		NextCursor: nextCursor,
	})
}

// DeleteHistoryJob handles DELETE /api/history/:job_id
func (h *JobHandler) DeleteHistoryJob(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	removed, err := h.store.DeleteIfTerminal(c.Request.Context(), jobID)
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

// DeleteHistoryBatch handles POST /api/history/delete
// Unknown and unfinished ids are skipped
func (h *JobHandler) DeleteHistoryBatch(c *gin.Context) {
	var req dto.JobIDsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}
	for _, id := range req.JobIDs {
		if !validJobID(id) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "job_ids must be valid UUIDs",
			})
			return
		}
	}

	deleted, err := h.store.DeleteTerminalBatch(c.Request.Context(), req.JobIDs)
	if err != nil {
		h.respondError(c, err, "delete history")
		return
	}

	for _, id := range req.JobIDs {
		if _, err := h.store.Get(c.Request.Context(), id); errors.Is(err, domain.ErrNotFound) {
			h.files.RemoveJobFiles(id)
		}
	}

	c.JSON(http.StatusOK, dto.DeleteBatchResponse{Deleted: deleted})
}

// ListResults handles GET /api/results/:job_id
func (h *JobHandler) ListResults(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	names, err := h.files.ListResults(jobID)
	if err != nil {
		h.respondError(c, err, "list results")
		return
	}

	c.JSON(http.StatusOK, dto.ResultsResponse{JobID: jobID, Files: names})
}

// DownloadResult handles GET /api/results/:job_id/:filename
func (h *JobHandler) DownloadResult(c *gin.Context) {
	jobID, ok := h.jobIDParam(c)
	if !ok {
		return
	}

	path, found := h.files.ResultPath(jobID, c.Param("filename"))
	if !found {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "result not found",
		})
		return
	}

	c.FileAttachment(path, c.Param("filename"))
}

// Metrics handles GET /metrics
// Refreshes the per-status gauge before handing off to the prometheus handler
func (h *JobHandler) Metrics(c *gin.Context) {
	counts, err := h.store.CountByStatus(c.Request.Context())
	if err != nil {
		h.logger.Warn("Failed to count jobs", slog.String("error", err.Error()))
	} else {
		metrics.UpdateJobStatusMetric(counts)
	}

	metrics.Handler().ServeHTTP(c.Writer, c.Request)
}
