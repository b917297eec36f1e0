package dto

import (
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

type JobIDsRequest struct {
	JobIDs []string `json:"job_ids" binding:"required"`
}

type ListHistoryRequest struct {
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListHistoryResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type CreateJobsResponse struct {
	Jobs []JobDTO `json:"jobs"`
}

type DeleteBatchResponse struct {
	Deleted int64 `json:"deleted"`
}

type ResultsResponse struct {
	JobID string   `json:"job_id"`
	Files []string `json:"files"`
}

type WorkerDTO struct {
	State    string `json:"state"`
	JobID    string `json:"job_id,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type StateResponse struct {
	Worker       WorkerDTO           `json:"worker"`
	Running      *JobDTO             `json:"running"`
	Queue        []JobDTO            `json:"queue"`
	History      []JobDTO            `json:"history"`
	ResultsByJob map[string][]string `json:"results_by_job"`
}

type JobDTO struct {
	JobID         string  `json:"job_id"`
	Filename      string  `json:"filename"`
	Status        string  `json:"status"`
	Language      string  `json:"language"`
	QueuePosition *int64  `json:"queue_position,omitempty"`
	CreatedAt     string  `json:"created_at"`
	StartedAt     *string `json:"started_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

func NewJobDTO(job domain.Job) JobDTO {
	return JobDTO{
		JobID:         job.ID,
		Filename:      job.Filename,
		Status:        string(job.Status),
		Language:      job.Language,
		QueuePosition: job.QueuePosition,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		StartedAt:     formatOptional(job.StartedAt),
		CompletedAt:   formatOptional(job.CompletedAt),
		ErrorMessage:  job.ErrorMessage,
	}
}

func NewJobDTOs(jobs []domain.Job) []JobDTO {
	out := make([]JobDTO, len(jobs))
	for i, job := range jobs {
		out[i] = NewJobDTO(job)
	}
	return out
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}
