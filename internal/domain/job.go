package domain

import (
	"regexp"
	"time"
)

// DefaultLanguage is recorded for jobs submitted without a language hint and
// backfilled into rows created before the language column existed.
const DefaultLanguage = "en"

// RecoveredErrorMessage marks jobs closed out by startup recovery.
const RecoveredErrorMessage = "Recovered after crash"

// Job is one uploaded media file waiting for, undergoing or done with transcription.
type Job struct {
	ID            string     `json:"id"`
	Filename      string     `json:"filename"`
	Status        JobStatus  `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	UploadPath    string     `json:"upload_path"`
	Language      string     `json:"language"`
	QueuePosition *int64     `json:"queue_position,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
}

// StatusUpdate is a partial update applied by the store. Nil fields are left untouched.
type StatusUpdate struct {
	Status       JobStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage *string
}

// NewQueuedJob builds a queued record stamped with createdAt.
func NewQueuedJob(id, filename, uploadPath, language string, createdAt time.Time) Job {
	if language == "" {
		language = DefaultLanguage
	}
	return Job{
		ID:         id,
		Filename:   filename,
		Status:     JobStatusQueued,
		CreatedAt:  createdAt.UTC(),
		UploadPath: uploadPath,
		Language:   language,
	}
}

var languagePattern = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,3})?$`)

// ValidLanguage reports whether code looks like a short language tag such as "en" or "pt-BR".
func ValidLanguage(code string) bool {
	return languagePattern.MatchString(code)
}
