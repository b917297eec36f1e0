package domain

import (
	"errors"
	"strings"
	"unicode/utf8"
)

var (
	// ErrNotFound is returned when an operation references a job id that does not exist
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when an operation is illegal for the job's current status
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrConstraintViolation is returned on duplicate ids or a claim race detected by the store
	ErrConstraintViolation = errors.New("job constraint violation")

	// ErrStorageFailure is returned when the store is unreachable or a transaction cannot commit
	ErrStorageFailure = errors.New("job storage failure")
)

// MaxErrorMessageLength bounds error_message values persisted on failed jobs.
const MaxErrorMessageLength = 4000

// CapabilityError wraps an error raised by the transcription backend
type CapabilityError struct {
	Err error
}

func (e *CapabilityError) Error() string {
	return "transcription failed: " + e.Err.Error()
}

func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// NewCapabilityError creates a new capability error
func NewCapabilityError(err error) error {
	return &CapabilityError{Err: err}
}

// TruncateError keeps the head of message, at most limit runes, ending with an ellipsis when cut.
func TruncateError(message string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(message) <= limit {
		return message
	}
	runes := []rune(message)
	return string(runes[:limit-1]) + "…"
}

// TailText trims surrounding whitespace and keeps the last limit runes of text.
func TailText(text string, limit int) string {
	trimmed := strings.TrimSpace(text)
	if limit <= 0 || utf8.RuneCountInString(trimmed) <= limit {
		return trimmed
	}
	runes := []rune(trimmed)
	return string(runes[len(runes)-limit:])
}
