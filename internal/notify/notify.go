package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

// Notifier delivers a finished job to an outside party. Delivery is best
// effort: callers log a returned error and carry on.
type Notifier interface {
	Notify(ctx context.Context, job domain.Job, artifactPath string) error
}

// Log records finished jobs in the service log
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(ctx context.Context, job domain.Job, artifactPath string) error {
	attrs := []any{
		slog.String("job_id", job.ID),
		slog.String("filename", job.Filename),
		slog.String("status", string(job.Status)),
	}
	if artifactPath != "" {
		attrs = append(attrs, slog.String("artifact", artifactPath))
	}
	if job.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", job.ErrorMessage))
	}
	l.logger.InfoContext(ctx, "Job finished", attrs...)
	return nil
}

// Multi fans out to every notifier and joins their errors
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, job domain.Job, artifactPath string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, job, artifactPath); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
