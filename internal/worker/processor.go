package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/cuongbtq/transcribe-queue/internal/metrics"
)

// RunOnce performs one iteration: claim the next job and, if one was
// claimed, transcribe it and record the outcome. It reports whether a job
// was processed. Store errors are logged and reported as idle.
func (w *Worker) RunOnce(ctx context.Context) bool {
	if w.IsPaused() {
		return false
	}

	job, err := w.store.ClaimNext(ctx)
	if err != nil {
		w.logger.Error("Failed to claim next job",
			slog.String("error", err.Error()),
		)
		return false
	}
	if job == nil {
		return false
	}

	metrics.IncreaseJobsClaimedMetric()
	w.processJob(ctx, job)
	return true
}

// processJob runs a claimed job and writes back done or failed
func (w *Worker) processJob(ctx context.Context, job *domain.Job) {
	w.currentJob.Store(job)
	defer w.currentJob.Store(nil)

	w.logger.Info("Processing job",
		slog.String("job_id", job.ID),
		slog.String("filename", job.Filename),
		slog.String("language", job.Language),
	)

	// Stopping the loop must not abort a transcription in progress.
	artifactPath, err := w.transcribe(context.WithoutCancel(ctx), *job)
	if err != nil {
		w.logger.Error("Job execution failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)

		message := failureMessage(err)
		completedAt := w.now()
		w.finishJob(ctx, job, domain.StatusUpdate{
			Status:       domain.JobStatusFailed,
			CompletedAt:  &completedAt,
			ErrorMessage: &message,
		}, "")
		return
	}

	completedAt := w.now()
	w.finishJob(ctx, job, domain.StatusUpdate{
		Status:      domain.JobStatusDone,
		CompletedAt: &completedAt,
	}, artifactPath)
}

// transcribe calls the backend, turning a panic into a capability error
func (w *Worker) transcribe(ctx context.Context, job domain.Job) (path string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = domain.NewCapabilityError(fmt.Errorf("panic: %v", r))
		}
	}()

	path, err = w.transcriber.Transcribe(ctx, job, w.resultsDir)
	if err != nil {
		var capErr *domain.CapabilityError
		if !errors.As(err, &capErr) {
			err = domain.NewCapabilityError(err)
		}
		return "", err
	}
	return path, nil
}

func (w *Worker) finishJob(ctx context.Context, job *domain.Job, upd domain.StatusUpdate, artifactPath string) {
	err := w.store.UpdateStatus(ctx, job.ID, upd)
	if errors.Is(err, domain.ErrInvalidTransition) {
		// cancelled or recovered while transcribing; the row already holds its final state
		w.logger.Info("Job left running state before writeback, discarding result",
			slog.String("job_id", job.ID),
			slog.String("status", string(upd.Status)),
		)
		return
	}
	if err != nil {
		w.logger.Error("Failed to update job status",
			slog.String("job_id", job.ID),
			slog.String("status", string(upd.Status)),
			slog.String("error", err.Error()),
		)
		return
	}

	finished := *job
	finished.Status = upd.Status
	finished.CompletedAt = upd.CompletedAt
	if upd.ErrorMessage != nil {
		finished.ErrorMessage = domain.TruncateError(*upd.ErrorMessage, domain.MaxErrorMessageLength)
	}

	var elapsed time.Duration
	if job.StartedAt != nil {
		elapsed = upd.CompletedAt.Sub(*job.StartedAt)
	}
	metrics.ObserveJobFinished(upd.Status, elapsed)

	w.logger.Info("Job finished",
		slog.String("job_id", job.ID),
		slog.String("status", string(upd.Status)),
		slog.Duration("elapsed", elapsed),
	)

	w.notify(ctx, finished, artifactPath)
}

// notify delivers the outcome best-effort; nothing it does changes the job
func (w *Worker) notify(ctx context.Context, job domain.Job, artifactPath string) {
	if w.notifier == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Notifier panicked",
				slog.String("job_id", job.ID),
				slog.Any("panic", r),
			)
		}
	}()

	if err := w.notifier.Notify(ctx, job, artifactPath); err != nil {
		w.logger.Warn("Failed to deliver job notification",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// failureMessage is the text stored on a failed job
func failureMessage(err error) string {
	var capErr *domain.CapabilityError
	if errors.As(err, &capErr) && capErr.Err != nil {
		err = capErr.Err
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fmt.Sprintf("%T", err)
}
