package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/jmoiron/sqlx"
)

// ClaimNext atomically moves the next queued job to running and returns it.
// It returns (nil, nil) when a job is already running or the queue is empty,
// which keeps at most one job running across the whole store.
func (s *Store) ClaimNext(ctx context.Context) (*domain.Job, error) {
	var claimed *domain.Job
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var running int
		if err := tx.GetContext(ctx, &running, tx.Rebind(
			"SELECT COUNT(*) FROM jobs WHERE status = ?"), statusRunning); err != nil {
			return storageError("count running jobs", err)
		}
		if running > 0 {
			return nil
		}

		var row jobRow
		err := tx.GetContext(ctx, &row, tx.Rebind(`
			SELECT `+jobColumnList+`
			FROM jobs
			WHERE status = ?
			ORDER BY
				CASE WHEN queue_position IS NULL THEN 1 ELSE 0 END,
				queue_position ASC,
				created_at ASC,
				id ASC
			LIMIT 1
		`), statusQueued)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storageError("select next job", err)
		}

		startedAt := s.timestamp()
		result, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE jobs
			SET status = ?, started_at = ?, queue_position = NULL
			WHERE id = ? AND status = ?
		`), statusRunning, startedAt, row.ID, statusQueued)
		if err != nil {
			return classify("claim job", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return storageError("claim job", err)
		}
		if affected != 1 {
			return fmt.Errorf("claim job %s: %w", row.ID, domain.ErrConstraintViolation)
		}

		row.Status = statusRunning
		row.StartedAt = sql.NullString{String: startedAt, Valid: true}
		row.QueuePosition = sql.NullInt64{}
		job, err := row.toDomain()
		if err != nil {
			return err
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}

	if claimed != nil {
		s.logger.Info("Job claimed",
			slog.String("job_id", claimed.ID),
			slog.String("filename", claimed.Filename),
		)
	}
	return claimed, nil
}

// Reorder assigns queue positions 1..n following ids. ids must name every
// queued job exactly once; otherwise nothing changes and
// domain.ErrInvalidTransition is returned.
func (s *Store) Reorder(ctx context.Context, ids []string) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		var queued []string
		if err := tx.SelectContext(ctx, &queued, tx.Rebind(
			"SELECT id FROM jobs WHERE status = ?"), statusQueued); err != nil {
			return storageError("select queued jobs", err)
		}

		if err := validateOrder(ids, queued); err != nil {
			return err
		}

		update := tx.Rebind("UPDATE jobs SET queue_position = ? WHERE id = ? AND status = ?")
		for i, id := range ids {
			result, err := tx.ExecContext(ctx, update, i+1, id, statusQueued)
			if err != nil {
				return classify("reorder queue", err)
			}
			affected, err := result.RowsAffected()
			if err != nil {
				return storageError("reorder queue", err)
			}
			if affected != 1 {
				return fmt.Errorf("reorder queue: %w: job %s left the queue", domain.ErrInvalidTransition, id)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Queue reordered",
		slog.Int("jobs", len(ids)),
	)
	return nil
}

func validateOrder(ids, queued []string) error {
	if len(ids) != len(queued) {
		return fmt.Errorf("reorder queue: %w: got %d ids for %d queued jobs", domain.ErrInvalidTransition, len(ids), len(queued))
	}

	want := make(map[string]struct{}, len(queued))
	for _, id := range queued {
		want[id] = struct{}{}
	}

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("reorder queue: %w: duplicate id %s", domain.ErrInvalidTransition, id)
		}
		seen[id] = struct{}{}
		if _, ok := want[id]; !ok {
			return fmt.Errorf("reorder queue: %w: job %s is not queued", domain.ErrInvalidTransition, id)
		}
	}
	return nil
}

// RecoverRunningJobs fails every job left running by a previous process.
// Call it once at startup, before any worker runs. An existing error message
// is kept; otherwise domain.RecoveredErrorMessage is recorded.
func (s *Store) RecoverRunningJobs(ctx context.Context) (int64, error) {
	var recovered int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		result, err := tx.ExecContext(ctx, tx.Rebind(`
			UPDATE jobs
			SET status = ?,
				completed_at = COALESCE(completed_at, ?),
				error_message = CASE
					WHEN error_message IS NULL OR error_message = '' THEN ?
					ELSE error_message
				END,
				queue_position = NULL
			WHERE status = ?
		`), statusFailed, s.timestamp(), domain.RecoveredErrorMessage, statusRunning)
		if err != nil {
			return classify("recover running jobs", err)
		}
		recovered, err = result.RowsAffected()
		if err != nil {
			return storageError("recover running jobs", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	if recovered > 0 {
		s.logger.Warn("Recovered jobs left running by a previous process",
			slog.Int64("count", recovered),
		)
	}
	return recovered, nil
}

// CancelRunning force-stops a running job. Only the row changes; an in-flight
// transcription is left to finish and its writeback is then rejected.
func (s *Store) CancelRunning(ctx context.Context, id string) error {
	now := s.now()
	return s.UpdateStatus(ctx, id, domain.StatusUpdate{
		Status:      domain.JobStatusCancelled,
		CompletedAt: &now,
	})
}
