package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/jmoiron/sqlx"
)

var (
	statusQueued    = string(domain.JobStatusQueued)
	statusRunning   = string(domain.JobStatusRunning)
	statusFailed    = string(domain.JobStatusFailed)
	terminalClause  = "('done', 'failed', 'cancelled')"
	terminalStrings = []string{"done", "failed", "cancelled"}
)

const jobColumnList = `id, filename, status, created_at, upload_path, language,
	queue_position, started_at, completed_at, error_message`

// jobRow mirrors the jobs table; timestamps are stored as fixed-width UTC text.
type jobRow struct {
	ID            string         `db:"id"`
	Filename      string         `db:"filename"`
	Status        string         `db:"status"`
	CreatedAt     string         `db:"created_at"`
	UploadPath    string         `db:"upload_path"`
	Language      string         `db:"language"`
	QueuePosition sql.NullInt64  `db:"queue_position"`
	StartedAt     sql.NullString `db:"started_at"`
	CompletedAt   sql.NullString `db:"completed_at"`
	ErrorMessage  sql.NullString `db:"error_message"`
}

func newJobRow(job *domain.Job) jobRow {
	row := jobRow{
		ID:         job.ID,
		Filename:   job.Filename,
		Status:     string(job.Status),
		CreatedAt:  formatTime(job.CreatedAt),
		UploadPath: job.UploadPath,
		Language:   job.Language,
	}
	if job.QueuePosition != nil && job.Status == domain.JobStatusQueued {
		row.QueuePosition = sql.NullInt64{Int64: *job.QueuePosition, Valid: true}
	}
	if job.StartedAt != nil {
		row.StartedAt = sql.NullString{String: formatTime(*job.StartedAt), Valid: true}
	}
	if job.CompletedAt != nil {
		row.CompletedAt = sql.NullString{String: formatTime(*job.CompletedAt), Valid: true}
	}
	if job.ErrorMessage != "" {
		row.ErrorMessage = sql.NullString{String: job.ErrorMessage, Valid: true}
	}
	return row
}

func (r jobRow) toDomain() (domain.Job, error) {
	createdAt, err := parseTime(r.CreatedAt)
	if err != nil {
		return domain.Job{}, fmt.Errorf("job %s created_at: %w", r.ID, err)
	}

	job := domain.Job{
		ID:           r.ID,
		Filename:     r.Filename,
		Status:       domain.JobStatus(r.Status),
		CreatedAt:    createdAt,
		UploadPath:   r.UploadPath,
		Language:     r.Language,
		ErrorMessage: r.ErrorMessage.String,
	}
	if r.QueuePosition.Valid {
		position := r.QueuePosition.Int64
		job.QueuePosition = &position
	}
	if job.StartedAt, err = parseNullTime(r.StartedAt); err != nil {
		return domain.Job{}, fmt.Errorf("job %s started_at: %w", r.ID, err)
	}
	if job.CompletedAt, err = parseNullTime(r.CompletedAt); err != nil {
		return domain.Job{}, fmt.Errorf("job %s completed_at: %w", r.ID, err)
	}
	return job, nil
}

func parseNullTime(value sql.NullString) (*time.Time, error) {
	if !value.Valid || value.String == "" {
		return nil, nil
	}
	t, err := parseTime(value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func rowsToJobs(rows []jobRow) ([]domain.Job, error) {
	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Insert stores a new job. A queued job without a position is appended to the
// end of the queue; the assigned position is written back into job.
func (s *Store) Insert(ctx context.Context, job *domain.Job) error {
	if !job.Status.IsValid() {
		return fmt.Errorf("insert job %s: unknown status %q", job.ID, job.Status)
	}
	if job.Language == "" {
		job.Language = domain.DefaultLanguage
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	job.CreatedAt = normalizeTime(job.CreatedAt)
	job.StartedAt = normalizeOptionalTime(job.StartedAt)
	job.CompletedAt = normalizeOptionalTime(job.CompletedAt)
	job.ErrorMessage = domain.TruncateError(job.ErrorMessage, domain.MaxErrorMessageLength)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if job.Status == domain.JobStatusQueued {
			if job.QueuePosition == nil {
				position, err := nextQueuePosition(ctx, tx)
				if err != nil {
					return err
				}
				job.QueuePosition = &position
			} else if err := ensurePositionFree(ctx, tx, *job.QueuePosition); err != nil {
				return err
			}
		}

		query := `
			INSERT INTO jobs (` + jobColumnList + `)
			VALUES (:id, :filename, :status, :created_at, :upload_path, :language,
				:queue_position, :started_at, :completed_at, :error_message)
		`
		if _, err := tx.NamedExecContext(ctx, query, newJobRow(job)); err != nil {
			return classify("insert job", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusQueued {
		job.QueuePosition = nil
	}

	s.logger.Info("Job inserted",
		slog.String("job_id", job.ID),
		slog.String("status", string(job.Status)),
	)
	return nil
}

func nextQueuePosition(ctx context.Context, tx *sqlx.Tx) (int64, error) {
	var maxPosition int64
	err := tx.GetContext(ctx, &maxPosition, tx.Rebind(
		"SELECT COALESCE(MAX(queue_position), 0) FROM jobs WHERE status = ?"),
		statusQueued,
	)
	if err != nil {
		return 0, storageError("read max queue position", err)
	}
	return maxPosition + 1, nil
}

// ensurePositionFree rejects an explicit position already held by a queued job
func ensurePositionFree(ctx context.Context, tx *sqlx.Tx, position int64) error {
	var taken int
	err := tx.GetContext(ctx, &taken, tx.Rebind(
		"SELECT COUNT(*) FROM jobs WHERE status = ? AND queue_position = ?"),
		statusQueued, position,
	)
	if err != nil {
		return storageError("check queue position", err)
	}
	if taken > 0 {
		return fmt.Errorf("insert job: %w: queue position %d is taken", domain.ErrConstraintViolation, position)
	}
	return nil
}

// Get returns one job or domain.ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		"SELECT "+jobColumnList+" FROM jobs WHERE id = ?"), id)
	if err != nil {
		return nil, classify("get job", err)
	}

	job, err := row.toDomain()
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ListAll returns every job in display order: the running job, then the queue
// in position order (unpositioned last, then by creation), then finished jobs.
func (s *Store) ListAll(ctx context.Context) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumnList + `
		FROM jobs
		ORDER BY
			CASE status WHEN 'running' THEN 0 WHEN 'queued' THEN 1 ELSE 2 END,
			CASE WHEN status = 'queued' AND queue_position IS NOT NULL THEN 0 ELSE 1 END,
			CASE WHEN status = 'queued' THEN queue_position END,
			created_at ASC,
			id ASC
	`

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, classify("list jobs", err)
	}
	return rowsToJobs(rows)
}

// HistoryCursor marks the last job of a history page
type HistoryCursor struct {
	CreatedAt time.Time
	JobID     string
}

// HistoryFilter pages through finished jobs, newest first. Limit 0 returns all.
type HistoryFilter struct {
	Limit  int
	Cursor *HistoryCursor
}

// ListHistory returns jobs in a terminal status
func (s *Store) ListHistory(ctx context.Context, filter HistoryFilter) ([]domain.Job, error) {
	query := `
		SELECT ` + jobColumnList + `
		FROM jobs
		WHERE status IN ` + terminalClause
	args := []interface{}{}

	if filter.Cursor != nil {
		createdAt := formatTime(filter.Cursor.CreatedAt)
		query += " AND (created_at < ? OR (created_at = ? AND id < ?))"
		args = append(args, createdAt, createdAt, filter.Cursor.JobID)
	}

	query += " ORDER BY created_at DESC, id DESC"

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, classify("list history", err)
	}
	return rowsToJobs(rows)
}

// CountByStatus returns the number of jobs per status
func (s *Store) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := s.db.SelectContext(ctx, &rows,
		"SELECT status, COUNT(*) AS count FROM jobs GROUP BY status"); err != nil {
		return nil, classify("count jobs", err)
	}

	counts := make(map[domain.JobStatus]int, len(rows))
	for _, row := range rows {
		counts[domain.JobStatus(row.Status)] = row.Count
	}
	return counts, nil
}

// UpdateStatus moves a job along the state machine, changing only the fields
// supplied in upd. started_at and completed_at are never overwritten once set.
// A transition the state machine forbids returns domain.ErrInvalidTransition.
func (s *Store) UpdateStatus(ctx context.Context, id string, upd domain.StatusUpdate) error {
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		if !domain.CanTransition(current, upd.Status) {
			return fmt.Errorf("job %s: %w: %s -> %s", id, domain.ErrInvalidTransition, current, upd.Status)
		}

		sets := []string{"status = ?", "queue_position = NULL"}
		args := []interface{}{string(upd.Status)}
		if upd.StartedAt != nil {
			sets = append(sets, "started_at = COALESCE(started_at, ?)")
			args = append(args, formatTime(*upd.StartedAt))
		}
		if upd.CompletedAt != nil {
			sets = append(sets, "completed_at = COALESCE(completed_at, ?)")
			args = append(args, formatTime(*upd.CompletedAt))
		}
		if upd.ErrorMessage != nil {
			sets = append(sets, "error_message = ?")
			args = append(args, domain.TruncateError(*upd.ErrorMessage, domain.MaxErrorMessageLength))
		}
		args = append(args, id, string(current))

		query := "UPDATE jobs SET " + strings.Join(sets, ", ") + " WHERE id = ? AND status = ?"
		result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return classify("update job status", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return storageError("update job status", err)
		}
		if affected == 0 {
			return fmt.Errorf("job %s: %w: status changed concurrently", id, domain.ErrConstraintViolation)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("Job status updated",
		slog.String("job_id", id),
		slog.String("status", string(upd.Status)),
	)
	return nil
}

func currentStatus(ctx context.Context, tx *sqlx.Tx, id string) (domain.JobStatus, error) {
	var status string
	err := tx.GetContext(ctx, &status, tx.Rebind("SELECT status FROM jobs WHERE id = ?"), id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", storageError("read job status", err)
	}
	return domain.JobStatus(status), nil
}

// DeleteIfQueued removes a job that is still waiting in the queue. It reports
// false when the job is already gone and domain.ErrInvalidTransition when it
// has left the queue.
func (s *Store) DeleteIfQueued(ctx context.Context, id string) (bool, error) {
	return s.deleteGuarded(ctx, id, func(status domain.JobStatus) bool {
		return status == domain.JobStatusQueued
	}, "status = '"+statusQueued+"'")
}

// DeleteIfTerminal removes a finished job from history. It reports false when
// the job is already gone and domain.ErrInvalidTransition when it is not finished.
func (s *Store) DeleteIfTerminal(ctx context.Context, id string) (bool, error) {
	return s.deleteGuarded(ctx, id, domain.JobStatus.IsTerminal, "status IN "+terminalClause)
}

func (s *Store) deleteGuarded(ctx context.Context, id string, allowed func(domain.JobStatus) bool, guard string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		current, err := currentStatus(ctx, tx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if !allowed(current) {
			return fmt.Errorf("delete job %s: %w: status is %s", id, domain.ErrInvalidTransition, current)
		}

		result, err := tx.ExecContext(ctx, tx.Rebind("DELETE FROM jobs WHERE id = ? AND "+guard), id)
		if err != nil {
			return classify("delete job", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return storageError("delete job", err)
		}
		removed = affected > 0
		return nil
	})
	if err != nil {
		return false, err
	}

	if removed {
		s.logger.Info("Job deleted",
			slog.String("job_id", id),
		)
	}
	return removed, nil
}

// DeleteTerminalBatch removes the finished jobs among ids and returns how many
// rows were deleted. Ids that are missing or not finished are skipped.
func (s *Store) DeleteTerminalBatch(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var deleted int64
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		query, args, err := sqlx.In("DELETE FROM jobs WHERE id IN (?) AND status IN (?)", ids, terminalStrings)
		if err != nil {
			return fmt.Errorf("build batch delete: %w", err)
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return classify("delete jobs", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return storageError("delete jobs", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.logger.Info("History jobs deleted",
		slog.Int("requested", len(ids)),
		slog.Int64("deleted", deleted),
	)
	return deleted, nil
}
