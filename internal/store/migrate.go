package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	upload_path TEXT NOT NULL,
	language TEXT NOT NULL DEFAULT 'en',
	queue_position INTEGER,
	started_at TEXT,
	completed_at TEXT,
	error_message TEXT
)`

const indexDDL = `CREATE INDEX IF NOT EXISTS idx_jobs_status_queue_order ON jobs(status, queue_position, created_at)`

type columnDef struct {
	name string
	ddl  string
}

// additive migrations for stores created by older releases
var jobColumns = []columnDef{
	{name: "language", ddl: "ALTER TABLE jobs ADD COLUMN language TEXT NOT NULL DEFAULT 'en'"},
	{name: "queue_position", ddl: "ALTER TABLE jobs ADD COLUMN queue_position INTEGER"},
	{name: "started_at", ddl: "ALTER TABLE jobs ADD COLUMN started_at TEXT"},
	{name: "completed_at", ddl: "ALTER TABLE jobs ADD COLUMN completed_at TEXT"},
	{name: "error_message", ddl: "ALTER TABLE jobs ADD COLUMN error_message TEXT"},
}

// Init creates the jobs table when absent and migrates older layouts in place:
// missing columns are added and their defaults backfilled into existing rows.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storageError("create jobs table", err)
	}

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		added, err := ensureJobColumns(ctx, tx)
		if err != nil {
			return err
		}
		for _, name := range added {
			s.logger.Info("Migrated jobs table",
				slog.String("added_column", name),
			)
		}

		if _, err := tx.ExecContext(ctx, tx.Rebind(
			"UPDATE jobs SET language = ? WHERE language IS NULL OR language = ''"),
			domain.DefaultLanguage,
		); err != nil {
			return storageError("backfill language", err)
		}

		rewritten, err := normalizeTimestamps(ctx, tx)
		if err != nil {
			return err
		}
		if rewritten > 0 {
			s.logger.Info("Rewrote timestamps to fixed width",
				slog.Int("jobs", rewritten),
			)
		}

		backfilled, err := backfillQueuePositions(ctx, tx)
		if err != nil {
			return err
		}
		if backfilled > 0 {
			s.logger.Info("Backfilled queue positions",
				slog.Int("jobs", backfilled),
			)
		}

		if _, err := tx.ExecContext(ctx, indexDDL); err != nil {
			return storageError("create queue index", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	return nil
}

// ensureJobColumns adds any column missing from the live table and reports which.
func ensureJobColumns(ctx context.Context, tx *sqlx.Tx) ([]string, error) {
	rows, err := tx.QueryxContext(ctx, "SELECT * FROM jobs LIMIT 0")
	if err != nil {
		return nil, storageError("inspect jobs table", err)
	}
	names, err := rows.Columns()
	rows.Close()
	if err != nil {
		return nil, storageError("inspect jobs columns", err)
	}

	columns := make(map[string]struct{}, len(names))
	for _, name := range names {
		columns[name] = struct{}{}
	}

	var added []string
	for _, col := range jobColumns {
		if _, ok := columns[col.name]; ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, col.ddl); err != nil {
			return nil, storageError("add column "+col.name, err)
		}
		added = append(added, col.name)
	}
	return added, nil
}

// backfillQueuePositions numbers queued rows lacking a position by creation
// order, continuing after the current maximum so positions stay unique.
func backfillQueuePositions(ctx context.Context, tx *sqlx.Tx) (int, error) {
	var maxPosition int64
	if err := tx.GetContext(ctx, &maxPosition, tx.Rebind(
		"SELECT COALESCE(MAX(queue_position), 0) FROM jobs WHERE status = ?"),
		statusQueued,
	); err != nil {
		return 0, storageError("read max queue position", err)
	}

	var ids []string
	if err := tx.SelectContext(ctx, &ids, tx.Rebind(
		"SELECT id FROM jobs WHERE status = ? AND queue_position IS NULL ORDER BY created_at ASC, id ASC"),
		statusQueued,
	); err != nil {
		return 0, storageError("select unpositioned jobs", err)
	}

	update := tx.Rebind("UPDATE jobs SET queue_position = ? WHERE id = ?")
	for i, id := range ids {
		if _, err := tx.ExecContext(ctx, update, maxPosition+int64(i)+1, id); err != nil {
			return 0, storageError("backfill queue position", err)
		}
	}
	return len(ids), nil
}

type timestampRow struct {
	ID          string         `db:"id"`
	CreatedAt   string         `db:"created_at"`
	StartedAt   sql.NullString `db:"started_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

// normalizeTimestamps rewrites timestamps written in another RFC 3339 shape
// (e.g. "...:00Z") into timeLayout, which ordering by text relies on.
func normalizeTimestamps(ctx context.Context, tx *sqlx.Tx) (int, error) {
	var rows []timestampRow
	if err := tx.SelectContext(ctx, &rows,
		"SELECT id, created_at, started_at, completed_at FROM jobs"); err != nil {
		return 0, storageError("select timestamps", err)
	}

	update := tx.Rebind("UPDATE jobs SET created_at = ?, started_at = ?, completed_at = ? WHERE id = ?")
	rewritten := 0
	for _, row := range rows {
		createdAt, createdChanged, err := reformatTimestamp(row.CreatedAt)
		if err != nil {
			return 0, fmt.Errorf("job %s created_at: %w", row.ID, err)
		}
		startedAt, startedChanged, err := reformatNullTimestamp(row.StartedAt)
		if err != nil {
			return 0, fmt.Errorf("job %s started_at: %w", row.ID, err)
		}
		completedAt, completedChanged, err := reformatNullTimestamp(row.CompletedAt)
		if err != nil {
			return 0, fmt.Errorf("job %s completed_at: %w", row.ID, err)
		}
		if !createdChanged && !startedChanged && !completedChanged {
			continue
		}

		if _, err := tx.ExecContext(ctx, update, createdAt, startedAt, completedAt, row.ID); err != nil {
			return 0, storageError("rewrite timestamps", err)
		}
		rewritten++
	}
	return rewritten, nil
}

func reformatTimestamp(value string) (string, bool, error) {
	t, err := parseTime(value)
	if err != nil {
		return "", false, err
	}
	formatted := formatTime(t)
	return formatted, formatted != value, nil
}

func reformatNullTimestamp(value sql.NullString) (sql.NullString, bool, error) {
	if !value.Valid || value.String == "" {
		return value, false, nil
	}
	formatted, changed, err := reformatTimestamp(value.String)
	if err != nil {
		return value, false, err
	}
	return sql.NullString{String: formatted, Valid: true}, changed, nil
}
