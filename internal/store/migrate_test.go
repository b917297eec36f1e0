package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacySchema = `
CREATE TABLE jobs (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at TEXT NOT NULL,
	upload_path TEXT NOT NULL
)`

func TestInit_MigratesLegacyTable(t *testing.T) {
	ctx := context.Background()
	client := openTestDB(t, filepath.Join(t.TempDir(), "legacy.db"))
	db := client.GetDB()

	_, err := db.ExecContext(ctx, legacySchema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, status, created_at, upload_path) VALUES
		('late', 'late.wav', 'queued', '2024-01-01T00:00:10.000000Z', '/u/late.wav'),
		('early', 'early.wav', 'queued', '2024-01-01T00:00:01.000000Z', '/u/early.wav'),
		('old', 'old.wav', 'done', '2024-01-01T00:00:00.000000Z', '/u/old.wav')
	`)
	require.NoError(t, err)

	s := New(db, discardLogger())
	require.NoError(t, s.Init(ctx))

	for _, id := range []string{"late", "early", "old"} {
		assert.Equal(t, domain.DefaultLanguage, mustGet(t, s, id).Language)
	}
	assert.Equal(t, map[string]int64{"early": 1, "late": 2}, positions(t, s))
	assert.Nil(t, mustGet(t, s, "old").QueuePosition)

	job, err := s.ClaimNext(ctx)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "early", job.ID)
}

func TestInit_BackfillContinuesAfterExistingPositions(t *testing.T) {
	ctx := context.Background()
	client := openTestDB(t, filepath.Join(t.TempDir(), "partial.db"))
	db := client.GetDB()

	_, err := db.ExecContext(ctx, legacySchema)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, "ALTER TABLE jobs ADD COLUMN queue_position INTEGER")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, status, created_at, upload_path, queue_position) VALUES
		('placed', 'p.wav', 'queued', '2024-01-01T00:00:09.000000Z', '/u/p.wav', 5),
		('loose', 'l.wav', 'queued', '2024-01-01T00:00:01.000000Z', '/u/l.wav', NULL)
	`)
	require.NoError(t, err)

	s := New(db, discardLogger())
	require.NoError(t, s.Init(ctx))

	assert.Equal(t, map[string]int64{"placed": 5, "loose": 6}, positions(t, s))
}

func TestInit_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, queuedJob("a", baseTime))

	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.Init(ctx))

	got := mustGet(t, s, "a")
	require.NotNil(t, got.QueuePosition)
	assert.Equal(t, int64(1), *got.QueuePosition)
}

func TestInit_RewritesShortTimestamps(t *testing.T) {
	ctx := context.Background()
	client := openTestDB(t, filepath.Join(t.TempDir(), "short.db"))
	db := client.GetDB()

	_, err := db.ExecContext(ctx, legacySchema)
	require.NoError(t, err)
	// "...:01Z" sorts after "...:01.500000Z" as text although it is earlier
	_, err = db.ExecContext(ctx, `
		INSERT INTO jobs (id, filename, status, created_at, upload_path) VALUES
		('newer', 'n.wav', 'queued', '2024-01-01T00:00:01.500000Z', '/u/n.wav'),
		('older', 'o.wav', 'queued', '2024-01-01T00:00:01Z', '/u/o.wav')
	`)
	require.NoError(t, err)

	s := New(db, discardLogger())
	require.NoError(t, s.Init(ctx))

	var stored string
	require.NoError(t, db.GetContext(ctx, &stored, "SELECT created_at FROM jobs WHERE id = 'older'"))
	assert.Equal(t, "2024-01-01T00:00:01.000000Z", stored)
	assert.Equal(t, map[string]int64{"older": 1, "newer": 2}, positions(t, s))

	jobs, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "newer"}, ids(jobs))
}
