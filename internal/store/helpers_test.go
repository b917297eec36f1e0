package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/cuongbtq/transcribe-queue/shared/database"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestDB(t *testing.T, path string) *database.Client {
	t.Helper()
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   path,
	}, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	client := openTestDB(t, filepath.Join(t.TempDir(), "jobs.db"))
	s := New(client.GetDB(), discardLogger(), opts...)
	require.NoError(t, s.Init(context.Background()))
	return s
}

func queuedJob(id string, createdAt time.Time) *domain.Job {
	job := domain.NewQueuedJob(id, id+".wav", "/uploads/"+id+"/"+id+".wav", "en", createdAt)
	return &job
}

func mustInsert(t *testing.T, s *Store, job *domain.Job) {
	t.Helper()
	require.NoError(t, s.Insert(context.Background(), job))
}

func mustGet(t *testing.T, s *Store, id string) *domain.Job {
	t.Helper()
	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func positions(t *testing.T, s *Store) map[string]int64 {
	t.Helper()
	jobs, err := s.ListAll(context.Background())
	require.NoError(t, err)
	out := make(map[string]int64, len(jobs))
	for _, job := range jobs {
		if job.QueuePosition != nil {
			out[job.ID] = *job.QueuePosition
		}
	}
	return out
}

func ids(jobs []domain.Job) []string {
	out := make([]string, len(jobs))
	for i, job := range jobs {
		out[i] = job.ID
	}
	return out
}
