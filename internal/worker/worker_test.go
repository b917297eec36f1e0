package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/cuongbtq/transcribe-queue/internal/store"
	"github.com/cuongbtq/transcribe-queue/shared/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transcriberFunc func(ctx context.Context, job domain.Job, resultsDir string) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
	return f(ctx, job, resultsDir)
}

type recordingNotifier struct {
	mu        sync.Mutex
	jobs      []domain.Job
	artifacts []string
	err       error
}

func (n *recordingNotifier) Notify(ctx context.Context, job domain.Job, artifactPath string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.jobs = append(n.jobs, job)
	n.artifacts = append(n.artifacts, artifactPath)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.jobs)
}

type failingStore struct {
	claims int
}

func (f *failingStore) ClaimNext(ctx context.Context) (*domain.Job, error) {
	f.claims++
	return nil, domain.ErrStorageFailure
}

func (f *failingStore) UpdateStatus(ctx context.Context, id string, upd domain.StatusUpdate) error {
	return domain.ErrStorageFailure
}

func (f *failingStore) AcquireWorkerLease() (func(), error) {
	return func() {}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	client, err := database.NewClient(&database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s := store.New(client.GetDB(), testLogger())
	require.NoError(t, s.Init(context.Background()))
	return s
}

func enqueue(t *testing.T, s *store.Store, id string, offset time.Duration) {
	t.Helper()
	job := domain.NewQueuedJob(id, id+".wav", "/uploads/"+id+"/"+id+".wav", "en",
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(offset))
	require.NoError(t, s.Insert(context.Background(), &job))
}

func getJob(t *testing.T, s *store.Store, id string) *domain.Job {
	t.Helper()
	job, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return job
}

func newTestWorker(s JobStore, tr transcriberFunc, n *recordingNotifier) *Worker {
	cfg := &Config{
		Logger:       testLogger(),
		Store:        s,
		Transcriber:  tr,
		ResultsDir:   "/results",
		PollInterval: 10 * time.Millisecond,
	}
	if n != nil {
		cfg.Notifier = n
	}
	return NewWorker(cfg)
}

func succeed(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
	return filepath.Join(resultsDir, job.ID, "result.txt"), nil
}

func TestRunOnce_ProcessesInQueueOrder(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)
	enqueue(t, s, "b", time.Second)

	var seen []string
	notifier := &recordingNotifier{}
	w := newTestWorker(s, func(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
		seen = append(seen, job.ID)
		assert.Equal(t, domain.JobStatusRunning, job.Status)
		return succeed(ctx, job, resultsDir)
	}, notifier)

	ctx := context.Background()
	assert.True(t, w.RunOnce(ctx))
	assert.True(t, w.RunOnce(ctx))
	assert.False(t, w.RunOnce(ctx))

	assert.Equal(t, []string{"a", "b"}, seen)
	for _, id := range []string{"a", "b"} {
		job := getJob(t, s, id)
		assert.Equal(t, domain.JobStatusDone, job.Status)
		assert.NotNil(t, job.StartedAt)
		assert.NotNil(t, job.CompletedAt)
		assert.Empty(t, job.ErrorMessage)
	}

	require.Equal(t, 2, notifier.count())
	assert.Equal(t, domain.JobStatusDone, notifier.jobs[0].Status)
	assert.Equal(t, "/results/a/result.txt", notifier.artifacts[0])
}

func TestRunOnce_RecordsFailure(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)

	notifier := &recordingNotifier{}
	w := newTestWorker(s, func(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
		return "", domain.NewCapabilityError(errors.New("wtm failed with exit code 1"))
	}, notifier)

	assert.True(t, w.RunOnce(context.Background()))

	job := getJob(t, s, "a")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "wtm failed with exit code 1", job.ErrorMessage)
	assert.NotNil(t, job.CompletedAt)

	require.Equal(t, 1, notifier.count())
	assert.Equal(t, domain.JobStatusFailed, notifier.jobs[0].Status)
	assert.Empty(t, notifier.artifacts[0])
}

func TestRunOnce_TruncatesLongErrors(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)

	w := newTestWorker(s, func(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
		return "", errors.New(strings.Repeat("e", 5000))
	}, nil)

	assert.True(t, w.RunOnce(context.Background()))

	job := getJob(t, s, "a")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Len(t, []rune(job.ErrorMessage), domain.MaxErrorMessageLength)
	assert.True(t, strings.HasSuffix(job.ErrorMessage, "…"))
}

func TestRunOnce_PanicFailsJob(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)

	w := newTestWorker(s, func(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
		panic("model crashed")
	}, nil)

	assert.True(t, w.RunOnce(context.Background()))

	job := getJob(t, s, "a")
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "model crashed")
}

func TestRunOnce_NotifierFailureKeepsDone(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)

	notifier := &recordingNotifier{err: errors.New("broker down")}
	w := newTestWorker(s, succeed, notifier)

	assert.True(t, w.RunOnce(context.Background()))
	assert.Equal(t, domain.JobStatusDone, getJob(t, s, "a").Status)
	assert.Equal(t, 1, notifier.count())
}

func TestRunOnce_CancelledWhileTranscribing(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)
	enqueue(t, s, "b", time.Second)

	notifier := &recordingNotifier{}
	w := newTestWorker(s, func(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
		if job.ID == "a" {
			require.NoError(t, s.CancelRunning(ctx, job.ID))
		}
		return succeed(ctx, job, resultsDir)
	}, notifier)

	assert.True(t, w.RunOnce(context.Background()))
	assert.Equal(t, domain.JobStatusCancelled, getJob(t, s, "a").Status)
	assert.Zero(t, notifier.count())

	assert.True(t, w.RunOnce(context.Background()))
	assert.Equal(t, domain.JobStatusDone, getJob(t, s, "b").Status)
}

func TestRunOnce_Paused(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)

	w := newTestWorker(s, succeed, nil)
	w.Pause()
	assert.True(t, w.IsPaused())

	assert.False(t, w.RunOnce(context.Background()))
	assert.Equal(t, domain.JobStatusQueued, getJob(t, s, "a").Status)

	w.Resume()
	assert.True(t, w.RunOnce(context.Background()))
	assert.Equal(t, domain.JobStatusDone, getJob(t, s, "a").Status)
}

func TestRunOnce_StoreErrorIsIdle(t *testing.T) {
	fs := &failingStore{}
	w := newTestWorker(fs, succeed, nil)

	assert.False(t, w.RunOnce(context.Background()))
	assert.Equal(t, 1, fs.claims)
}

func TestWorker_LoopDrainsQueue(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)
	enqueue(t, s, "b", time.Second)
	enqueue(t, s, "c", 2*time.Second)

	w := newTestWorker(s, succeed, nil)
	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	assert.True(t, w.IsRunning())

	require.Eventually(t, func() bool {
		counts, err := s.CountByStatus(context.Background())
		return err == nil && counts[domain.JobStatusDone] == 3
	}, 5*time.Second, 10*time.Millisecond)

	assert.True(t, w.Stop(5*time.Second))
	assert.False(t, w.IsRunning())
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_OneLoopPerStore(t *testing.T) {
	s := newTestStore(t)

	first := newTestWorker(s, succeed, nil)
	second := newTestWorker(s, succeed, nil)

	require.NoError(t, first.Start())
	assert.ErrorIs(t, second.Start(), store.ErrWorkerActive)

	require.True(t, first.Stop(5*time.Second))
	require.NoError(t, second.Start())
	assert.True(t, second.Stop(5*time.Second))
}

func TestWorker_StopNeverStarted(t *testing.T) {
	w := newTestWorker(newTestStore(t), succeed, nil)

	assert.True(t, w.Stop(time.Second))
	assert.True(t, w.Stop(0))
	assert.Equal(t, StateStopped, w.State())
}

func TestWorker_StopWaitsForCurrentJob(t *testing.T) {
	s := newTestStore(t)
	enqueue(t, s, "a", 0)

	started := make(chan struct{})
	unblock := make(chan struct{})
	w := newTestWorker(s, func(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
		close(started)
		<-unblock
		return succeed(ctx, job, resultsDir)
	}, nil)

	require.NoError(t, w.Start())
	<-started
	assert.Equal(t, StateRunning, w.State())
	require.NotNil(t, w.CurrentJob())
	assert.Equal(t, "a", w.CurrentJob().ID)

	assert.False(t, w.Stop(20*time.Millisecond))
	assert.ErrorIs(t, w.Start(), ErrStopping)

	close(unblock)
	assert.True(t, w.Stop(5*time.Second))
	assert.Equal(t, domain.JobStatusDone, getJob(t, s, "a").Status)
}
