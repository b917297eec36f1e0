package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"github.com/cuongbtq/transcribe-queue/internal/notify"
	"github.com/cuongbtq/transcribe-queue/internal/transcriber"
)

const DefaultPollInterval = 500 * time.Millisecond

// ErrStopping is returned by Start while a previous loop is still draining
var ErrStopping = errors.New("worker is stopping")

// Worker states reported by State
const (
	StateStopped = "stopped"
	StatePaused  = "paused"
	StateIdle    = "idle"
	StateRunning = "running"
)

// JobStore is the part of the job store the worker drives
type JobStore interface {
	ClaimNext(ctx context.Context) (*domain.Job, error)
	UpdateStatus(ctx context.Context, id string, upd domain.StatusUpdate) error
	AcquireWorkerLease() (func(), error)
}

// Config holds worker configuration
type Config struct {
	Logger       *slog.Logger
	Store        JobStore
	Transcriber  transcriber.Transcriber
	Notifier     notify.Notifier
	ResultsDir   string
	PollInterval time.Duration
	Clock        func() time.Time
}

// Worker claims queued jobs one at a time and runs them through the
// transcriber. A store admits one active loop at a time.
type Worker struct {
	logger       *slog.Logger
	store        JobStore
	transcriber  transcriber.Transcriber
	notifier     notify.Notifier
	resultsDir   string
	pollInterval time.Duration
	now          func() time.Time

	mu       sync.Mutex
	running  bool
	stopping bool
	stopChan chan struct{}
	done     chan struct{}
	release  func()

	paused     atomic.Bool
	currentJob atomic.Pointer[domain.Job]
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &Worker{
		logger:       cfg.Logger,
		store:        cfg.Store,
		transcriber:  cfg.Transcriber,
		notifier:     cfg.Notifier,
		resultsDir:   cfg.ResultsDir,
		pollInterval: pollInterval,
		now:          now,
	}
}

// Start launches the polling loop in the background. Calling Start on a
// running worker is a no-op. It fails with store.ErrWorkerActive when another
// worker already polls the same store.
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		if w.stopping {
			return ErrStopping
		}
		return nil
	}

	release, err := w.store.AcquireWorkerLease()
	if err != nil {
		return err
	}

	w.release = release
	w.stopChan = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	w.stopping = false

	w.logger.Info("Starting worker",
		slog.Duration("poll_interval", w.pollInterval),
		slog.String("results_dir", w.resultsDir),
	)

	go w.loop(w.stopChan, w.done)
	return nil
}

// Stop asks the loop to exit and waits up to timeout for it; a timeout of
// zero waits indefinitely. An in-flight transcription is not interrupted.
// Stop reports whether the loop exited in time and is safe on a worker that
// never started.
func (w *Worker) Stop(timeout time.Duration) bool {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return true
	}
	if !w.stopping {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
		w.stopping = true
	}
	done := w.done
	w.mu.Unlock()

	if timeout <= 0 {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		w.logger.Warn("Worker did not stop in time, leaving current job to finish",
			slog.Duration("timeout", timeout),
		)
		return false
	}
}

// IsRunning reports whether the polling loop is alive
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Pause makes every following iteration idle without claiming. A job already
// being transcribed still finishes.
func (w *Worker) Pause() {
	if !w.paused.Swap(true) {
		w.logger.Info("Worker paused")
	}
}

func (w *Worker) Resume() {
	if w.paused.Swap(false) {
		w.logger.Info("Worker resumed")
	}
}

func (w *Worker) IsPaused() bool {
	return w.paused.Load()
}

// CurrentJob returns the job being transcribed, if any
func (w *Worker) CurrentJob() *domain.Job {
	return w.currentJob.Load()
}

// State summarizes the worker for operators
func (w *Worker) State() string {
	switch {
	case w.CurrentJob() != nil:
		return StateRunning
	case !w.IsRunning():
		return StateStopped
	case w.IsPaused():
		return StatePaused
	default:
		return StateIdle
	}
}

func (w *Worker) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		w.mu.Lock()
		w.running = false
		w.stopping = false
		release := w.release
		w.release = nil
		w.mu.Unlock()

		if release != nil {
			release()
		}
		w.logger.Info("Worker stopped")
		close(done)
	}()

	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		default:
		}

		if w.RunOnce(ctx) {
			continue
		}

		timer := time.NewTimer(w.pollInterval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
