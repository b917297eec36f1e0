package worker

import (
	"sync"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

// Supervisor owns the single worker of a process. Start hands back the live
// worker when one is already running instead of creating another.
type Supervisor struct {
	cfg Config

	mu     sync.Mutex
	worker *Worker
	paused bool
}

func NewSupervisor(cfg Config) *Supervisor {
	return &Supervisor{cfg: cfg}
}

// Start returns the running worker, creating and starting one if needed.
// While a previous Stop is still draining it fails with ErrStopping.
func (s *Supervisor) Start() (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.worker != nil && s.worker.IsRunning() {
		if err := s.worker.Start(); err != nil {
			return nil, err
		}
		return s.worker, nil
	}

	w := NewWorker(&s.cfg)
	if s.paused {
		w.paused.Store(true)
	}
	if err := w.Start(); err != nil {
		return nil, err
	}
	s.worker = w
	return w, nil
}

// Stop stops the current worker, if any. The worker is forgotten only once
// its loop has exited, so a timed-out stop still reports the draining job.
func (s *Supervisor) Stop(timeout time.Duration) bool {
	s.mu.Lock()
	w := s.worker
	s.mu.Unlock()

	if w == nil {
		return true
	}
	if !w.Stop(timeout) {
		return false
	}

	s.mu.Lock()
	if s.worker == w {
		s.worker = nil
	}
	s.mu.Unlock()
	return true
}

// Pause holds claiming on the current worker and on any worker started later
func (s *Supervisor) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	if s.worker != nil {
		s.worker.Pause()
	}
}

func (s *Supervisor) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	if s.worker != nil {
		s.worker.Resume()
	}
}

// State reports the worker state and the job it is transcribing
func (s *Supervisor) State() (string, *domain.Job) {
	s.mu.Lock()
	w := s.worker
	paused := s.paused
	s.mu.Unlock()

	if w == nil {
		if paused {
			return StatePaused, nil
		}
		return StateStopped, nil
	}
	return w.State(), w.CurrentJob()
}
