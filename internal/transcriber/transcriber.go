package transcriber

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

const (
	BackendFake = "fake"
	BackendWTM  = "wtm"
)

// Transcriber converts one job's upload into a result file stored under
// resultsDir/<job id>/ and returns that file's path. Failures come back as
// *domain.CapabilityError.
type Transcriber interface {
	Transcribe(ctx context.Context, job domain.Job, resultsDir string) (string, error)
}

// Config selects and configures a backend
type Config struct {
	Backend         string
	WTMPath         string
	DefaultLanguage string
}

// New builds the backend named by cfg.Backend
func New(cfg Config, logger *slog.Logger) (Transcriber, error) {
	switch cfg.Backend {
	case "", BackendFake:
		return NewFake(), nil
	case BackendWTM:
		return NewWTM(cfg.WTMPath, cfg.DefaultLanguage, logger), nil
	default:
		return nil, fmt.Errorf("unknown transcriber backend: %s", cfg.Backend)
	}
}
