package transcriber

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

// Fake writes a placeholder transcript without touching the upload.
type Fake struct{}

func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Transcribe(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", domain.NewCapabilityError(err)
	}

	jobDir := filepath.Join(resultsDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", domain.NewCapabilityError(fmt.Errorf("create result dir: %w", err))
	}

	resultPath := filepath.Join(jobDir, "result.txt")
	content := fmt.Sprintf("Fake transcript for %s (%s)\n", job.Filename, job.ID)
	if err := os.WriteFile(resultPath, []byte(content), 0o644); err != nil {
		return "", domain.NewCapabilityError(fmt.Errorf("write result: %w", err))
	}
	return resultPath, nil
}
