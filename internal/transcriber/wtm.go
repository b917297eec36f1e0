package transcriber

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
)

// outputTailLimit bounds how much CLI output is quoted in an error message.
const outputTailLimit = 2000

type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}
	return result, nil
}

// WTM runs the external wtm command line tool for each job.
type WTM struct {
	path            string
	defaultLanguage string
	runner          commandRunner
	logger          *slog.Logger
}

// NewWTM creates a CLI backend. An empty path resolves "wtm" from PATH and an
// empty language falls back to domain.DefaultLanguage.
func NewWTM(path, defaultLanguage string, logger *slog.Logger) *WTM {
	return newWTM(path, defaultLanguage, &execRunner{}, logger)
}

func newWTM(path, defaultLanguage string, runner commandRunner, logger *slog.Logger) *WTM {
	if path == "" {
		path = "wtm"
	}
	defaultLanguage = strings.TrimSpace(defaultLanguage)
	if defaultLanguage == "" {
		defaultLanguage = domain.DefaultLanguage
	}
	return &WTM{
		path:            path,
		defaultLanguage: defaultLanguage,
		runner:          runner,
		logger:          logger,
	}
}

func (w *WTM) Transcribe(ctx context.Context, job domain.Job, resultsDir string) (string, error) {
	jobDir := filepath.Join(resultsDir, job.ID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", domain.NewCapabilityError(fmt.Errorf("create result dir: %w", err))
	}

	language := job.Language
	if language == "" {
		language = w.defaultLanguage
	}
	args := []string{job.UploadPath, "--language", language, "--output_dir", jobDir}

	w.logger.Info("Running wtm",
		slog.String("job_id", job.ID),
		slog.String("language", language),
	)
	start := time.Now()

	result, err := w.runner.Run(ctx, w.path, args...)
	if err != nil {
		return "", domain.NewCapabilityError(formatRunError(result, err))
	}

	w.logger.Info("wtm finished",
		slog.String("job_id", job.ID),
		slog.Duration("elapsed", time.Since(start)),
	)

	matches, err := filepath.Glob(filepath.Join(jobDir, "*.txt"))
	if err != nil {
		return "", domain.NewCapabilityError(err)
	}
	if len(matches) == 0 {
		return "", domain.NewCapabilityError(fmt.Errorf("wtm completed but no .txt output found in %s", jobDir))
	}
	sort.Strings(matches)
	return matches[0], nil
}

func formatRunError(result commandResult, err error) error {
	if result.ExitCode < 0 {
		return fmt.Errorf("wtm could not run: %w", err)
	}

	message := fmt.Sprintf("wtm failed with exit code %d", result.ExitCode)
	if stderr := domain.TailText(result.Stderr, outputTailLimit); stderr != "" {
		message += "; stderr: " + stderr
	}
	if stdout := domain.TailText(result.Stdout, outputTailLimit); stdout != "" {
		message += "; stdout: " + stdout
	}
	return errors.New(message)
}
