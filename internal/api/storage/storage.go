package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fallbackFilename = "upload.bin"

// FileStore owns the upload and result directories. Each job gets
// <uploads>/<job_id>/ for its source file and <results>/<job_id>/ for output.
type FileStore struct {
	uploadsDir string
	resultsDir string
	logger     *slog.Logger
}

// NewFileStore creates a new file store instance
func NewFileStore(uploadsDir, resultsDir string, logger *slog.Logger) *FileStore {
	return &FileStore{
		uploadsDir: uploadsDir,
		resultsDir: resultsDir,
		logger:     logger,
	}
}

func (s *FileStore) ResultsDir() string {
	return s.resultsDir
}

// EnsureDirs creates the upload and result roots
func (s *FileStore) EnsureDirs() error {
	for _, dir := range []string{s.uploadsDir, s.resultsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// IsSafePathComponent reports whether value can be used as a single path
// element without escaping its parent directory.
func IsSafePathComponent(value string) bool {
	if value == "" || value == "." || value == ".." {
		return false
	}
	return !strings.ContainsAny(value, `/\`) && filepath.Base(value) == value
}

// SanitizeFilename keeps only the final element of a client supplied name
func SanitizeFilename(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)
	if !IsSafePathComponent(name) {
		return fallbackFilename
	}
	return name
}

// SaveUpload copies src to <uploads>/<jobID>/<sanitized filename> and
// returns the stored name and full path.
func (s *FileStore) SaveUpload(jobID, filename string, src io.Reader) (string, string, error) {
	if !IsSafePathComponent(jobID) {
		return "", "", fmt.Errorf("invalid job id %q", jobID)
	}

	safeName := SanitizeFilename(filename)
	jobDir := filepath.Join(s.uploadsDir, jobID)
	if err := os.MkdirAll(jobDir, 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create upload dir: %w", err)
	}

	destination := filepath.Join(jobDir, safeName)
	out, err := os.Create(destination)
	if err != nil {
		return "", "", fmt.Errorf("failed to create upload file: %w", err)
	}

	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.RemoveAll(jobDir)
		return "", "", fmt.Errorf("failed to write upload: %w", err)
	}
	if err := out.Close(); err != nil {
		os.RemoveAll(jobDir)
		return "", "", fmt.Errorf("failed to close upload: %w", err)
	}

	s.logger.Debug("Upload stored",
		slog.String("job_id", jobID),
		slog.String("path", destination),
	)
	return safeName, destination, nil
}

// RemoveJobFiles deletes a job's upload and result directories. Failures are
// logged and otherwise ignored.
func (s *FileStore) RemoveJobFiles(jobID string) {
	if !IsSafePathComponent(jobID) {
		return
	}
	for _, dir := range []string{
		filepath.Join(s.uploadsDir, jobID),
		filepath.Join(s.resultsDir, jobID),
	} {
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Warn("Failed to remove job files",
				slog.String("job_id", jobID),
				slog.String("path", dir),
				slog.String("error", err.Error()),
			)
		}
	}
}

// ListResults returns the sorted names of regular files in a job's result dir
func (s *FileStore) ListResults(jobID string) ([]string, error) {
	if !IsSafePathComponent(jobID) {
		return []string{}, nil
	}

	entries, err := os.ReadDir(filepath.Join(s.resultsDir, jobID))
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read results: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// ResultPath resolves a result file, reporting false unless it is a regular
// file inside the job's result dir.
func (s *FileStore) ResultPath(jobID, filename string) (string, bool) {
	if !IsSafePathComponent(jobID) || !IsSafePathComponent(filename) {
		return "", false
	}

	path := filepath.Join(s.resultsDir, jobID, filename)
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}
