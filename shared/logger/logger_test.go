package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, output *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var entries []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(output.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name     string
		level    string
		wantMsgs []string
	}{
		{name: "debug shows everything", level: "debug", wantMsgs: []string{"claim", "queued", "slow", "failed"}},
		{name: "info hides debug", level: "info", wantMsgs: []string{"queued", "slow", "failed"}},
		{name: "warning alias", level: "warning", wantMsgs: []string{"slow", "failed"}},
		{name: "error only", level: "ERROR", wantMsgs: []string{"failed"}},
		{name: "unknown defaults to info", level: "loud", wantMsgs: []string{"queued", "slow", "failed"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var output bytes.Buffer
			logger, err := New(&Config{Level: tt.level, Format: "json", writer: &output})
			require.NoError(t, err)

			logger.Debug("claim")
			logger.Info("queued")
			logger.Warn("slow")
			logger.Error("failed")

			var got []string
			for _, entry := range decodeLines(t, &output) {
				got = append(got, entry["msg"].(string))
			}
			assert.Equal(t, tt.wantMsgs, got)
		})
	}
}

func TestNew_JSONAttributes(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", writer: &output})
	require.NoError(t, err)

	logger.Info("Job finished",
		slog.String("job_id", "7d1c"),
		slog.String("status", "done"),
		slog.Int("attempt", 1),
		slog.Bool("notified", true),
	)

	entries := decodeLines(t, &output)
	require.Len(t, entries, 1)
	assert.Equal(t, "INFO", entries[0]["level"])
	assert.Equal(t, "7d1c", entries[0]["job_id"])
	assert.Equal(t, "done", entries[0]["status"])
	assert.Equal(t, float64(1), entries[0]["attempt"])
	assert.Equal(t, true, entries[0]["notified"])
	assert.Contains(t, entries[0], "time")
}

func TestNew_SourceLocation(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: &output})
	require.NoError(t, err)

	logger.Info("with source")

	entries := decodeLines(t, &output)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "source")
}

func TestNew_Console(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "console", TimeFormat: "15:04", writer: &output})
	require.NoError(t, err)

	logger.Info("Worker started", slog.String("results_dir", "data/results"))

	line := output.String()
	assert.Contains(t, line, "Worker started")
	assert.Contains(t, line, "data/results")
}

func TestNew_UnknownFormat(t *testing.T) {
	_, err := New(&Config{Level: "info", Format: "xml", Output: "stdout"})
	assert.Error(t, err)
}

func TestLogger_Component(t *testing.T) {
	var output bytes.Buffer
	logger, err := New(&Config{Level: "info", Format: "json", writer: &output})
	require.NoError(t, err)

	logger.Component("worker").Info("Starting worker")

	entries := decodeLines(t, &output)
	require.Len(t, entries, 1)
	assert.Equal(t, "worker", entries[0]["component"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	logger, err := New(&Config{
		Level:  "info",
		Format: "json",
		Output: path,
	})
	require.NoError(t, err)

	logger.Info("written to file", slog.String("job_id", "abc"))
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var logEntry map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &logEntry))
	assert.Equal(t, "written to file", logEntry["msg"])
	assert.Equal(t, "abc", logEntry["job_id"])

	// reopening appends
	logger, err = New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)
	logger.Info("second line")
	require.NoError(t, logger.Close())

	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(string(data)), "\n"), 2)
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	logger, err := New(&Config{Level: "info", Output: "stderr"})
	require.NoError(t, err)
	assert.NoError(t, logger.Close())
}
