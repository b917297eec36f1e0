package database

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		config    *Config
		want      string
		errString string
	}{
		{
			name:   "sqlite with path",
			config: &Config{Driver: DriverSQLite, Path: filepath.Join(dir, "data", "jobs.db")},
			want:   filepath.Join(dir, "data", "jobs.db") + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate",
		},
		{
			name:      "sqlite without path",
			config:    &Config{Driver: DriverSQLite},
			errString: "path is required",
		},
		{
			name: "postgres",
			config: &Config{
				Driver:   DriverPostgres,
				Host:     "localhost",
				Port:     5432,
				User:     "app",
				Password: "secret",
				Database: "jobs_db",
				SSLMode:  "disable",
			},
			want: "host=localhost port=5432 user=app password=secret dbname=jobs_db sslmode=disable",
		},
		{
			name:      "unknown driver",
			config:    &Config{Driver: "mysql"},
			errString: "unsupported database driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dsn, err := buildDSN(tt.config)
			if tt.errString != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, dsn)
		})
	}
}

func TestNewClient_SQLite(t *testing.T) {
	client, err := NewClient(&Config{
		Driver: DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "jobs.db"),
	}, discardLogger())
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, DriverSQLite, client.Driver())
	assert.Equal(t, 1, client.GetDB().Stats().MaxOpenConnections)
	assert.NoError(t, client.HealthCheck(context.Background()))
	assert.Contains(t, client.Stats(), "MaxOpenConns: 1")
}
