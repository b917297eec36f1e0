package database

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverSQLite selects the embedded single-file store
	DriverSQLite = "sqlite3"
	// DriverPostgres selects a PostgreSQL server
	DriverPostgres = "postgres"
)

// Config holds database connection configuration
type Config struct {
	Driver          string
	Path            string // sqlite3 only
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client represents a database client
type Client struct {
	db     *sqlx.DB
	config *Config
	logger *slog.Logger
}

// NewClient opens and verifies a database connection for the configured driver
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	dsn, err := buildDSN(config)
	if err != nil {
		return nil, err
	}

	logger.Info("Connecting to database",
		slog.String("driver", config.Driver),
		slog.String("path", config.Path),
		slog.String("host", config.Host),
		slog.String("database", config.Database),
	)

	db, err := sqlx.Open(config.Driver, dsn)
	if err != nil {
		logger.Error("Failed to open database",
			slog.Any("error", err),
		)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	applyPoolSettings(db, config)

	// Verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("Failed to ping database",
			slog.Any("error", err),
		)
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Successfully connected to database",
		slog.String("driver", config.Driver),
		slog.Int("max_open_conns", db.Stats().MaxOpenConnections),
	)

	return &Client{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// buildDSN renders the driver-specific data source name
func buildDSN(config *Config) (string, error) {
	switch config.Driver {
	case DriverSQLite:
		if config.Path == "" {
			return "", fmt.Errorf("sqlite3 database path is required")
		}
		if err := os.MkdirAll(filepath.Dir(config.Path), 0o755); err != nil {
			return "", fmt.Errorf("failed to create database directory: %w", err)
		}
		// _txlock=immediate takes the write lock at BEGIN so read-modify-write
		// transactions cannot interleave.
		return fmt.Sprintf("%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", config.Path), nil
	case DriverPostgres:
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			config.Host,
			config.Port,
			config.User,
			config.Password,
			config.Database,
			config.SSLMode,
		), nil
	default:
		return "", fmt.Errorf("unsupported database driver: %q", config.Driver)
	}
}

func applyPoolSettings(db *sqlx.DB, config *Config) {
	if config.Driver == DriverSQLite {
		// One connection serializes every statement against the file.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		return
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
}

// GetDB returns the underlying sqlx.DB instance
func (c *Client) GetDB() *sqlx.DB {
	return c.db
}

// Driver returns the configured driver name
func (c *Client) Driver() string {
	return c.config.Driver
}

// Close closes the database connection
func (c *Client) Close() error {
	c.logger.Info("Closing database connection", slog.String("stats", c.Stats()))

	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("Database connection closed successfully")
	return nil
}

// Ping checks the database connection
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats returns database statistics
func (c *Client) Stats() string {
	stats := c.db.Stats()
	return fmt.Sprintf(
		"MaxOpenConns: %d, OpenConns: %d, InUse: %d, Idle: %d, WaitCount: %d, WaitDuration: %s",
		stats.MaxOpenConnections,
		stats.OpenConnections,
		stats.InUse,
		stats.Idle,
		stats.WaitCount,
		stats.WaitDuration,
	)
}

// HealthCheck performs a health check on the database
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := c.db.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("database query health check failed: %w", err)
	}

	return nil
}
