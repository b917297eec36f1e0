package config

import (
	"fmt"
	"os"
	"time"

	"github.com/cuongbtq/transcribe-queue/internal/domain"
	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvConfigPath names the variable consulted when no -config flag is given
	EnvConfigPath = "TRANSCRIBE_SERVICE_CONFIG_PATH"
)

// Config represents the complete application configuration
type Config struct {
	App           AppConfig           `yaml:"app"`
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Storage       StorageConfig       `yaml:"storage"`
	Worker        WorkerConfig        `yaml:"worker"`
	Transcriber   TranscriberConfig   `yaml:"transcriber"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
}

// DatabaseConfig selects the job store backend. sqlite3 uses Path; postgres
// uses the network fields.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	Path            string        `yaml:"path"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// StorageConfig holds on-disk locations for uploads and results
type StorageConfig struct {
	UploadsDir string `yaml:"uploads_dir"`
	ResultsDir string `yaml:"results_dir"`
}

// WorkerConfig holds worker loop configuration
type WorkerConfig struct {
	Enabled         bool          `yaml:"enabled"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TranscriberConfig selects the transcription backend
type TranscriberConfig struct {
	Backend         string `yaml:"backend"`
	WTMPath         string `yaml:"wtm_path"`
	DefaultLanguage string `yaml:"default_language"`
}

// NotificationsConfig holds outbound delivery settings
type NotificationsConfig struct {
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Host          string           `yaml:"host"`
	Port          int              `yaml:"port"`
	User          string           `yaml:"user"`
	Password      string           `yaml:"password"`
	VHost         string           `yaml:"vhost"`
	Exchange      ExchangeConfig   `yaml:"exchange"`
	Queue         QueueConfig      `yaml:"queue"`
	RoutingPrefix string           `yaml:"routing_prefix"`
	Connection    ConnectionConfig `yaml:"connection"`
	Publish       PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name    string `yaml:"name"`
	Type    string `yaml:"type"`
	Durable bool   `yaml:"durable"`
}

// QueueConfig holds the optional queue bound to the events exchange
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	BindingKey string `yaml:"binding_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Timeout           time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableSource bool   `yaml:"enable_source"`
	TimeFormat   string `yaml:"time_format"`
}

// Default returns the configuration used for any key a file leaves out
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:        "transcribe-service",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  2 << 30,
		},
		Database: DatabaseConfig{
			Driver:          "sqlite3",
			Path:            "data/jobs.db",
			SSLMode:         "disable",
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Storage: StorageConfig{
			UploadsDir: "data/uploads",
			ResultsDir: "data/results",
		},
		Worker: WorkerConfig{
			Enabled:         true,
			PollInterval:    500 * time.Millisecond,
			ShutdownTimeout: 30 * time.Second,
		},
		Transcriber: TranscriberConfig{
			Backend:         "wtm",
			WTMPath:         "wtm",
			DefaultLanguage: domain.DefaultLanguage,
		},
		Notifications: NotificationsConfig{
			RabbitMQ: RabbitMQConfig{
				Port:          5672,
				VHost:         "/",
				RoutingPrefix: "job",
				Exchange: ExchangeConfig{
					Name:    "transcribe.events",
					Type:    "topic",
					Durable: true,
				},
				Connection: ConnectionConfig{
					RetryAttempts: 5,
					RetryInterval: 2 * time.Second,
					Heartbeat:     10 * time.Second,
				},
				Publish: PublishConfig{
					RetryAttempts:     3,
					RetryInterval:     100 * time.Millisecond,
					BackoffMultiplier: 2,
					Timeout:           5 * time.Second,
				},
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
	}
}

// ResolvePath picks the config file: the flag value first, then EnvConfigPath
func ResolvePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return os.Getenv(EnvConfigPath)
}

// Load reads the configuration file over Default and applies environment
// overrides. An empty path yields defaults plus overrides.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvOverrides(os.LookupEnv)
	return config, nil
}

// applyEnvOverrides lets operational variables win over the file
func (c *Config) applyEnvOverrides(lookup func(string) (string, bool)) {
	if v, ok := lookup("WTM_PATH"); ok && v != "" {
		c.Transcriber.WTMPath = v
	}
	if v, ok := lookup("WTM_LANGUAGE"); ok && v != "" {
		c.Transcriber.DefaultLanguage = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.Logging.Level = v
	}
	if v, ok := lookup("DATABASE_PATH"); ok && v != "" {
		c.Database.Path = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	if c.Storage.UploadsDir == "" {
		return fmt.Errorf("storage uploads_dir is required")
	}

	if c.Storage.ResultsDir == "" {
		return fmt.Errorf("storage results_dir is required")
	}

	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker poll_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout < 0 {
		return fmt.Errorf("worker shutdown_timeout must not be negative")
	}

	switch c.Transcriber.Backend {
	case "fake", "wtm":
	default:
		return fmt.Errorf("unknown transcriber backend: %q (must be fake or wtm)", c.Transcriber.Backend)
	}

	if !domain.ValidLanguage(c.Transcriber.DefaultLanguage) {
		return fmt.Errorf("invalid default language: %q", c.Transcriber.DefaultLanguage)
	}

	if c.Notifications.RabbitMQ.Enabled {
		if err := c.validateRabbitMQ(); err != nil {
			return err
		}
	}

	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite3")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateRabbitMQ() error {
	mq := c.Notifications.RabbitMQ

	if mq.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if mq.Port < MinPort || mq.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", mq.Port, MinPort, MaxPort)
	}

	if mq.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	return nil
}
