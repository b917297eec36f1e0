package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cuongbtq/transcribe-queue/internal/api/handler"
	"github.com/cuongbtq/transcribe-queue/internal/api/router"
	"github.com/cuongbtq/transcribe-queue/internal/api/storage"
	"github.com/cuongbtq/transcribe-queue/internal/config"
	"github.com/cuongbtq/transcribe-queue/internal/metrics"
	"github.com/cuongbtq/transcribe-queue/internal/notify"
	"github.com/cuongbtq/transcribe-queue/internal/store"
	"github.com/cuongbtq/transcribe-queue/internal/transcriber"
	"github.com/cuongbtq/transcribe-queue/internal/worker"
	"github.com/cuongbtq/transcribe-queue/shared/database"
	"github.com/cuongbtq/transcribe-queue/shared/logger"
	"github.com/cuongbtq/transcribe-queue/shared/rabbitmq"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	configPath := flag.String("config", "", "Path to configuration file (defaults to $"+config.EnvConfigPath+")")
	flag.Parse()

	cfg, err := config.Load(config.ResolvePath(*configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting transcribe service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := initDatabase(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established", slog.String("driver", dbClient.Driver()))

	// schema and recovery must both succeed before anything can claim
	jobStore := store.New(dbClient.GetDB(), appLogger.Component("store"))
	ctx := context.Background()
	if err := jobStore.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize job store: %w", err)
	}
	recovered, err := jobStore.RecoverRunningJobs(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover running jobs: %w", err)
	}
	metrics.AddJobsRecoveredMetric(recovered)

	files := storage.NewFileStore(cfg.Storage.UploadsDir, cfg.Storage.ResultsDir, appLogger.Logger)
	if err := files.EnsureDirs(); err != nil {
		return err
	}

	tr, err := transcriber.New(transcriber.Config{
		Backend:         cfg.Transcriber.Backend,
		WTMPath:         cfg.Transcriber.WTMPath,
		DefaultLanguage: cfg.Transcriber.DefaultLanguage,
	}, appLogger.Component("transcriber"))
	if err != nil {
		return fmt.Errorf("failed to initialize transcriber: %w", err)
	}

	notifier, rabbitClient, err := initNotifier(&cfg.Notifications.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize notifier: %w", err)
	}
	if rabbitClient != nil {
		defer rabbitClient.Close()
	}

	supervisor := worker.NewSupervisor(worker.Config{
		Logger:       appLogger.Component("worker"),
		Store:        jobStore,
		Transcriber:  tr,
		Notifier:     notifier,
		ResultsDir:   files.ResultsDir(),
		PollInterval: cfg.Worker.PollInterval,
	})
	if cfg.Worker.Enabled {
		if _, err := supervisor.Start(); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	} else {
		appLogger.Warn("Worker disabled, jobs will only be queued")
	}

	r := initRouter(cfg, appLogger.Logger, &handler.Dependencies{
		Logger:         appLogger.Component("api"),
		Store:          jobStore,
		Worker:         supervisor,
		Files:          files,
		DB:             dbClient,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	appLogger.Info("Transcribe service is running",
		slog.String("address", addr),
		slog.Bool("worker_enabled", cfg.Worker.Enabled),
		slog.String("backend", cfg.Transcriber.Backend),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		appLogger.Info("Shutdown signal received", slog.String("signal", sig.String()))
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		runErr = err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
	}

	if !supervisor.Stop(cfg.Worker.ShutdownTimeout) {
		appLogger.Warn("Worker did not stop in time, its job will be recovered on next start",
			slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
		)
	}

	appLogger.Info("Shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableSource,
		TimeFormat:   cfg.TimeFormat,
	})
}

// initDatabase opens the job database for the configured driver
func initDatabase(cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, error) {
	return database.NewClient(&database.Config{
		Driver:          cfg.Driver,
		Path:            cfg.Path,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initNotifier always logs completions and also publishes them to RabbitMQ when enabled
func initNotifier(cfg *config.RabbitMQConfig, logger *slog.Logger) (notify.Notifier, *rabbitmq.Client, error) {
	notifiers := notify.Multi{notify.NewLog(logger)}
	if !cfg.Enabled {
		return notifiers, nil, nil
	}

	client, err := rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueBindingKey:    cfg.Queue.BindingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	logger.Info("RabbitMQ connection established", slog.String("exchange", cfg.Exchange.Name))
	notifiers = append(notifiers, notify.NewRabbitMQ(client, cfg.RoutingPrefix, cfg.Publish.Timeout))
	return notifiers, client, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, deps *handler.Dependencies) *gin.Engine {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	logger.Debug("Router configured", slog.Int64("max_upload_bytes", deps.MaxUploadBytes))
	return router.SetupRouter(deps)
}
