package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/autolinehq/autoline-be/internal/config"
	"github.com/autolinehq/autoline-be/internal/customer"
	"github.com/autolinehq/autoline-be/internal/dlq"
	"github.com/autolinehq/autoline-be/internal/queue"
	"github.com/autolinehq/autoline-be/internal/search"
	"github.com/autolinehq/autoline-be/internal/whatsapp"
	"github.com/autolinehq/autoline-be/internal/worker"
	"github.com/autolinehq/autoline-be/shared/logger"
	"github.com/autolinehq/autoline-be/shared/postgresql"
	sharedredis "github.com/autolinehq/autoline-be/shared/redis"
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

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Startup: every long-lived handle is built exactly once per worker
	// process and shared across concurrently executing jobs.
	dbClient, err := postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	redisClient, err := sharedredis.NewClient(&sharedredis.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
	}, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}

	httpTimeout := cfg.Search.Timeout
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	httpClient := &http.Client{Timeout: httpTimeout}

	whatsappClient, err := whatsapp.NewClient(&whatsapp.Config{
		BaseURL:       cfg.WhatsApp.APIBaseURL,
		APIVersion:    cfg.WhatsApp.APIVersion,
		PhoneNumberID: cfg.WhatsApp.PhoneNumberID,
		AccessToken:   cfg.WhatsApp.AccessToken,
	}, httpClient, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize WhatsApp client: %w", err)
	}

	customerStore := customer.NewStore(dbClient.GetDB(), appLogger.Logger)

	searchClient, err := search.NewClient(cfg.Search.BaseURL, httpClient, customerStore, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize search client: %w", err)
	}

	queueConfig := &queue.Config{
		WaitingChannel:   cfg.Queue.WaitingChannel,
		DelayedChannel:   cfg.Queue.DelayedChannel,
		ReservedChannel:  cfg.Queue.ReservedChannel,
		FailedChannel:    cfg.Queue.FailedChannel,
		MaxAttempts:      cfg.Queue.MaxAttempts,
		JobTimeout:       cfg.Queue.JobTimeout,
		ReservationGrace: cfg.Queue.ReservationGrace,
		PollInterval:     cfg.Queue.PollInterval,
		KeepResult:       cfg.Queue.KeepResult,
	}
	driver := queue.NewDriver(redisClient.GetRedis(), queueConfig, appLogger.Logger)
	deadLetters := dlq.New(redisClient.GetRedis(), appLogger.Logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := worker.NewMetrics(registry)

	w := worker.New(&worker.Config{
		Logger: appLogger.Logger,
		Driver: driver,
		Context: &worker.WorkerContext{
			Logger:      appLogger.Logger,
			HTTP:        httpClient,
			WhatsApp:    whatsappClient,
			Search:      searchClient,
			Dedup:       worker.NewDedupGuard(redisClient.GetRedis(), cfg.Worker.DedupTTL, appLogger.Logger),
			DeadLetters: deadLetters,
			Reporter:    worker.NewFailureReporter(appLogger.Logger),
		},
		Metrics:            metrics,
		DeadLetters:        deadLetters,
		Concurrency:        cfg.Worker.Concurrency,
		MaxAttempts:        cfg.Queue.MaxAttempts,
		JobTimeout:         cfg.Queue.JobTimeout,
		PollInterval:       cfg.Queue.PollInterval,
		QueueDepthInterval: cfg.Worker.QueueDepthInterval,
	})

	appLogger.Info("Worker startup complete")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Run(ctx)
	}()

	var metricsSrv *http.Server
	if cfg.Worker.MetricsPort > 0 {
		metricsSrv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Worker.MetricsPort),
			Handler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}
		go func() {
			appLogger.Info("Serving worker metrics",
				slog.Int("port", cfg.Worker.MetricsPort),
			)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				appLogger.Error("Metrics server failed",
					slog.Any("error", err),
				)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		if err != nil {
			appLogger.Error("Worker error",
				slog.Any("error", err),
			)
			return err
		}
	}

	cancel()

	// Give in-flight jobs time to drain before closing connections.
	select {
	case <-errChan:
		appLogger.Info("Worker stopped gracefully")
	case <-time.After(cfg.Worker.ShutdownTimeout):
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if metricsSrv != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = metricsSrv.Shutdown(shutdownCtx)
		shutdownCancel()
	}

	// Shutdown order: HTTP client first, then Redis, then the database.
	httpClient.CloseIdleConnections()
	redisClient.Close()
	dbClient.Close()

	appLogger.Info("Worker shutdown complete")
	return nil
}
