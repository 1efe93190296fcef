package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnboos/job-graph/internal/bootstrap"
	"github.com/mnboos/job-graph/internal/config"
	"github.com/mnboos/job-graph/internal/pipeline"
	"github.com/mnboos/job-graph/internal/storage"
	"github.com/mnboos/job-graph/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := bootstrap.ConfigFlag("WORKER_SERVICE_CONFIG_PATH", "configs/worker-service/config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	recordStore := storage.NewRecordStore(dbClient.GetDB(), appLogger.Logger)
	task := pipeline.NewTask(
		bootstrap.NewRegistry(&cfg.Scraper, appLogger.Logger),
		bootstrap.NewNormalizer(&cfg.Scraper),
		pipeline.NewReconciler(recordStore, appLogger.Logger),
		appLogger.Logger,
	)

	workerInstance := worker.NewWorker(&worker.Config{
		WorkerID:          workerID,
		Logger:            appLogger.Logger,
		Source:            rabbitClient,
		Store:             storage.NewRunStore(dbClient.GetDB(), appLogger.Logger).WithStaleAfter(3 * cfg.Worker.HeartbeatInterval),
		Runner:            task,
		Concurrency:       cfg.Worker.Concurrency,
		PrefetchCount:     cfg.RabbitMQ.Consumer.PrefetchCount,
		RunTimeout:        cfg.Worker.RunTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully", slog.String("worker_id", workerID))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error", slog.Any("error", err))
		return err
	}

	cancel()

	shutdownTimeout := cfg.Worker.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}
