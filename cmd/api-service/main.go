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

	"github.com/gin-gonic/gin"
	"github.com/mnboos/job-graph/internal/api/handler"
	"github.com/mnboos/job-graph/internal/api/router"
	"github.com/mnboos/job-graph/internal/bootstrap"
	"github.com/mnboos/job-graph/internal/config"
	"github.com/mnboos/job-graph/internal/runs"
	"github.com/mnboos/job-graph/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := bootstrap.ConfigFlag("API_SERVICE_CONFIG_PATH", "configs/api-service/config.yaml")
	schemaPath := flag.String("schema", "", "Apply this SQL schema file before serving")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if *schemaPath != "" {
		script, err := os.ReadFile(*schemaPath)
		if err != nil {
			return fmt.Errorf("failed to read schema: %w", err)
		}
		if err := dbClient.ApplySchema(context.Background(), string(script)); err != nil {
			return err
		}
		appLogger.Info("Schema applied", slog.String("path", *schemaPath))
	}

	rabbitClient, err := bootstrap.InitRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	registry := bootstrap.NewRegistry(&cfg.Scraper, appLogger.Logger)
	runStore := storage.NewRunStore(dbClient.GetDB(), appLogger.Logger)
	runService := runs.NewService(runStore, rabbitClient,
		bootstrap.EnabledScraper(registry, &cfg.Scraper),
		runs.Config{
			MaxRetries:   cfg.Worker.MaxRetries,
			Timeout:      cfg.Worker.RunTimeout,
			DefaultQuery: cfg.Scraper.DefaultQuery,
		},
		appLogger.Logger,
	)

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	r := router.SetupRouter(&handler.Dependencies{
		Logger:   appLogger.Logger,
		Records:  storage.NewRecordStore(dbClient.GetDB(), appLogger.Logger),
		Runs:     runStore,
		Enqueuer: runService,
		Health: map[string]func(context.Context) error{
			"database": dbClient.HealthCheck,
			"rabbitmq": bootstrap.RabbitHealth(rabbitClient),
		},
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-errChan:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}
