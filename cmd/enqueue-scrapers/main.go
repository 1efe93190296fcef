package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"time"

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
	configPath := bootstrap.ConfigFlag("ENQUEUE_SCRAPERS_CONFIG_PATH", "configs/enqueue-scrapers/config.yaml")
	keyPrefix := flag.String("key-prefix", "", "Idempotency key prefix; runs repeat only when it changes (default: one per day)")
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

	registry := bootstrap.NewRegistry(&cfg.Scraper, appLogger.Logger)
	service := runs.NewService(
		storage.NewRunStore(dbClient.GetDB(), appLogger.Logger),
		rabbitClient,
		bootstrap.EnabledScraper(registry, &cfg.Scraper),
		runs.Config{
			MaxRetries:   cfg.Worker.MaxRetries,
			Timeout:      cfg.Worker.RunTimeout,
			DefaultQuery: cfg.Scraper.DefaultQuery,
		},
		appLogger.Logger,
	)

	prefix := *keyPrefix
	if prefix == "" {
		prefix = time.Now().UTC().Format(time.DateOnly)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	var failed int
	for _, name := range cfg.Scraper.Enabled {
		run, created, err := service.Enqueue(ctx, name, nil, prefix+":"+name)
		if err != nil {
			failed++
			appLogger.Error("Failed to enqueue scraper",
				slog.String("scraper", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		appLogger.Info("Scraper enqueued",
			slog.String("scraper", name),
			slog.String("run_id", run.RunID),
			slog.Bool("created", created),
		)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scrapers failed to enqueue", failed, len(cfg.Scraper.Enabled))
	}
	return nil
}
