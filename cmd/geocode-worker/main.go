package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/mnboos/job-graph/internal/bootstrap"
	"github.com/mnboos/job-graph/internal/config"
	"github.com/mnboos/job-graph/internal/geocode"
	"github.com/mnboos/job-graph/internal/storage"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	configPath := bootstrap.ConfigFlag("GEOCODE_WORKER_CONFIG_PATH", "configs/geocode-worker/config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateEnricherConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting geocode worker",
		slog.String("app", cfg.App.Name),
		slog.Int("workers", cfg.Enricher.Workers),
		slog.Duration("poll_interval", cfg.Enricher.PollInterval),
	)

	dbClient, err := bootstrap.InitPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	var cache geocode.Cache
	redisClient, err := bootstrap.InitRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize Redis: %w", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
		cache = redisClient
	}

	enricher := geocode.NewEnricher(
		storage.NewRecordStore(dbClient.GetDB(), appLogger.Logger),
		bootstrap.NewSearcher(&cfg.Geocoder, cache, appLogger.Logger),
		appLogger.Logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	for {
		if err := runPass(ctx, enricher, cfg.Enricher.Workers, appLogger.Logger); err != nil {
			return err
		}
		if cfg.Enricher.PollInterval <= 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			appLogger.Info("Geocode worker stopped")
			return nil
		case <-time.After(cfg.Enricher.PollInterval):
		}
	}
}

// runPass runs workers enrichers side by side until none finds a record left
func runPass(ctx context.Context, enricher *geocode.Enricher, workers int, logger *slog.Logger) error {
	start := time.Now()
	stats := make([]geocode.EnrichStats, workers)

	g, gctx := errgroup.WithContext(ctx)
	for i := range workers {
		g.Go(func() error {
			s, err := enricher.Run(gctx)
			stats[i] = s
			return err
		})
	}

	err := g.Wait()

	var total geocode.EnrichStats
	for _, s := range stats {
		total.Geocoded += s.Geocoded
		total.Unknown += s.Unknown
		total.Failed += s.Failed
	}
	logger.Info("Geocode pass finished",
		slog.Int("geocoded", total.Geocoded),
		slog.Int("unknown", total.Unknown),
		slog.Int("failed", total.Failed),
		slog.Duration("took", time.Since(start)),
	)

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("geocode pass failed: %w", err)
	}
	return nil
}
