// Package bootstrap builds the clients and components shared by the binaries
// under cmd/ from a loaded configuration.
package bootstrap

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/joho/godotenv"
	"github.com/mnboos/job-graph/internal/config"
	"github.com/mnboos/job-graph/internal/geocode"
	"github.com/mnboos/job-graph/internal/pipeline"
	"github.com/mnboos/job-graph/internal/scraper"
	"github.com/mnboos/job-graph/shared/logger"
	"github.com/mnboos/job-graph/shared/postgresql"
	"github.com/mnboos/job-graph/shared/rabbitmq"
	"github.com/mnboos/job-graph/shared/redis"
)

// ConfigFlag loads .env when present and registers the -config flag. The
// default comes from envVar, falling back to fallback. Call flag.Parse after.
func ConfigFlag(envVar, fallback string) *string {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv(envVar)
	if defaultConfigPath == "" {
		defaultConfigPath = fallback
	}
	return flag.String("config", defaultConfigPath, "Path to configuration file")
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	})
}

// InitPostgreSQL initializes the PostgreSQL database client
func InitPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
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

// InitRabbitMQ initializes the RabbitMQ client
func InitRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

// InitRedis connects the geocode cache. It returns nil without error when no
// address is configured.
func InitRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, nil
	}
	return redis.NewClient(&redis.Config{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}, logger)
}

// RabbitHealth adapts the connection state to a health probe
func RabbitHealth(c *rabbitmq.Client) func(ctx context.Context) error {
	return func(context.Context) error {
		if !c.IsConnected() {
			return errors.New("rabbitmq connection is closed")
		}
		return nil
	}
}

// ScraperConfig maps the scraper section onto the built-in scraper settings
func ScraperConfig(cfg *config.ScraperConfig) scraper.Config {
	return scraper.Config{
		OstjobURL:      cfg.OstjobURL,
		PageSize:       cfg.PageSize,
		RequestTimeout: cfg.RequestTimeout,
		Paginator: scraper.PaginatorConfig{
			Concurrency: cfg.Concurrency,
			JitterMin:   cfg.JitterMin,
			JitterMax:   cfg.JitterMax,
			MaxPages:    cfg.MaxPages,
		},
	}
}

// NewRegistry registers every built-in scraper
func NewRegistry(cfg *config.ScraperConfig, logger *slog.Logger) *scraper.Registry {
	return scraper.NewDefaultRegistry(ScraperConfig(cfg), logger)
}

// EnabledScraper reports whether name is both built in and enabled
func EnabledScraper(registry *scraper.Registry, cfg *config.ScraperConfig) func(string) bool {
	return func(name string) bool {
		return registry.Has(name) && slices.Contains(cfg.Enabled, name)
	}
}

// NewNormalizer builds the record normalizer from the scraper section
func NewNormalizer(cfg *config.ScraperConfig) *pipeline.Normalizer {
	return pipeline.NewNormalizer(pipeline.NormalizerConfig{
		DomesticCountryCodes: cfg.DomesticCountryCodes,
		DescriptionURL:       cfg.DescriptionURL,
	})
}

// NewSearcher builds the photon client, wrapped in the cache when one is given
func NewSearcher(cfg *config.GeocoderConfig, cache geocode.Cache, logger *slog.Logger) geocode.Searcher {
	var searcher geocode.Searcher = geocode.NewPhotonClient(geocode.PhotonConfig{
		BaseURL: cfg.BaseURL,
		Timeout: cfg.Timeout,
		Rate:    cfg.Rate,
		Burst:   cfg.Burst,
		Limit:   cfg.Limit,
	})
	if cache != nil {
		searcher = geocode.NewCachedSearcher(searcher, cache, cfg.CacheTTL, logger)
	}
	return searcher
}
