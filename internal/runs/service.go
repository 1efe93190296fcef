package runs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mnboos/job-graph/internal/domain"
)

// RunCreator persists scrape runs
type RunCreator interface {
	CreateRun(ctx context.Context, run *domain.ScrapeRun) (*domain.ScrapeRun, bool, error)
}

// Publisher delivers run messages to the worker queue
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Config holds the defaults applied to new runs
type Config struct {
	MaxRetries   int
	Timeout      time.Duration
	DefaultQuery []string
}

// Service creates scrape runs and hands them to the workers.
type Service struct {
	store     RunCreator
	publisher Publisher
	known     func(name string) bool
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a new Service instance. known reports whether a scraper
// name can be run; unknown names are rejected before anything is stored.
func NewService(store RunCreator, publisher Publisher, known func(string) bool, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		known:     known,
		cfg:       cfg,
		logger:    logger,
	}
}

// Enqueue stores a PENDING run and publishes its message. Repeating a call
// with the same idempotency key returns the stored run; it is published
// again only while still PENDING. An empty key gets a fresh one, so the call
// always creates a run.
func (s *Service) Enqueue(ctx context.Context, scraperName string, query []string, idempotencyKey string) (*domain.ScrapeRun, bool, error) {
	if !s.known(scraperName) {
		return nil, false, fmt.Errorf("%w: %q", domain.ErrUnknownScraper, scraperName)
	}

	query = cleanQuery(query)
	if len(query) == 0 {
		query = s.cfg.DefaultQuery
	}

	runID := uuid.NewString()
	if idempotencyKey == "" {
		idempotencyKey = runID
	}

	run, created, err := s.store.CreateRun(ctx, &domain.ScrapeRun{
		RunID:          runID,
		IdempotencyKey: idempotencyKey,
		Scraper:        scraperName,
		Query:          query,
		MaxRetries:     s.cfg.MaxRetries,
		TimeoutSeconds: int(s.cfg.Timeout / time.Second),
	})
	if err != nil {
		return nil, false, err
	}

	logger := s.logger.With(
		slog.String("run_id", run.RunID),
		slog.String("scraper", run.Scraper),
	)

	if !created && run.Status != domain.RunStatusPending {
		logger.Info("Scrape run already exists",
			slog.String("idempotency_key", idempotencyKey),
			slog.String("status", run.Status),
		)
		return run, false, nil
	}

	// a PENDING duplicate is published again: its first publish may have
	// failed, and ClaimRun only lets one message through
	body, err := json.Marshal(domain.RunMessage{RunID: run.RunID})
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode run message: %w", err)
	}

	if err := s.publisher.PublishWithRetry(ctx, body, "application/json"); err != nil {
		logger.Error("Failed to publish scrape run", slog.String("error", err.Error()))
		return run, created, fmt.Errorf("failed to publish run %s: %w", run.RunID, err)
	}

	logger.Info("Scrape run enqueued",
		slog.Any("query", run.Query),
		slog.Bool("created", created),
	)
	return run, created, nil
}

func cleanQuery(query []string) []string {
	out := make([]string, 0, len(query))
	for _, q := range query {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
