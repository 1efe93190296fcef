package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mnboos/job-graph/internal/domain"
	"github.com/mnboos/job-graph/internal/scraper"
)

// Task runs one ingestion: scrape, normalize and reconcile.
type Task struct {
	registry   *scraper.Registry
	normalizer *Normalizer
	reconciler *Reconciler
	logger     *slog.Logger
}

// NewTask creates a new Task instance
func NewTask(registry *scraper.Registry, normalizer *Normalizer, reconciler *Reconciler, logger *slog.Logger) *Task {
	return &Task{
		registry:   registry,
		normalizer: normalizer,
		reconciler: reconciler,
		logger:     logger,
	}
}

// Run scrapes with the scraper registered as name and reconciles every item
// sequentially. Item failures are counted and logged; an unknown scraper or
// a failed scrape aborts the run. On cancellation the partial report is
// returned together with the error.
func (t *Task) Run(ctx context.Context, name string, query []string) (*domain.RunReport, error) {
	s, err := t.registry.New(name, query)
	if err != nil {
		return nil, err
	}

	logger := t.logger.With(slog.String("scraper", name))
	logger.Info("Running scraper", slog.Any("query", query))

	items, err := s.Scrape(ctx)
	if err != nil {
		return nil, fmt.Errorf("scrape failed: %w", err)
	}

	report := &domain.RunReport{Fetched: len(items)}

	for i, raw := range items {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("run canceled after %d items: %w", i, err)
		}

		item, err := t.normalizer.Normalize(raw)
		if err != nil {
			if errors.Is(err, domain.ErrItemSkipped) {
				report.Skipped++
				logger.Debug("Item skipped", slog.String("reason", err.Error()))
				continue
			}
			report.Failed++
			logger.Warn("Failed to normalize item",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}

		rec, created, err := t.reconciler.Reconcile(ctx, item)
		if err != nil {
			report.Failed++
			logger.Error("Failed to reconcile item",
				slog.String("company", item.CompanyName),
				slog.String("title", item.Title),
				slog.String("zip", item.Zip),
				slog.String("error", err.Error()),
			)
			continue
		}

		if created {
			report.Created++
		} else {
			report.Updated++
		}
		logger.Debug("Item reconciled",
			slog.Int64("record_id", rec.ID),
			slog.Bool("created", created),
		)
	}

	logger.Info("Scraper run finished",
		slog.Int("fetched", report.Fetched),
		slog.Int("created", report.Created),
		slog.Int("updated", report.Updated),
		slog.Int("skipped", report.Skipped),
		slog.Int("failed", report.Failed),
	)

	return report, nil
}
