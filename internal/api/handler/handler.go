package handler

import (
	"context"
	"log/slog"

	"github.com/mnboos/job-graph/internal/domain"
	"github.com/mnboos/job-graph/internal/storage"
)

// RecordReader reads canonical records; *storage.RecordStore satisfies it.
type RecordReader interface {
	GetRecord(ctx context.Context, id int64) (*domain.JobRecord, error)
	ListRecords(ctx context.Context, filter storage.RecordFilter) ([]*domain.JobRecord, error)
}

// RunReader reads scrape runs; *storage.RunStore satisfies it.
type RunReader interface {
	GetRun(ctx context.Context, runID string) (*domain.ScrapeRun, error)
}

// RunEnqueuer starts scrape runs; *runs.Service satisfies it.
type RunEnqueuer interface {
	Enqueue(ctx context.Context, scraper string, query []string, idempotencyKey string) (*domain.ScrapeRun, bool, error)
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Records  RecordReader
	Runs     RunReader
	Enqueuer RunEnqueuer
	// Health is probed by GET /health, keyed by component name
	Health map[string]func(ctx context.Context) error
}

// JobHandler serves the canonical job records
type JobHandler struct {
	logger  *slog.Logger
	records RecordReader
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		records: deps.Records,
	}
}

// ScrapeHandler starts and inspects scrape runs
type ScrapeHandler struct {
	logger   *slog.Logger
	runs     RunReader
	enqueuer RunEnqueuer
}

// NewScrapeHandler creates a new ScrapeHandler instance
func NewScrapeHandler(deps *Dependencies) *ScrapeHandler {
	return &ScrapeHandler{
		logger:   deps.Logger,
		runs:     deps.Runs,
		enqueuer: deps.Enqueuer,
	}
}
