package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/mnboos/job-graph/internal/domain"
	"github.com/mnboos/job-graph/internal/scraper"
	"github.com/mnboos/job-graph/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type pagedFetcher struct {
	pages [][]scraper.RawItem
}

func (f *pagedFetcher) FetchPage(_ context.Context, page int) (*scraper.Page, error) {
	if page < 1 || page > len(f.pages) {
		return nil, fmt.Errorf("page %d out of range", page)
	}
	return &scraper.Page{Items: f.pages[page-1], Pages: len(f.pages)}, nil
}

type staticScraper struct {
	items []scraper.RawItem
	err   error
}

func (s staticScraper) Scrape(context.Context) ([]scraper.RawItem, error) {
	return s.items, s.err
}

func posting(company, title, zip, url string) scraper.RawItem {
	return scraper.RawItem{
		"title":         title,
		"url":           url,
		"workplaceZip":  zip,
		"countryCodes":  []any{"CH"},
		"company":       map[string]any{"name": company, "zip": "0000"},
		"workplaceCity": "St. Gallen",
	}
}

func newTestTask(registry *scraper.Registry) (*Task, *storage.MemoryRecordStore) {
	store := storage.NewMemoryRecordStore()
	logger := discardLogger()
	return NewTask(registry, NewNormalizer(NormalizerConfig{}), NewReconciler(store, logger), logger), store
}

func TestTask_RunTwoPagesWithDuplicate(t *testing.T) {
	var page1, page2 []scraper.RawItem
	for i := 0; i < 5; i++ {
		page1 = append(page1, posting(fmt.Sprintf("Company %d", i), "Dev", "9000", fmt.Sprintf("https://x/1/%d", i)))
	}
	for i := 5; i < 9; i++ {
		page2 = append(page2, posting(fmt.Sprintf("Company %d", i), "Dev", "9000", fmt.Sprintf("https://x/2/%d", i)))
	}
	// same posting listed again under another URL
	page2 = append(page2, posting("Company 0", "Dev", "9000", "https://x/2/dup"))

	registry := scraper.NewRegistry()
	registry.Register("paged", func([]string) scraper.Scraper {
		return scraper.NewPaginator(&pagedFetcher{pages: [][]scraper.RawItem{page1, page2}}, scraper.PaginatorConfig{}, discardLogger())
	})

	task, store := newTestTask(registry)
	report, err := task.Run(context.Background(), "paged", []string{"go"})
	require.NoError(t, err)

	assert.Equal(t, &domain.RunReport{Fetched: 10, Created: 9, Updated: 1}, report)

	records := store.Records()
	require.Len(t, records, 9)
	for _, rec := range records {
		if rec.CompanyName == "Company 0" {
			assert.Equal(t, []string{"https://x/1/0", "https://x/2/dup"}, rec.SourceURLs)
		} else {
			assert.Len(t, rec.SourceURLs, 1)
		}
	}
}

func TestTask_ItemFailuresDoNotAbort(t *testing.T) {
	items := []scraper.RawItem{
		posting("Acme", "Dev", "9000", "https://x/1"),
		{"title": "no company"},
		{
			"title": "Dev", "workplaceZip": "80331", "countryCodes": []any{"DE"},
			"company": map[string]any{"name": "Foreign GmbH"},
		},
		posting("Beta", "Ops", "8000", "https://x/2"),
	}

	registry := scraper.NewRegistry()
	registry.Register("static", func([]string) scraper.Scraper { return staticScraper{items: items} })

	task, store := newTestTask(registry)
	report, err := task.Run(context.Background(), "static", nil)
	require.NoError(t, err)

	assert.Equal(t, &domain.RunReport{Fetched: 4, Created: 2, Skipped: 1, Failed: 1}, report)
	assert.Len(t, store.Records(), 2)
}

func TestTask_UnknownScraper(t *testing.T) {
	task, store := newTestTask(scraper.NewRegistry())

	report, err := task.Run(context.Background(), "missing", nil)
	assert.ErrorIs(t, err, domain.ErrUnknownScraper)
	assert.Nil(t, report)
	assert.Empty(t, store.Records())
}

func TestTask_ScrapeError(t *testing.T) {
	boom := errors.New("scrape canceled")
	registry := scraper.NewRegistry()
	registry.Register("broken", func([]string) scraper.Scraper { return staticScraper{err: boom} })

	task, _ := newTestTask(registry)
	_, err := task.Run(context.Background(), "broken", nil)
	assert.ErrorIs(t, err, boom)
}

func TestTask_CanceledKeepsReconciledItems(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	items := []scraper.RawItem{
		posting("Acme", "Dev", "9000", "https://x/1"),
		posting("Beta", "Dev", "9000", "https://x/2"),
	}
	registry := scraper.NewRegistry()
	registry.Register("static", func([]string) scraper.Scraper { return staticScraper{items: items} })

	store := storage.NewMemoryRecordStore()
	logger := discardLogger()
	cancelling := &cancelAfterCreate{MemoryRecordStore: store, cancel: cancel}
	task := NewTask(registry, NewNormalizer(NormalizerConfig{}), NewReconciler(cancelling, logger), logger)

	report, err := task.Run(ctx, "static", nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.Created)
	assert.Len(t, store.Records(), 1)
}

type cancelAfterCreate struct {
	*storage.MemoryRecordStore
	cancel context.CancelFunc
}

func (s *cancelAfterCreate) CreateOrGet(ctx context.Context, rec *domain.JobRecord) (*domain.JobRecord, bool, error) {
	defer s.cancel()
	return s.MemoryRecordStore.CreateOrGet(ctx, rec)
}
