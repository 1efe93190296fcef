package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultConcurrency is the number of page requests allowed in flight at once
	DefaultConcurrency = 3
	// DefaultJitterMin is the lower bound of the pause before every batch
	DefaultJitterMin = 100 * time.Millisecond
	// DefaultJitterMax is the upper bound of the pause before every batch
	DefaultJitterMax = 1000 * time.Millisecond
	// DefaultMaxPages caps the page count a board may announce
	DefaultMaxPages = 500
)

// Page is one page of search results.
type Page struct {
	Items []RawItem `json:"items"`
	Pages int       `json:"pages"`
}

// PageFetcher fetches a single 1-based result page.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) (*Page, error)
}

// PaginatorConfig holds pacing settings for a Paginator
type PaginatorConfig struct {
	Concurrency int
	JitterMin   time.Duration
	JitterMax   time.Duration
	MaxPages    int
}

// Paginator drives a PageFetcher across all pages of a query.
type Paginator struct {
	fetcher     PageFetcher
	concurrency int
	jitterMin   time.Duration
	jitterMax   time.Duration
	maxPages    int
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewPaginator creates a paginator, falling back to defaults for unset values
func NewPaginator(fetcher PageFetcher, cfg PaginatorConfig, logger *slog.Logger) *Paginator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.JitterMin < 0 {
		cfg.JitterMin = 0
	}
	if cfg.JitterMax < cfg.JitterMin {
		cfg.JitterMax = cfg.JitterMin
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}

	return &Paginator{
		fetcher:     fetcher,
		concurrency: cfg.Concurrency,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
		maxPages:    cfg.MaxPages,
		logger:      logger,
		sleep:       sleepContext,
	}
}

// Scrape fetches page 1 to learn the page count, then fetches the remaining
// pages with at most p.concurrency requests in flight. A failed page adds no
// items and does not stop the others.
func (p *Paginator) Scrape(ctx context.Context) ([]RawItem, error) {
	first, err := p.fetcher.FetchPage(ctx, 1)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("scrape canceled: %w", ctxErr)
		}
		p.logger.Warn("Failed to fetch first page",
			slog.Int("page", 1),
			slog.String("error", err.Error()),
		)
		return nil, nil
	}

	items := append([]RawItem(nil), first.Items...)
	pages := first.Pages
	if pages <= 1 {
		return items, nil
	}
	if pages > p.maxPages {
		p.logger.Warn("Page count capped",
			slog.Int("reported_pages", pages),
			slog.Int("max_pages", p.maxPages),
		)
		pages = p.maxPages
	}

	p.logger.Info("Fetching remaining pages",
		slog.Int("total_pages", pages),
		slog.Int("concurrency", p.concurrency),
	)

	// keyed by page number so the merge keeps page order
	var mu sync.Mutex
	results := make(map[int][]RawItem)

	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for i, page := 0, 2; page <= pages; i, page = i+1, page+1 {
		if i%p.concurrency == 0 {
			if err := p.pause(ctx, i); err != nil {
				break
			}
		}

		g.Go(func() error {
			pg, err := p.fetcher.FetchPage(ctx, page)
			if err != nil {
				p.logger.Warn("Failed to fetch page",
					slog.Int("page", page),
					slog.String("error", err.Error()),
				)
				return nil
			}
			mu.Lock()
			results[page] = pg.Items
			mu.Unlock()
			return nil
		})
	}

	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scrape canceled: %w", err)
	}

	for page := 2; page <= pages; page++ {
		items = append(items, results[page]...)
	}

	p.logger.Info("Scrape finished",
		slog.Int("total_pages", pages),
		slog.Int("items", len(items)),
	)

	return items, nil
}

func (p *Paginator) pause(ctx context.Context, batch int) error {
	d := p.jitterMin
	if spread := p.jitterMax - p.jitterMin; spread > 0 {
		d += rand.N(spread + 1)
	}
	p.logger.Debug("Pausing before batch",
		slog.Int("batch_start", batch),
		slog.Duration("sleep", d),
	)
	return p.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
