package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	// OstjobName is the registry identifier of the ostjob.ch scraper
	OstjobName = "ostjob"
	// OstjobAPIURL is the public vacancy search endpoint
	OstjobAPIURL = "https://api.ostjob.ch/public/vacancy/search/"

	defaultPageSize       = 10
	defaultRequestTimeout = 15 * time.Second
	userAgent             = "job-graph/1.0"
)

// Config holds settings shared by the built-in scrapers
type Config struct {
	OstjobURL      string
	PageSize       int
	RequestTimeout time.Duration
	Paginator      PaginatorConfig
}

// BuildSearch joins terms into the board's OR syntax: ((a) | (b)).
func BuildSearch(terms []string) string {
	parts := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		parts = append(parts, "("+t+")")
	}
	return "(" + strings.Join(parts, " | ") + ")"
}

// OstjobFetcher fetches result pages from the ostjob.ch search API.
type OstjobFetcher struct {
	baseURL  string
	search   string
	pageSize int
	hc       *http.Client
}

// NewOstjobFetcher creates a fetcher for the given query terms
func NewOstjobFetcher(query []string, cfg Config) *OstjobFetcher {
	baseURL := cfg.OstjobURL
	if baseURL == "" {
		baseURL = OstjobAPIURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &OstjobFetcher{
		baseURL:  baseURL,
		search:   BuildSearch(query),
		pageSize: pageSize,
		hc:       &http.Client{Timeout: timeout},
	}
}

// FetchPage requests one page. Transport errors and non-2xx responses are
// returned as errors; the caller treats them as an empty page.
func (f *OstjobFetcher) FetchPage(ctx context.Context, page int) (*Page, error) {
	if page < 1 {
		return nil, fmt.Errorf("invalid page %d: pages start at 1", page)
	}

	params := url.Values{}
	params.Set("search", f.search)
	params.Set("page", strconv.Itoa(page))
	params.Set("pageSize", strconv.Itoa(f.pageSize))
	params.Set("order", "by_relevance")
	params.Set("relatedWords", "")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	res, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ostjob get page %d: %w", page, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("ostjob page %d status %d", page, res.StatusCode)
	}

	var out Page
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ostjob decode page %d: %w", page, err)
	}
	return &out, nil
}

// OstjobScraper scrapes all result pages of one ostjob.ch query.
type OstjobScraper struct {
	paginator *Paginator
}

// NewOstjobScraper creates a scraper for the given query terms
func NewOstjobScraper(query []string, cfg Config, logger *slog.Logger) *OstjobScraper {
	fetcher := NewOstjobFetcher(query, cfg)
	return &OstjobScraper{
		paginator: NewPaginator(fetcher, cfg.Paginator, logger.With(slog.String("scraper", OstjobName))),
	}
}

func (s *OstjobScraper) Scrape(ctx context.Context) ([]RawItem, error) {
	return s.paginator.Scrape(ctx)
}

// NewDefaultRegistry registers every built-in scraper
func NewDefaultRegistry(cfg Config, logger *slog.Logger) *Registry {
	r := NewRegistry()
	r.Register(OstjobName, func(query []string) Scraper {
		return NewOstjobScraper(query, cfg, logger)
	})
	return r
}
