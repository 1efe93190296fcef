package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeFetcher struct {
	total int
	fail  map[int]bool
	delay time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu    sync.Mutex
	calls []int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page int) (*Page, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[page] {
		return nil, errors.New("status 502")
	}

	return &Page{
		Items: []RawItem{{"id": fmt.Sprintf("p%d-a", page)}, {"id": fmt.Sprintf("p%d-b", page)}},
		Pages: f.total,
	}, nil
}

func (f *fakeFetcher) calledPages() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]int(nil), f.calls...)
	sort.Ints(out)
	return out
}

func itemIDs(items []RawItem) []string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.String("id"))
	}
	return ids
}

func newTestPaginator(f PageFetcher, concurrency int) (*Paginator, *[]time.Duration) {
	p := NewPaginator(f, PaginatorConfig{
		Concurrency: concurrency,
		JitterMin:   100 * time.Millisecond,
		JitterMax:   1000 * time.Millisecond,
	}, discardLogger())

	var mu sync.Mutex
	pauses := []time.Duration{}
	p.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		pauses = append(pauses, d)
		mu.Unlock()
		return ctx.Err()
	}
	return p, &pauses
}

func TestPaginator_FetchesAllPages(t *testing.T) {
	f := &fakeFetcher{total: 4}
	p, _ := newTestPaginator(f, 3)

	items, err := p.Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4}, f.calledPages())
	assert.Equal(t, []string{"p1-a", "p1-b", "p2-a", "p2-b", "p3-a", "p3-b", "p4-a", "p4-b"}, itemIDs(items))
}

func TestPaginator_ConcurrencyCeiling(t *testing.T) {
	f := &fakeFetcher{total: 20, delay: 20 * time.Millisecond}
	p, _ := newTestPaginator(f, 3)

	items, err := p.Scrape(context.Background())
	require.NoError(t, err)

	assert.Len(t, items, 40)
	assert.LessOrEqual(t, f.maxInFlight.Load(), int32(3))
	assert.Greater(t, f.maxInFlight.Load(), int32(1), "remaining pages run concurrently")
}

func TestPaginator_PausesBeforeEveryBatch(t *testing.T) {
	f := &fakeFetcher{total: 10}
	p, pauses := newTestPaginator(f, 3)

	_, err := p.Scrape(context.Background())
	require.NoError(t, err)

	// pages 2..10 are nine fetches, scheduled in batches of three
	require.Len(t, *pauses, 3)
	for _, d := range *pauses {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 1000*time.Millisecond)
	}
}

func TestPaginator_FailedPageDoesNotAbortSiblings(t *testing.T) {
	f := &fakeFetcher{total: 5, fail: map[int]bool{3: true}}
	p, _ := newTestPaginator(f, 3)

	items, err := p.Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.calledPages())
	assert.Equal(t, []string{"p1-a", "p1-b", "p2-a", "p2-b", "p4-a", "p4-b", "p5-a", "p5-b"}, itemIDs(items))
}

func TestPaginator_SinglePage(t *testing.T) {
	tests := []struct {
		name  string
		total int
	}{
		{name: "pages absent", total: 0},
		{name: "one page", total: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{total: tt.total}
			p, pauses := newTestPaginator(f, 3)

			items, err := p.Scrape(context.Background())
			require.NoError(t, err)

			assert.Equal(t, []int{1}, f.calledPages())
			assert.Equal(t, []string{"p1-a", "p1-b"}, itemIDs(items))
			assert.Empty(t, *pauses)
		})
	}
}

func TestPaginator_FirstPageFailure(t *testing.T) {
	f := &fakeFetcher{total: 5, fail: map[int]bool{1: true}}
	p, _ := newTestPaginator(f, 3)

	items, err := p.Scrape(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, []int{1}, f.calledPages())
}

func TestPaginator_Canceled(t *testing.T) {
	f := &fakeFetcher{total: 10}
	p, _ := newTestPaginator(f, 3)

	ctx, cancel := context.WithCancel(context.Background())
	p.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	items, err := p.Scrape(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, items)
}

func TestPaginator_CapsReportedPageCount(t *testing.T) {
	f := &fakeFetcher{total: 1 << 40}
	p := NewPaginator(f, PaginatorConfig{Concurrency: 3, MaxPages: 5}, discardLogger())
	p.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	items, err := p.Scrape(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, f.calledPages())
	assert.Len(t, items, 10)
}

func TestPaginator_HugePageCountCanceled(t *testing.T) {
	f := &fakeFetcher{total: 1 << 40}
	p, _ := newTestPaginator(f, 3)
	assert.Equal(t, DefaultMaxPages, p.maxPages)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Scrape(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []int{1}, f.calledPages())
}
