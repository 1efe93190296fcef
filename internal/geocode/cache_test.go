package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
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

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) CacheGet(_ context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return false, c.getErr
	}
	b, ok := c.entries[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, dest)
}

func (c *memCache) CacheSet(_ context.Context, key string, val any, _ time.Duration) error {
	b, err := json.Marshal(val)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	return nil
}

type countingSearcher struct {
	calls    atomic.Int32
	features []Feature
	err      error
	gate     chan struct{}
}

func (s *countingSearcher) Search(ctx context.Context, _ string) ([]Feature, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.features, s.err
}

func point(lon, lat float64) Feature {
	var f Feature
	f.Geometry.Type = "Point"
	f.Geometry.Coordinates = []float64{lon, lat}
	return f
}

func TestCachedSearcher_CacheAside(t *testing.T) {
	ctx := context.Background()
	upstream := &countingSearcher{features: []Feature{point(9.37, 47.42)}}
	cache := newMemCache()
	s := NewCachedSearcher(upstream, cache, time.Hour, discardLogger())

	first, err := s.Search(ctx, "Acme, 9000 St. Gallen")
	require.NoError(t, err)
	second, err := s.Search(ctx, "  acme,   9000 st. gallen ")
	require.NoError(t, err)

	assert.Equal(t, int32(1), upstream.calls.Load())
	assert.Equal(t, first, second)
	assert.Contains(t, cache.entries, "geocode:acme, 9000 st. gallen")
}

func TestCachedSearcher_CachesNoMatch(t *testing.T) {
	ctx := context.Background()
	upstream := &countingSearcher{}
	s := NewCachedSearcher(upstream, newMemCache(), time.Hour, discardLogger())

	for i := 0; i < 3; i++ {
		features, err := s.Search(ctx, "nowhere")
		require.NoError(t, err)
		assert.Empty(t, features)
	}
	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestCachedSearcher_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("bad gateway")
	upstream := &countingSearcher{err: boom}
	cache := newMemCache()
	s := NewCachedSearcher(upstream, cache, time.Hour, discardLogger())

	_, err := s.Search(ctx, "x")
	assert.ErrorIs(t, err, boom)
	_, err = s.Search(ctx, "x")
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int32(2), upstream.calls.Load())
	assert.Empty(t, cache.entries)
}

func TestCachedSearcher_CacheFailureFallsThrough(t *testing.T) {
	upstream := &countingSearcher{features: []Feature{point(1, 2)}}
	cache := newMemCache()
	cache.getErr = errors.New("connection refused")
	s := NewCachedSearcher(upstream, cache, time.Hour, discardLogger())

	features, err := s.Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, features, 1)
}

func TestCachedSearcher_SingleFlight(t *testing.T) {
	upstream := &countingSearcher{features: []Feature{point(1, 2)}, gate: make(chan struct{})}
	s := NewCachedSearcher(upstream, newMemCache(), time.Hour, discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			features, err := s.Search(context.Background(), "same query")
			assert.NoError(t, err)
			assert.Len(t, features, 1)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(upstream.gate)
	wg.Wait()

	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestCachedSearcher_CanceledCallerDoesNotFailOthers(t *testing.T) {
	upstream := &countingSearcher{
		features: []Feature{point(9.37, 47.42)},
		gate:     make(chan struct{}),
	}
	cs := NewCachedSearcher(upstream, newMemCache(), time.Hour, discardLogger())

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cs.Search(firstCtx, "St. Gallen")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return upstream.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		features []Feature
		err      error
	}
	second := make(chan result, 1)
	go func() {
		f, err := cs.Search(context.Background(), "st.  gallen")
		second <- result{f, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting")
	}

	close(upstream.gate)
	res := <-second
	require.NoError(t, res.err)
	assert.Len(t, res.features, 1)
	assert.Equal(t, int32(1), upstream.calls.Load())
}
