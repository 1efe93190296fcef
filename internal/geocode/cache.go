package geocode

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const cacheKeyPrefix = "geocode:"

// Cache stores JSON-encodable values by key. CacheGet reports false with a
// nil error on a miss.
type Cache interface {
	CacheGet(ctx context.Context, key string, dest any) (bool, error)
	CacheSet(ctx context.Context, key string, val any, ttl time.Duration) error
}

// CachedSearcher wraps a Searcher with a cache-aside lookup. Concurrent
// searches for the same query share one upstream call.
type CachedSearcher struct {
	next   Searcher
	cache  Cache
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
}

// NewCachedSearcher creates a new CachedSearcher instance
func NewCachedSearcher(next Searcher, cache Cache, ttl time.Duration, logger *slog.Logger) *CachedSearcher {
	return &CachedSearcher{next: next, cache: cache, ttl: ttl, logger: logger}
}

func cacheKey(query string) string {
	return cacheKeyPrefix + strings.ToLower(strings.Join(strings.Fields(query), " "))
}

// Search answers from the cache or the wrapped searcher. The shared upstream
// call is detached from the caller's cancellation; a canceled caller stops
// waiting without failing the others.
func (c *CachedSearcher) Search(ctx context.Context, query string) ([]Feature, error) {
	key := cacheKey(query)
	shared := context.WithoutCancel(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		ctx := shared

		var cached []Feature
		found, err := c.cache.CacheGet(ctx, key, &cached)
		if err != nil {
			c.logger.Warn("Geocode cache read failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		if found {
			return cached, nil
		}

		features, err := c.next.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		if features == nil {
			features = []Feature{}
		}

		// no-match results are cached too
		if err := c.cache.CacheSet(ctx, key, features, c.ttl); err != nil {
			c.logger.Warn("Geocode cache write failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return features, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Feature), nil
	}
}
