package geocode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/mnboos/job-graph/internal/domain"
	"github.com/mnboos/job-graph/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSearcher matches only the queries it knows and records every query.
type scriptedSearcher struct {
	mu      sync.Mutex
	matches map[string]Feature
	fail    map[string]error
	queries []string
}

func (s *scriptedSearcher) Search(_ context.Context, query string) ([]Feature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	if err, ok := s.fail[query]; ok {
		return nil, err
	}
	if f, ok := s.matches[query]; ok {
		return []Feature{f}, nil
	}
	return nil, nil
}

func (s *scriptedSearcher) count(query string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, q := range s.queries {
		if q == query {
			n++
		}
	}
	return n
}

func seed(t *testing.T, store *storage.MemoryRecordStore, recs ...*domain.JobRecord) []*domain.JobRecord {
	t.Helper()
	out := make([]*domain.JobRecord, 0, len(recs))
	for _, r := range recs {
		created, ok, err := store.CreateOrGet(context.Background(), r)
		require.NoError(t, err)
		require.True(t, ok)
		out = append(out, created)
	}
	return out
}

func storedCoordinate(t *testing.T, store *storage.MemoryRecordStore, id int64) *domain.Coordinate {
	t.Helper()
	for _, r := range store.Records() {
		if r.ID == id {
			return r.Coordinate
		}
	}
	t.Fatalf("record %d not found", id)
	return nil
}

func TestAddressParts(t *testing.T) {
	tests := []struct {
		name string
		rec  domain.JobRecord
		want []string
	}{
		{"all parts", domain.JobRecord{CompanyName: "Acme", Address: "Hauptstrasse 5", Zip: "9000", City: "St. Gallen"},
			[]string{"Acme", "Hauptstrasse 5", "9000 St. Gallen"}},
		{"no address", domain.JobRecord{CompanyName: "Acme", Zip: "9000", City: "St. Gallen"},
			[]string{"Acme", "9000 St. Gallen"}},
		{"city only", domain.JobRecord{CompanyName: "Acme", City: "St. Gallen"},
			[]string{"Acme", "St. Gallen"}},
		{"nothing but the name", domain.JobRecord{CompanyName: "Acme"}, []string{"Acme"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, AddressParts(&tt.rec))
		})
	}
}

func TestEnricher_ProgressiveFallback(t *testing.T) {
	store := storage.NewMemoryRecordStore()
	recs := seed(t, store, &domain.JobRecord{CompanyName: "A", Title: "Dev", Address: "B", Zip: "C"})

	searcher := &scriptedSearcher{matches: map[string]Feature{"C": point(9.5, 47.1)}}
	stats, err := NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A, B, C", "B, C", "C"}, searcher.queries)
	assert.Equal(t, EnrichStats{Geocoded: 1}, stats)
	assert.Equal(t, &domain.Coordinate{Lat: 47.1, Lon: 9.5}, storedCoordinate(t, store, recs[0].ID))
}

func TestEnricher_FirstMatchWins(t *testing.T) {
	store := storage.NewMemoryRecordStore()
	recs := seed(t, store, &domain.JobRecord{CompanyName: "Acme", Title: "Dev", Zip: "9000", City: "St. Gallen"})

	searcher := &scriptedSearcher{matches: map[string]Feature{
		"Acme, 9000 St. Gallen": point(9.37, 47.42),
		"9000 St. Gallen":       point(1, 1),
	}}
	_, err := NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"Acme, 9000 St. Gallen"}, searcher.queries)
	assert.Equal(t, &domain.Coordinate{Lat: 47.42, Lon: 9.37}, storedCoordinate(t, store, recs[0].ID))
}

func TestEnricher_UnknownSentinel(t *testing.T) {
	store := storage.NewMemoryRecordStore()
	recs := seed(t, store, &domain.JobRecord{CompanyName: "A", Title: "Dev", Address: "B", Zip: "C"})

	searcher := &scriptedSearcher{}
	stats, err := NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"A, B, C", "B, C", "C"}, searcher.queries)
	assert.Equal(t, EnrichStats{Unknown: 1}, stats)
	assert.Equal(t, &domain.UnknownLocation, storedCoordinate(t, store, recs[0].ID))

	// geocoded records are not claimed again
	stats, err = NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EnrichStats{}, stats)
	assert.Len(t, searcher.queries, 3)
}

func TestEnricher_ServiceErrorReleasesRecord(t *testing.T) {
	store := storage.NewMemoryRecordStore()
	recs := seed(t, store,
		&domain.JobRecord{CompanyName: "Broken", Title: "Dev"},
		&domain.JobRecord{CompanyName: "Fine", Title: "Dev"},
	)

	searcher := &scriptedSearcher{
		matches: map[string]Feature{"Fine": point(8, 47)},
		fail:    map[string]error{"Broken": errors.New("status 503")},
	}
	stats, err := NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, EnrichStats{Geocoded: 1, Failed: 1}, stats)
	assert.Nil(t, storedCoordinate(t, store, recs[0].ID), "failed record stays pending")
	assert.NotNil(t, storedCoordinate(t, store, recs[1].ID))
	assert.Equal(t, 1, searcher.count("Broken"), "failed record is not retried in the same pass")

	// a later pass retries it
	delete(searcher.fail, "Broken")
	searcher.matches["Broken"] = point(7, 46)
	stats, err = NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, EnrichStats{Geocoded: 1}, stats)
	assert.Equal(t, &domain.Coordinate{Lat: 46, Lon: 7}, storedCoordinate(t, store, recs[0].ID))
}

func TestEnricher_Canceled(t *testing.T) {
	store := storage.NewMemoryRecordStore()
	seed(t, store, &domain.JobRecord{CompanyName: "Acme", Title: "Dev"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEnricher(store, &scriptedSearcher{}, discardLogger()).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, store.Records()[0].Coordinate)
}

func TestEnricher_ConcurrentWorkers(t *testing.T) {
	store := storage.NewMemoryRecordStore()
	matches := make(map[string]Feature)
	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("Company %d", i)
		seed(t, store, &domain.JobRecord{CompanyName: name, Title: "Dev"})
		matches[name] = point(float64(i), float64(i))
	}
	searcher := &scriptedSearcher{matches: matches}

	var mu sync.Mutex
	var total EnrichStats
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stats, err := NewEnricher(store, searcher, discardLogger()).Run(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			total.Geocoded += stats.Geocoded
			total.Unknown += stats.Unknown
			total.Failed += stats.Failed
			mu.Unlock()
		}()
	}
	wg.Wait()

	// a worker may stop early while others hold the remaining claims;
	// drain whatever is left
	rest, err := NewEnricher(store, searcher, discardLogger()).Run(context.Background())
	require.NoError(t, err)
	total.Geocoded += rest.Geocoded

	assert.Equal(t, EnrichStats{Geocoded: 40}, total)
	for name := range matches {
		assert.Equal(t, 1, searcher.count(name), "record %q geocoded more than once", name)
	}
	for _, r := range store.Records() {
		require.NotNil(t, r.Coordinate)
		assert.Equal(t, r.Coordinate.Lat, r.Coordinate.Lon)
	}
}
