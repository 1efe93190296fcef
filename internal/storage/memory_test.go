package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mnboos/job-graph/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecord(company, title, zip string, urls ...string) *domain.JobRecord {
	return &domain.JobRecord{
		CompanyName: company,
		Title:       title,
		Zip:         zip,
		SourceURLs:  urls,
		RawPayload:  []byte(`{"id":"x"}`),
	}
}

func TestMemoryRecordStore_CreateOrGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	first, created, err := s.CreateOrGet(ctx, newRecord("Acme", "Dev", "9000", "https://a/1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, first.ID)
	assert.False(t, first.FirstSeenAt.IsZero())

	again, created, err := s.CreateOrGet(ctx, newRecord("Acme", "Dev", "9000", "https://a/2"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, []string{"https://a/1"}, again.SourceURLs, "existing record is not overwritten")

	_, created, err = s.CreateOrGet(ctx, newRecord("Acme", "Dev", "8000"))
	require.NoError(t, err)
	assert.True(t, created, "zip is part of the identity")

	assert.Len(t, s.Records(), 2)
}

func TestMemoryRecordStore_CreateOrGetConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	var created atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := s.CreateOrGet(ctx, newRecord("Acme", "Dev", "9000"))
			assert.NoError(t, err)
			if ok {
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Len(t, s.Records(), 1)
}

func TestMemoryRecordStore_FindAndSave(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	_, err := s.FindByIdentity(ctx, domain.Identity{CompanyName: "Acme", Title: "Dev", Zip: "9000"})
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)

	rec, _, err := s.CreateOrGet(ctx, newRecord("Acme", "Dev", "9000", "https://a/1"))
	require.NoError(t, err)

	rec.AddSourceURL("https://a/2")
	require.NoError(t, s.Save(ctx, rec))

	found, err := s.FindByIdentity(ctx, rec.Identity())
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a/1", "https://a/2"}, found.SourceURLs)

	assert.ErrorIs(t, s.Save(ctx, &domain.JobRecord{ID: 999}), domain.ErrRecordNotFound)
}

func TestMemoryRecordStore_Claims(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	a, _, _ := s.CreateOrGet(ctx, newRecord("A", "Dev", "1"))
	b, _, _ := s.CreateOrGet(ctx, newRecord("B", "Dev", "2"))

	c1, err := s.ClaimMissingCoordinate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID, c1.Record().ID)

	c2, err := s.ClaimMissingCoordinate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, c2.Record().ID, "claimed records are skipped, not waited on")

	_, err = s.ClaimMissingCoordinate(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	has, err := s.HasMissingCoordinate(ctx, nil)
	require.NoError(t, err)
	assert.True(t, has, "claimed records still count as missing")

	require.NoError(t, c1.Commit(ctx, domain.Coordinate{Lat: 47.42, Lon: 9.37}))
	require.NoError(t, c2.Release())

	has, err = s.HasMissingCoordinate(ctx, []int64{b.ID})
	require.NoError(t, err)
	assert.False(t, has)

	c3, err := s.ClaimMissingCoordinate(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, b.ID, c3.Record().ID, "released records can be claimed again")
	require.NoError(t, c3.Release())

	_, err = s.ClaimMissingCoordinate(ctx, []int64{b.ID})
	assert.ErrorIs(t, err, domain.ErrNothingToClaim)

	stored, err := s.FindByIdentity(ctx, a.Identity())
	require.NoError(t, err)
	require.NotNil(t, stored.Coordinate)
	assert.Equal(t, domain.Coordinate{Lat: 47.42, Lon: 9.37}, *stored.Coordinate)
}

func TestMemoryRecordStore_CoordinateSetOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryRecordStore()

	rec, _, _ := s.CreateOrGet(ctx, newRecord("A", "Dev", "1"))
	claim, err := s.ClaimMissingCoordinate(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, claim.Commit(ctx, domain.UnknownLocation))

	rec.Coordinate = &domain.Coordinate{Lat: 1, Lon: 1}
	require.NoError(t, s.Save(ctx, rec))

	stored, err := s.FindByIdentity(ctx, rec.Identity())
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownLocation, *stored.Coordinate)
}
