package geocode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mnboos/job-graph/internal/domain"
)

// ClaimStore hands out exclusive claims on records without a coordinate.
type ClaimStore interface {
	HasMissingCoordinate(ctx context.Context, exclude []int64) (bool, error)
	ClaimMissingCoordinate(ctx context.Context, exclude []int64) (domain.Claim, error)
}

// EnrichStats summarizes one enrichment pass
type EnrichStats struct {
	Geocoded int
	Unknown  int
	Failed   int
}

// Enricher geocodes records until none are left to claim.
type Enricher struct {
	store    ClaimStore
	searcher Searcher
	logger   *slog.Logger
}

// NewEnricher creates a new Enricher instance
func NewEnricher(store ClaimStore, searcher Searcher, logger *slog.Logger) *Enricher {
	return &Enricher{store: store, searcher: searcher, logger: logger}
}

// AddressParts returns the geocoding query components of rec, most specific
// first. Empty components are left out.
func AddressParts(rec *domain.JobRecord) []string {
	candidates := []string{
		rec.CompanyName,
		rec.Address,
		strings.TrimSpace(rec.Zip + " " + rec.City),
	}
	parts := make([]string, 0, len(candidates))
	for _, p := range candidates {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// Locate tries the full address first and drops the leading part after every
// miss. It reports false when no query matched.
func (e *Enricher) Locate(ctx context.Context, parts []string) (domain.Coordinate, bool, error) {
	for remaining := parts; len(remaining) > 0; remaining = remaining[1:] {
		query := strings.Join(remaining, ", ")

		features, err := e.searcher.Search(ctx, query)
		if err != nil {
			return domain.Coordinate{}, false, err
		}

		for _, f := range features {
			if coord, ok := f.Coordinate(); ok {
				return coord, true, nil
			}
		}
		e.logger.Debug("No geocode match", slog.String("query", query))
	}
	return domain.Coordinate{}, false, nil
}

// Run claims and geocodes records until no unclaimed record without a
// coordinate remains. Records whose lookup fails are released and skipped
// for the rest of this pass.
func (e *Enricher) Run(ctx context.Context) (EnrichStats, error) {
	var stats EnrichStats
	var failed []int64

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		pending, err := e.store.HasMissingCoordinate(ctx, failed)
		if err != nil {
			return stats, err
		}
		if !pending {
			return stats, nil
		}

		claim, err := e.store.ClaimMissingCoordinate(ctx, failed)
		if errors.Is(err, domain.ErrNothingToClaim) {
			// the rest is held by other workers
			return stats, nil
		}
		if err != nil {
			return stats, err
		}

		rec := claim.Record()
		logger := e.logger.With(slog.Int64("record_id", rec.ID))

		coord, found, err := e.Locate(ctx, AddressParts(rec))
		if err != nil {
			if relErr := claim.Release(); relErr != nil {
				logger.Error("Failed to release claim", slog.String("error", relErr.Error()))
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return stats, ctxErr
			}
			stats.Failed++
			failed = append(failed, rec.ID)
			logger.Warn("Geocoding failed", slog.String("error", err.Error()))
			continue
		}

		if !found {
			coord = domain.UnknownLocation
		}
		if err := claim.Commit(ctx, coord); err != nil {
			_ = claim.Release()
			return stats, fmt.Errorf("record %d: %w", rec.ID, err)
		}

		if found {
			stats.Geocoded++
			logger.Info("Record geocoded",
				slog.Float64("lat", coord.Lat),
				slog.Float64("lon", coord.Lon),
			)
		} else {
			stats.Unknown++
			logger.Info("Record location unknown")
		}
	}
}
