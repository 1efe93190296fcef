package dto

import (
	"time"

	"github.com/mnboos/job-graph/internal/domain"
)

// FromRecord maps a canonical record onto its response shape
func FromRecord(r *domain.JobRecord) JobDTO {
	out := JobDTO{
		ID:          r.ID,
		CompanyName: r.CompanyName,
		Title:       r.Title,
		Description: r.Description,
		Zip:         r.Zip,
		City:        r.City,
		Address:     r.Address,
		Country:     r.Country,
		HomeOffice:  r.HomeOffice,
		FirstSeenAt: r.FirstSeenAt.Format(time.RFC3339),
		LastSeenAt:  r.LastSeenAt.Format(time.RFC3339),
		SourceURLs:  r.SourceURLs,
	}
	if out.SourceURLs == nil {
		out.SourceURLs = []string{}
	}
	if r.Coordinate != nil {
		out.Coordinate = &CoordinateDTO{Lat: r.Coordinate.Lat, Lon: r.Coordinate.Lon}
		out.LocationUnknown = *r.Coordinate == domain.UnknownLocation
	}
	if r.FirstPublishedAt != nil {
		s := r.FirstPublishedAt.Format(time.RFC3339)
		out.FirstPublishedAt = &s
	}
	return out
}

// FromRun maps a scrape run onto its response shape
func FromRun(r *domain.ScrapeRun) ScrapeRunDTO {
	out := ScrapeRunDTO{
		RunID:          r.RunID,
		IdempotencyKey: r.IdempotencyKey,
		Scraper:        r.Scraper,
		Query:          r.Query,
		Status:         r.Status,
		RetryCount:     r.RetryCount,
		MaxRetries:     r.MaxRetries,
		ErrorMessage:   r.ErrorMessage,
		CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      r.UpdatedAt.Format(time.RFC3339),
	}
	if r.Report != nil {
		out.Report = &RunReportDTO{
			Fetched: r.Report.Fetched,
			Skipped: r.Report.Skipped,
			Created: r.Report.Created,
			Updated: r.Report.Updated,
			Failed:  r.Report.Failed,
		}
	}
	return out
}
