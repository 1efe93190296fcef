package domain

import (
	"context"
	"encoding/json"
	"slices"
	"time"
)

// Identity is the natural key of a canonical job record.
type Identity struct {
	CompanyName string
	Title       string
	Zip         string
}

// Coordinate is a WGS84 latitude/longitude pair.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// JobRecord is the canonical, deduplicated job posting.
type JobRecord struct {
	ID          int64
	CompanyName string
	Title       string
	Description string
	Zip         string
	City        string
	Address     string
	Country     string
	HomeOffice  bool

	// Coordinate is nil until the record has been geocoded.
	Coordinate *Coordinate

	FirstPublishedAt *time.Time
	FirstSeenAt      time.Time
	LastSeenAt       time.Time

	SourceURLs []string
	RawPayload json.RawMessage
}

// Identity returns the record's natural key.
func (r *JobRecord) Identity() Identity {
	return Identity{CompanyName: r.CompanyName, Title: r.Title, Zip: r.Zip}
}

// HasSourceURL reports whether url is already listed.
func (r *JobRecord) HasSourceURL(url string) bool {
	return slices.Contains(r.SourceURLs, url)
}

// AddSourceURL appends url unless it is empty or already present.
// It reports whether the list changed.
func (r *JobRecord) AddSourceURL(url string) bool {
	if url == "" || r.HasSourceURL(url) {
		return false
	}
	r.SourceURLs = append(r.SourceURLs, url)
	return true
}

// Claim is an exclusive hold on one record that still needs a coordinate.
// Exactly one of Commit or Release must be called.
type Claim interface {
	Record() *JobRecord
	// Commit stores the coordinate and ends the claim.
	Commit(ctx context.Context, coord Coordinate) error
	// Release ends the claim without changing the record.
	Release() error
}
