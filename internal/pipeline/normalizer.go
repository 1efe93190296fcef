package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mnboos/job-graph/internal/domain"
	"github.com/mnboos/job-graph/internal/scraper"
)

// DefaultDomesticCountryCodes are the country codes of the service region
var DefaultDomesticCountryCodes = []string{"CH", "LI"}

// DefaultDescriptionURL is the posting page of an ostjob.ch vacancy id
const DefaultDescriptionURL = "https://www.ostjob.ch/job/%s"

// NormalizedItem is a scraped posting mapped onto the canonical record shape.
type NormalizedItem struct {
	CompanyName      string
	Title            string
	Description      string
	Zip              string
	City             string
	Address          string
	Country          string
	HomeOffice       bool
	FirstPublishedAt *time.Time

	SourceURL      string
	ExternalID     string
	ApplicationURL string

	Raw scraper.RawItem
}

// Identity returns the natural key the item reconciles on
func (n *NormalizedItem) Identity() domain.Identity {
	return domain.Identity{CompanyName: n.CompanyName, Title: n.Title, Zip: n.Zip}
}

// NewRecord builds the record created when the identity is first seen.
// The raw item is kept verbatim.
func (n *NormalizedItem) NewRecord() (*domain.JobRecord, error) {
	raw, err := json.Marshal(n.Raw)
	if err != nil {
		return nil, fmt.Errorf("failed to encode raw payload: %w", err)
	}

	rec := &domain.JobRecord{
		CompanyName:      n.CompanyName,
		Title:            n.Title,
		Description:      n.Description,
		Zip:              n.Zip,
		City:             n.City,
		Address:          n.Address,
		Country:          n.Country,
		HomeOffice:       n.HomeOffice,
		FirstPublishedAt: n.FirstPublishedAt,
		SourceURLs:       []string{},
		RawPayload:       raw,
	}
	rec.AddSourceURL(n.SourceURL)
	return rec, nil
}

// NormalizerConfig holds the region filter and URL settings
type NormalizerConfig struct {
	DomesticCountryCodes []string
	DescriptionURL       string
}

// Normalizer maps raw job-board items onto NormalizedItem.
type Normalizer struct {
	domestic       map[string]bool
	descriptionURL string
}

// NewNormalizer creates a normalizer, falling back to defaults for unset values
func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	codes := cfg.DomesticCountryCodes
	if len(codes) == 0 {
		codes = DefaultDomesticCountryCodes
	}
	domestic := make(map[string]bool, len(codes))
	for _, c := range codes {
		domestic[strings.ToUpper(strings.TrimSpace(c))] = true
	}

	descriptionURL := cfg.DescriptionURL
	if descriptionURL == "" {
		descriptionURL = DefaultDescriptionURL
	}

	return &Normalizer{domestic: domestic, descriptionURL: descriptionURL}
}

// Normalize derives the canonical fields of item. It returns ErrItemSkipped
// for postings outside the service region and ErrMalformedItem when the
// identity cannot be built.
//
// When the workplace zip matches the employer's zip the posting is located at
// the employer, so the employer's street and country are used. Otherwise the
// address stays empty and the country comes from the posting's first country
// code, which must be domestic.
func (n *Normalizer) Normalize(item scraper.RawItem) (*NormalizedItem, error) {
	out := &NormalizedItem{
		CompanyName:    item.String("company", "name"),
		Title:          item.String("title"),
		Description:    item.String("activity"),
		Zip:            item.String("workplaceZip"),
		City:           item.String("workplaceCity"),
		HomeOffice:     item.Bool("homeOffice"),
		ExternalID:     item.String("id"),
		ApplicationURL: item.String("applicationUrl"),
		SourceURL:      item.String("url"),
		Raw:            item,
	}

	if out.CompanyName == "" || out.Title == "" {
		return nil, fmt.Errorf("%w: company name and title are required", domain.ErrMalformedItem)
	}

	employerZip := item.String("company", "zip")
	if out.Zip != "" && out.Zip == employerZip {
		out.Address = joinNonEmpty(" ", item.String("company", "street"), item.String("company", "houseNumber"))
		out.Country = item.String("company", "country")
		if out.City == "" {
			out.City = item.String("company", "city")
		}
	} else {
		if codes := item.Strings("countryCodes"); len(codes) > 0 {
			out.Country = codes[0]
		}
		if out.Country != "" && !n.domestic[strings.ToUpper(out.Country)] {
			return nil, fmt.Errorf("%w: country %q outside service region", domain.ErrItemSkipped, out.Country)
		}
	}

	if out.SourceURL == "" && out.ExternalID != "" {
		out.SourceURL = fmt.Sprintf(n.descriptionURL, out.ExternalID)
	}

	if published := item.String("publicationDate"); published != "" {
		if t, ok := parseTimestamp(published); ok {
			out.FirstPublishedAt = &t
		}
	}

	return out, nil
}

func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
