package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mnboos/job-graph/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultPhotonURL = "http://localhost:2322/api"
	DefaultTimeout   = 15 * time.Second
)

// Feature is one candidate of a GeoJSON feature collection.
type Feature struct {
	Geometry struct {
		Type        string    `json:"type"`
		Coordinates []float64 `json:"coordinates"`
	} `json:"geometry"`
	Properties map[string]any `json:"properties,omitempty"`
}

// Coordinate returns the point of f. GeoJSON orders positions lon, lat.
func (f Feature) Coordinate() (domain.Coordinate, bool) {
	if len(f.Geometry.Coordinates) < 2 {
		return domain.Coordinate{}, false
	}
	return domain.Coordinate{Lat: f.Geometry.Coordinates[1], Lon: f.Geometry.Coordinates[0]}, true
}

type featureCollection struct {
	Features []Feature `json:"features"`
}

// Searcher resolves a free-text address to candidate features.
// An empty result means no match.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Feature, error)
}

// PhotonConfig configures the photon client
type PhotonConfig struct {
	BaseURL string
	Timeout time.Duration
	// Rate is the request limit per second; zero disables pacing.
	Rate  float64
	Burst int
	// Limit caps the number of returned candidates; zero leaves it to the server.
	Limit int
}

// PhotonClient queries a photon geocoding server.
type PhotonClient struct {
	baseURL    string
	limit      int
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewPhotonClient creates a new PhotonClient instance
func NewPhotonClient(cfg PhotonConfig) *PhotonClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPhotonURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.Rate), burst)
	}

	return &PhotonClient{
		baseURL:    cfg.BaseURL,
		limit:      cfg.Limit,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

func (c *PhotonClient) Search(ctx context.Context, query string) ([]Feature, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("geocode rate limit: %w", err)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid geocoder url: %w", err)
	}
	params := u.Query()
	params.Set("q", query)
	if c.limit > 0 {
		params.Set("limit", strconv.Itoa(c.limit))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geocode request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("geocode %q status %d", query, resp.StatusCode)
	}

	var fc featureCollection
	if err := json.NewDecoder(resp.Body).Decode(&fc); err != nil {
		return nil, fmt.Errorf("failed to decode geocode response: %w", err)
	}
	return fc.Features, nil
}
