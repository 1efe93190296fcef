package dto

type ListJobsRequest struct {
	Company           string `form:"company"`
	MissingCoordinate *bool  `form:"missing_coordinate"`
	PageSize          int    `form:"page_size"`
	Cursor            string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type CoordinateDTO struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type JobDTO struct {
	ID               int64          `json:"id"`
	CompanyName      string         `json:"company_name"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Zip              string         `json:"zip"`
	City             string         `json:"city"`
	Address          string         `json:"address"`
	Country          string         `json:"country"`
	HomeOffice       bool           `json:"home_office"`
	Coordinate       *CoordinateDTO `json:"coordinate"`
	LocationUnknown  bool           `json:"location_unknown"`
	FirstPublishedAt *string        `json:"first_published_at"`
	FirstSeenAt      string         `json:"first_seen_at"`
	LastSeenAt       string         `json:"last_seen_at"`
	SourceURLs       []string       `json:"source_urls"`
}
