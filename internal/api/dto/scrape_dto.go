package dto

type CreateScrapeRequest struct {
	Scraper        string   `json:"scraper" binding:"required"`
	Query          []string `json:"query"`
	IdempotencyKey string   `json:"idempotency_key"`
}

type RunReportDTO struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

type ScrapeRunDTO struct {
	RunID          string        `json:"run_id"`
	IdempotencyKey string        `json:"idempotency_key"`
	Scraper        string        `json:"scraper"`
	Query          []string      `json:"query"`
	Status         string        `json:"status"`
	RetryCount     int           `json:"retry_count"`
	MaxRetries     int           `json:"max_retries"`
	Report         *RunReportDTO `json:"report,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at"`
}
