package domain

import "time"

// ScrapeRun represents a scrape run tracked in the database
type ScrapeRun struct {
	RunID          string
	IdempotencyKey string
	Scraper        string
	Query          []string
	Status         string
	WorkerID       string
	RetryCount     int
	MaxRetries     int
	TimeoutSeconds int
	Report         *RunReport
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RunReport summarizes one ScraperTask execution
type RunReport struct {
	Fetched int `json:"fetched"`
	Skipped int `json:"skipped"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// RunMessage represents a scrape run message from RabbitMQ
type RunMessage struct {
	RunID       string `json:"run_id"`
	DeliveryTag uint64 `json:"-"`
	Redelivered bool   `json:"-"`
}
