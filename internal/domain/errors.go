package domain

import "errors"

var (
	// ErrRecordNotFound is returned when a job record cannot be found in the store
	ErrRecordNotFound = errors.New("job record not found")

	// ErrNothingToClaim is returned when every record missing a coordinate is
	// either claimed by another worker or excluded for the current pass
	ErrNothingToClaim = errors.New("no unclaimed record without coordinate")

	// ErrUnknownScraper is returned when a scraper identifier has no registered factory
	ErrUnknownScraper = errors.New("unknown scraper")

	// ErrRunNotFound is returned when a scrape run cannot be found in the database
	ErrRunNotFound = errors.New("scrape run not found")

	// ErrRunAlreadyClaimed is returned when attempting to claim a run that's already claimed
	ErrRunAlreadyClaimed = errors.New("scrape run already claimed or not in PENDING status")

	// ErrRunInProgress is returned when a run is RUNNING and its worker's
	// heartbeat is still fresh
	ErrRunInProgress = errors.New("scrape run is in progress on another worker")

	// ErrInvalidPayload is returned when a run message is malformed
	ErrInvalidPayload = errors.New("invalid run payload")

	// ErrMaxRetriesExceeded is returned when a run has exceeded its retry limit
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")

	// ErrItemSkipped marks a scraped item that is filtered out on purpose
	ErrItemSkipped = errors.New("item skipped")

	// ErrMalformedItem marks a scraped item missing the fields needed for its identity
	ErrMalformedItem = errors.New("malformed item")
)

// RetryableError wraps transient errors that should trigger a requeue
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
