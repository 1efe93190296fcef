package domain

// Scrape run status constants
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// UnknownLocation is stored for records the geocoder could not place.
// A record carrying it is considered geocoded and is never picked up again.
var UnknownLocation = Coordinate{Lat: 0, Lon: 0}
