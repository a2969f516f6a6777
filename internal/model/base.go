package model

import (
	"time"
)

// ReportingContext is fixed for the duration of one evaluation run.
type ReportingContext struct {
	// Now is the evaluation instant, normally the end date of the reporting period.
	Now        time.Time `json:"now"`
	LocationID int       `json:"location_id"`
}

// Period represents a reporting period as supplied by callers
type Period struct {
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   time.Time  `json:"end_date"`
}

// JSONMap represents a generic JSON object
type JSONMap map[string]interface{}
