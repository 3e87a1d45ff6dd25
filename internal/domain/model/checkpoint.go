package model

import "time"

// Checkpoint is the durable cursor of a single event stream. LastProcessedID
// only ever moves forward.
type Checkpoint struct {
	Stream          string
	LastProcessedID int64
	UpdatedAt       time.Time
}
