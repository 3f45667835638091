package models

import "time"

type Booking struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	SlotID    SlotID    `json:"slot"`
	CreatedAt time.Time `json:"created_at"`
}

// AttemptState tracks a single booking attempt through the orchestrator.
type AttemptState string

const (
	AttemptRequested  AttemptState = "requested"
	AttemptValidating AttemptState = "validating"
	AttemptCommitted  AttemptState = "committed"
	AttemptRejected   AttemptState = "rejected"
)
