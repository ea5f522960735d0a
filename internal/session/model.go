package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusCompleted Status = "completed"
)

// Session is the record of a rendered service. Exactly one session ever
// exists per appointment; it is immutable after creation.
type Session struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Units         int
	Narrative     string
	Metrics       json.RawMessage
	Status        Status
	CreatedAt     time.Time
}
