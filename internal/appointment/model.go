package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Practitioner struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type ServiceCode struct {
	ID          uuid.UUID
	Code        string
	Description *string
	CreatedAt   time.Time
}

// Appointment holds a ReservedUnits claim against its authorization
// while scheduled or in progress. The claim is computed once at
// creation and zeroed exactly once, on the transition to cancelled
// (ledger release) or completed (ledger consume).
type Appointment struct {
	ID              uuid.UUID
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	ServiceCodeID   uuid.UUID
	AuthorizationID uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	ReservedUnits   int
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
