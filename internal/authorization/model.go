package authorization

import (
	"time"

	"github.com/google/uuid"
)

// Authorization is a capped pool of billable units granted for a
// patient/service combination. TotalUnits is immutable after creation;
// the ledger moves units between scheduled and used.
//
// Invariant at every committed state:
//
//	0 <= ScheduledUnits, 0 <= UsedUnits,
//	ScheduledUnits + UsedUnits <= TotalUnits
type Authorization struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ServiceCodeID  uuid.UUID
	TotalUnits     int
	ScheduledUnits int
	UsedUnits      int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available returns the units still open for reservation.
func (a *Authorization) Available() int {
	return a.TotalUnits - a.ScheduledUnits - a.UsedUnits
}
