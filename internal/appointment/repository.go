package appointment

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound      = errors.New("patient not found")
	ErrPractitionerNotFound = errors.New("practitioner not found")
	ErrServiceCodeNotFound  = errors.New("service code not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service and the
// session orchestrator.
type Repository interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetPractitionerByID(ctx context.Context, id uuid.UUID) (*Practitioner, error)
	GetServiceCodeByID(ctx context.Context, id uuid.UUID) (*ServiceCode, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// GetAppointmentForUpdate reads the appointment with a row lock so
	// the status check and the transition commit against the same state.
	GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error)

	CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error)

	// UpdateAppointmentStatus is a compare-and-swap on status.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	// CloseAppointment performs the terminal transition: status moves
	// from from to to and the reserved-units claim is zeroed, in one
	// statement.
	CloseAppointment(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)

	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error)
}
