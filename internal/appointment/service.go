package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/authorized-scheduling/internal/audit"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/db"
)

const (
	EventAppointmentCreated   = "APPOINTMENT_CREATED"
	EventAppointmentStarted   = "APPOINTMENT_STARTED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var (
	ErrInvalidState     = errors.New("operation not allowed in current appointment status")
	ErrInvalidTimeRange = errors.New("end time must be after start time")
)

type CreateParams struct {
	PatientID       uuid.UUID
	PractitionerID  uuid.UUID
	ServiceCodeID   uuid.UUID
	AuthorizationID uuid.UUID
	StartTime       time.Time
	EndTime         time.Time
	Actor           string
}

// Service owns the appointment lifecycle. Creation reserves units
// atomically with the insert; cancellation releases them exactly once.
// Every mutation runs as one serializable transaction via the runner.
type Service struct {
	repo   Repository
	ledger *authorization.Ledger
	runner db.Runner
	units  UnitsPolicy
	audit  audit.Recorder
	log    zerolog.Logger
}

func NewService(repo Repository, ledger *authorization.Ledger, runner db.Runner, units UnitsPolicy, recorder audit.Recorder, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		ledger: ledger,
		runner: runner,
		units:  units,
		audit:  recorder,
		log:    log,
	}
}

// CreateAppointment reserves units against the authorization and
// inserts the appointment in one transaction: either both commit or
// neither does. Overbooking is rejected by the ledger with
// ErrInsufficientUnits before any row is written.
func (s *Service) CreateAppointment(ctx context.Context, p CreateParams) (*Appointment, error) {
	if !p.EndTime.After(p.StartTime) {
		return nil, ErrInvalidTimeRange
	}

	units := s.units(p.StartTime, p.EndTime)
	if units <= 0 {
		return nil, ErrInvalidTimeRange
	}

	var created *Appointment

	err := s.runner.InTx(ctx, func(txCtx context.Context) error {
		if _, err := s.repo.GetPatientByID(txCtx, p.PatientID); err != nil {
			return err
		}
		if _, err := s.repo.GetPractitionerByID(txCtx, p.PractitionerID); err != nil {
			return err
		}
		if _, err := s.repo.GetServiceCodeByID(txCtx, p.ServiceCodeID); err != nil {
			return err
		}

		if _, err := s.ledger.Reserve(txCtx, p.AuthorizationID, units, p.Actor); err != nil {
			return err
		}

		appt, err := s.repo.CreateAppointment(txCtx, &Appointment{
			PatientID:       p.PatientID,
			PractitionerID:  p.PractitionerID,
			ServiceCodeID:   p.ServiceCodeID,
			AuthorizationID: p.AuthorizationID,
			StartTime:       p.StartTime,
			EndTime:         p.EndTime,
			ReservedUnits:   units,
			Status:          StatusScheduled,
		})
		if err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		created = appt

		return s.logEvent(txCtx, EventAppointmentCreated, appt, p.Actor, map[string]any{
			"reserved_units": units,
			"start_time":     p.StartTime,
			"end_time":       p.EndTime,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Stringer("appointment_id", created.ID).
		Int("reserved_units", created.ReservedUnits).
		Str("actor", p.Actor).
		Msg("appointment created")

	return created, nil
}

// StartAppointment moves a scheduled appointment to in_progress. The
// reserved claim is untouched; it is settled at completion or
// cancellation.
func (s *Service) StartAppointment(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	var started *Appointment

	err := s.runner.InTx(ctx, func(txCtx context.Context) error {
		appt, err := s.repo.GetAppointmentForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if appt.Status != StatusScheduled {
			return fmt.Errorf("start from %s: %w", appt.Status, ErrInvalidState)
		}

		updated, err := s.repo.UpdateAppointmentStatus(txCtx, id, StatusScheduled, StatusInProgress)
		if err != nil {
			return fmt.Errorf("start appointment: %w", err)
		}

		started = updated

		return s.logEvent(txCtx, EventAppointmentStarted, updated, actor, map[string]any{})
	})
	if err != nil {
		return nil, err
	}

	return started, nil
}

// CancelAppointment releases the reserved claim and closes the
// appointment in one transaction. A concurrent second cancel observes
// the terminal status under the row lock and fails ErrInvalidState, so
// the release can never happen twice.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	var cancelled *Appointment

	err := s.runner.InTx(ctx, func(txCtx context.Context) error {
		appt, err := s.repo.GetAppointmentForUpdate(txCtx, id)
		if err != nil {
			return err
		}
		if appt.Status.Terminal() {
			return fmt.Errorf("cancel from %s: %w", appt.Status, ErrInvalidState)
		}

		if _, err := s.ledger.Release(txCtx, appt.AuthorizationID, appt.ReservedUnits, actor); err != nil {
			return err
		}

		updated, err := s.repo.CloseAppointment(txCtx, id, appt.Status, StatusCancelled)
		if err != nil {
			return fmt.Errorf("cancel appointment: %w", err)
		}

		cancelled = updated

		return s.logEvent(txCtx, EventAppointmentCancelled, updated, actor, map[string]any{
			"released_units": appt.ReservedUnits,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Debug().
		Stringer("appointment_id", id).
		Str("actor", actor).
		Msg("appointment cancelled")

	return cancelled, nil
}

// GetAppointment retrieves an appointment by ID.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetAppointmentByID(ctx, id)
}

// ListAppointmentsByPatient retrieves appointments for a specific patient.
func (s *Service) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	return s.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
}

func (s *Service) logEvent(ctx context.Context, eventType string, appt *Appointment, actor string, payload map[string]any) error {
	ev := audit.NewEvent(eventType, actor, payload)
	apptID := appt.ID
	authID := appt.AuthorizationID
	ev.AppointmentID = &apptID
	ev.AuthorizationID = &authID

	if err := s.audit.Record(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}
