package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/authorized-scheduling/internal/appointment"
	"github.com/clinicore/authorized-scheduling/internal/audit"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/db"
)

const (
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventSessionCreated       = "SESSION_CREATED"
)

type CompleteParams struct {
	AppointmentID uuid.UUID
	Narrative     string
	Metrics       json.RawMessage
	Actor         string
}

// Orchestrator converts an in-progress appointment into a completed
// appointment plus exactly one session, consuming the reserved units.
// The status check, the consume, the session insert, and the terminal
// transition all happen inside one serializable transaction holding the
// appointment row lock, so at most one of two concurrent completion
// attempts can observe in_progress and commit.
type Orchestrator struct {
	appointments appointment.Repository
	sessions     Repository
	ledger       *authorization.Ledger
	runner       db.Runner
	audit        audit.Recorder
	log          zerolog.Logger
}

func NewOrchestrator(appointments appointment.Repository, sessions Repository, ledger *authorization.Ledger, runner db.Runner, recorder audit.Recorder, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		appointments: appointments,
		sessions:     sessions,
		ledger:       ledger,
		runner:       runner,
		audit:        recorder,
		log:          log,
	}
}

// CompleteAppointmentAndCreateSession completes the appointment and
// mints its session. Fails ErrAppointmentNotFound if the appointment is
// absent, ErrInvalidState if it is not in_progress; the latter is how a
// losing concurrent completion attempt is rejected after the winner
// commits.
func (o *Orchestrator) CompleteAppointmentAndCreateSession(ctx context.Context, p CompleteParams) (*Session, error) {
	var created *Session

	err := o.runner.InTx(ctx, func(txCtx context.Context) error {
		appt, err := o.appointments.GetAppointmentForUpdate(txCtx, p.AppointmentID)
		if err != nil {
			return err
		}
		if appt.Status != appointment.StatusInProgress {
			return fmt.Errorf("complete from %s: %w", appt.Status, appointment.ErrInvalidState)
		}

		if _, err := o.ledger.Consume(txCtx, appt.AuthorizationID, appt.ReservedUnits, p.Actor); err != nil {
			return err
		}

		sess, err := o.sessions.CreateSession(txCtx, &Session{
			AppointmentID: appt.ID,
			Units:         appt.ReservedUnits,
			Narrative:     p.Narrative,
			Metrics:       p.Metrics,
			Status:        StatusCompleted,
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		if _, err := o.appointments.CloseAppointment(txCtx, appt.ID, appointment.StatusInProgress, appointment.StatusCompleted); err != nil {
			return fmt.Errorf("complete appointment: %w", err)
		}

		created = sess

		if err := o.logEvent(txCtx, EventAppointmentCompleted, appt.ID, appt.AuthorizationID, p.Actor, map[string]any{
			"consumed_units": appt.ReservedUnits,
		}); err != nil {
			return err
		}
		return o.logEvent(txCtx, EventSessionCreated, appt.ID, appt.AuthorizationID, p.Actor, map[string]any{
			"session_id": sess.ID.String(),
			"units":      sess.Units,
		})
	})
	if err != nil {
		return nil, err
	}

	o.log.Debug().
		Stringer("appointment_id", p.AppointmentID).
		Stringer("session_id", created.ID).
		Str("actor", p.Actor).
		Msg("appointment completed, session created")

	return created, nil
}

// GetSession retrieves a session by ID.
func (o *Orchestrator) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	return o.sessions.GetSessionByID(ctx, id)
}

func (o *Orchestrator) logEvent(ctx context.Context, eventType string, apptID, authID uuid.UUID, actor string, payload map[string]any) error {
	ev := audit.NewEvent(eventType, actor, payload)
	ev.AppointmentID = &apptID
	ev.AuthorizationID = &authID

	if err := o.audit.Record(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}
