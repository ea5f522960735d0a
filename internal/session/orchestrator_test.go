package session_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/authorized-scheduling/internal/appointment"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/memstore"
	"github.com/clinicore/authorized-scheduling/internal/session"
)

type fixture struct {
	store          *memstore.Store
	appointments   *appointment.Service
	orchestrator   *session.Orchestrator
	authID         uuid.UUID
	patientID      uuid.UUID
	practitionerID uuid.UUID
	serviceCodeID  uuid.UUID
}

func newFixture(t *testing.T, totalUnits int) *fixture {
	t.Helper()

	store := memstore.New()
	patient := store.AddPatient("Jane Doe")
	practitioner := store.AddPractitioner("Dr. Smith")
	code := store.AddServiceCode("97153")
	auth := store.AddAuthorization(patient.ID, code.ID, totalUnits)

	ledger := authorization.NewLedger(store.Authorizations(), store)
	appts := appointment.NewService(
		store.Appointments(),
		ledger,
		store,
		appointment.UnitsPerInterval(15*time.Minute),
		store,
		zerolog.Nop(),
	)
	orch := session.NewOrchestrator(store.Appointments(), store.Sessions(), ledger, store, store, zerolog.Nop())

	return &fixture{
		store:          store,
		appointments:   appts,
		orchestrator:   orch,
		authID:         auth.ID,
		patientID:      patient.ID,
		practitionerID: practitioner.ID,
		serviceCodeID:  code.ID,
	}
}

func (f *fixture) scheduleInProgress(t *testing.T, span time.Duration) *appointment.Appointment {
	t.Helper()

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	appt, err := f.appointments.CreateAppointment(context.Background(), appointment.CreateParams{
		PatientID:       f.patientID,
		PractitionerID:  f.practitionerID,
		ServiceCodeID:   f.serviceCodeID,
		AuthorizationID: f.authID,
		StartTime:       start,
		EndTime:         start.Add(span),
		Actor:           "front-desk",
	})
	require.NoError(t, err)

	started, err := f.appointments.StartAppointment(context.Background(), appt.ID, "practitioner")
	require.NoError(t, err)
	return started
}

func (f *fixture) authorization(t *testing.T) *authorization.Authorization {
	t.Helper()
	a, err := f.store.Authorizations().GetByID(context.Background(), f.authID)
	require.NoError(t, err)
	return a
}

func TestCompleteAppointmentCreatesSession(t *testing.T) {
	f := newFixture(t, 10)
	appt := f.scheduleInProgress(t, time.Hour)

	sess, err := f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: appt.ID,
		Narrative:     "Worked on verbal imitation targets.",
		Metrics:       json.RawMessage(`{"trials": 40, "correct": 31}`),
		Actor:         "practitioner",
	})
	require.NoError(t, err)

	assert.Equal(t, appt.ID, sess.AppointmentID)
	assert.Equal(t, 4, sess.Units)
	assert.Equal(t, session.StatusCompleted, sess.Status)

	got, err := f.appointments.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCompleted, got.Status)
	assert.Equal(t, 0, got.ReservedUnits)

	a := f.authorization(t)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 4, a.UsedUnits)
}

func TestCompleteRequiresInProgress(t *testing.T) {
	f := newFixture(t, 10)

	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	appt, err := f.appointments.CreateAppointment(context.Background(), appointment.CreateParams{
		PatientID:       f.patientID,
		PractitionerID:  f.practitionerID,
		ServiceCodeID:   f.serviceCodeID,
		AuthorizationID: f.authID,
		StartTime:       start,
		EndTime:         start.Add(time.Hour),
		Actor:           "front-desk",
	})
	require.NoError(t, err)

	// Still scheduled, not started.
	_, err = f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: appt.ID,
		Actor:         "practitioner",
	})
	require.ErrorIs(t, err, appointment.ErrInvalidState)

	// Nothing moved.
	a := f.authorization(t)
	assert.Equal(t, 4, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
	_, err = f.store.Sessions().GetSessionByAppointmentID(context.Background(), appt.ID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestCompleteUnknownAppointment(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: uuid.New(),
		Actor:         "practitioner",
	})
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestDoubleCompleteIsRejected(t *testing.T) {
	f := newFixture(t, 10)
	appt := f.scheduleInProgress(t, time.Hour)

	_, err := f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: appt.ID,
		Actor:         "practitioner",
	})
	require.NoError(t, err)

	_, err = f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: appt.ID,
		Actor:         "practitioner",
	})
	require.ErrorIs(t, err, appointment.ErrInvalidState)

	// Units were consumed exactly once.
	a := f.authorization(t)
	assert.Equal(t, 4, a.UsedUnits)
}

func TestConcurrentCompletesCreateOneSession(t *testing.T) {
	f := newFixture(t, 10)
	appt := f.scheduleInProgress(t, time.Hour)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
				AppointmentID: appt.ID,
				Actor:         "practitioner",
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, appointment.ErrInvalidState))
		}
	}
	assert.Equal(t, 1, succeeded)

	sess, err := f.store.Sessions().GetSessionByAppointmentID(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, sess.Units)

	a := f.authorization(t)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 4, a.UsedUnits)
}

func TestCompletionIsAudited(t *testing.T) {
	f := newFixture(t, 10)
	appt := f.scheduleInProgress(t, time.Hour)

	_, err := f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: appt.ID,
		Actor:         "practitioner",
	})
	require.NoError(t, err)

	var types []string
	for _, ev := range f.store.Events() {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, authorization.EventUnitsConsumed)
	assert.Contains(t, types, session.EventAppointmentCompleted)
	assert.Contains(t, types, session.EventSessionCreated)
}

func TestGetSession(t *testing.T) {
	f := newFixture(t, 10)
	appt := f.scheduleInProgress(t, time.Hour)

	created, err := f.orchestrator.CompleteAppointmentAndCreateSession(context.Background(), session.CompleteParams{
		AppointmentID: appt.ID,
		Narrative:     "Session note.",
		Actor:         "practitioner",
	})
	require.NoError(t, err)

	got, err := f.orchestrator.GetSession(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "Session note.", got.Narrative)

	_, err = f.orchestrator.GetSession(context.Background(), uuid.New())
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
