package appointment_test

import (
	"context"
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
)

type fixture struct {
	store          *memstore.Store
	svc            *appointment.Service
	patientID      uuid.UUID
	practitionerID uuid.UUID
	serviceCodeID  uuid.UUID
	authID         uuid.UUID
}

func newFixture(t *testing.T, totalUnits int) *fixture {
	t.Helper()

	store := memstore.New()
	patient := store.AddPatient("Jane Doe")
	practitioner := store.AddPractitioner("Dr. Smith")
	code := store.AddServiceCode("97153")
	auth := store.AddAuthorization(patient.ID, code.ID, totalUnits)

	ledger := authorization.NewLedger(store.Authorizations(), store)
	svc := appointment.NewService(
		store.Appointments(),
		ledger,
		store,
		appointment.UnitsPerInterval(15*time.Minute),
		store,
		zerolog.Nop(),
	)

	return &fixture{
		store:          store,
		svc:            svc,
		patientID:      patient.ID,
		practitionerID: practitioner.ID,
		serviceCodeID:  code.ID,
		authID:         auth.ID,
	}
}

func (f *fixture) createParams(span time.Duration) appointment.CreateParams {
	start := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	return appointment.CreateParams{
		PatientID:       f.patientID,
		PractitionerID:  f.practitionerID,
		ServiceCodeID:   f.serviceCodeID,
		AuthorizationID: f.authID,
		StartTime:       start,
		EndTime:         start.Add(span),
		Actor:           "front-desk",
	}
}

func (f *fixture) authorization(t *testing.T) *authorization.Authorization {
	t.Helper()
	a, err := f.store.Authorizations().GetByID(context.Background(), f.authID)
	require.NoError(t, err)
	return a
}

func TestCreateAppointmentReservesUnits(t *testing.T) {
	f := newFixture(t, 10)

	appt, err := f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, appointment.StatusScheduled, appt.Status)
	assert.Equal(t, 4, appt.ReservedUnits)

	a := f.authorization(t)
	assert.Equal(t, 4, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestCreateAppointmentInsufficientUnitsIsAtomic(t *testing.T) {
	f := newFixture(t, 3)

	_, err := f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
	require.ErrorIs(t, err, authorization.ErrInsufficientUnits)

	// No appointment row exists and the counters are untouched.
	appts, listErr := f.svc.ListAppointmentsByPatient(context.Background(), f.patientID, 50, 0)
	require.NoError(t, listErr)
	assert.Empty(t, appts)

	a := f.authorization(t)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestCreateAppointmentInvalidTimeRange(t *testing.T) {
	f := newFixture(t, 10)

	p := f.createParams(time.Hour)
	p.EndTime = p.StartTime
	_, err := f.svc.CreateAppointment(context.Background(), p)
	assert.ErrorIs(t, err, appointment.ErrInvalidTimeRange)

	p.EndTime = p.StartTime.Add(-time.Hour)
	_, err = f.svc.CreateAppointment(context.Background(), p)
	assert.ErrorIs(t, err, appointment.ErrInvalidTimeRange)
}

func TestCreateAppointmentUnknownReferences(t *testing.T) {
	f := newFixture(t, 10)

	p := f.createParams(time.Hour)
	p.PatientID = uuid.New()
	_, err := f.svc.CreateAppointment(context.Background(), p)
	assert.ErrorIs(t, err, appointment.ErrPatientNotFound)

	p = f.createParams(time.Hour)
	p.AuthorizationID = uuid.New()
	_, err = f.svc.CreateAppointment(context.Background(), p)
	assert.ErrorIs(t, err, authorization.ErrAuthorizationNotFound)
}

func TestConcurrentCreatesOnTightAuthorization(t *testing.T) {
	// totalUnits covers exactly one of the two hour-long appointments.
	f := newFixture(t, 4)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, authorization.ErrInsufficientUnits))
		}
	}
	assert.Equal(t, 1, succeeded)

	a := f.authorization(t)
	assert.Equal(t, 4, a.ScheduledUnits)
}

func TestStartAppointment(t *testing.T) {
	f := newFixture(t, 10)

	appt, err := f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
	require.NoError(t, err)

	started, err := f.svc.StartAppointment(context.Background(), appt.ID, "practitioner")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusInProgress, started.Status)

	// Starting twice is rejected.
	_, err = f.svc.StartAppointment(context.Background(), appt.ID, "practitioner")
	assert.ErrorIs(t, err, appointment.ErrInvalidState)
}

func TestCancelAppointmentReleasesUnits(t *testing.T) {
	f := newFixture(t, 10)

	appt, err := f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 4, f.authorization(t).ScheduledUnits)

	cancelled, err := f.svc.CancelAppointment(context.Background(), appt.ID, "front-desk")
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, cancelled.Status)
	assert.Equal(t, 0, cancelled.ReservedUnits)

	a := f.authorization(t)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestCancelIsNotIdempotent(t *testing.T) {
	f := newFixture(t, 10)

	appt, err := f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
	require.NoError(t, err)

	_, err = f.svc.CancelAppointment(context.Background(), appt.ID, "front-desk")
	require.NoError(t, err)

	// The second cancel must fail and must not release again.
	_, err = f.svc.CancelAppointment(context.Background(), appt.ID, "front-desk")
	assert.ErrorIs(t, err, appointment.ErrInvalidState)

	a := f.authorization(t)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestConcurrentCancelsReleaseOnce(t *testing.T) {
	f := newFixture(t, 10)

	appt, err := f.svc.CreateAppointment(context.Background(), f.createParams(time.Hour))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.CancelAppointment(context.Background(), appt.ID, "front-desk")
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

	got, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StatusCancelled, got.Status)

	// Scheduled units are back to the pre-reservation value, not below.
	a := f.authorization(t)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestCancelUnknownAppointment(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.svc.CancelAppointment(context.Background(), uuid.New(), "front-desk")
	assert.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func TestListAppointmentsClampsLimit(t *testing.T) {
	f := newFixture(t, 240)

	for i := 0; i < 3; i++ {
		p := f.createParams(30 * time.Minute)
		p.StartTime = p.StartTime.Add(time.Duration(i) * 24 * time.Hour)
		p.EndTime = p.StartTime.Add(30 * time.Minute)
		_, err := f.svc.CreateAppointment(context.Background(), p)
		require.NoError(t, err)
	}

	appts, err := f.svc.ListAppointmentsByPatient(context.Background(), f.patientID, -5, -1)
	require.NoError(t, err)
	assert.Len(t, appts, 3)

	appts, err = f.svc.ListAppointmentsByPatient(context.Background(), f.patientID, 2, 0)
	require.NoError(t, err)
	assert.Len(t, appts, 2)
}
