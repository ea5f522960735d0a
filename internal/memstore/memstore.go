// Package memstore is an in-memory implementation of the repositories
// and the transaction runner. It backs the package tests: the runner
// serializes transaction bodies behind a mutex, which is a trivially
// correct serializable schedule, and rolls the store back when the body
// returns an error, matching the abort-on-business-error contract of
// the Postgres runner.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/authorized-scheduling/internal/appointment"
	"github.com/clinicore/authorized-scheduling/internal/audit"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/session"
)

type Store struct {
	txMu sync.Mutex // serializes transactions
	mu   sync.Mutex // guards the maps below

	authorizations map[uuid.UUID]authorization.Authorization
	patients       map[uuid.UUID]appointment.Patient
	practitioners  map[uuid.UUID]appointment.Practitioner
	serviceCodes   map[uuid.UUID]appointment.ServiceCode
	appointments   map[uuid.UUID]appointment.Appointment
	sessions       map[uuid.UUID]session.Session
	sessionByAppt  map[uuid.UUID]uuid.UUID
	events         []audit.Event
}

func New() *Store {
	return &Store{
		authorizations: make(map[uuid.UUID]authorization.Authorization),
		patients:       make(map[uuid.UUID]appointment.Patient),
		practitioners:  make(map[uuid.UUID]appointment.Practitioner),
		serviceCodes:   make(map[uuid.UUID]appointment.ServiceCode),
		appointments:   make(map[uuid.UUID]appointment.Appointment),
		sessions:       make(map[uuid.UUID]session.Session),
		sessionByAppt:  make(map[uuid.UUID]uuid.UUID),
	}
}

// InTx implements db.Runner. The body runs with exclusive access to the
// store; on error every write it made is rolled back.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshotState struct {
	authorizations map[uuid.UUID]authorization.Authorization
	appointments   map[uuid.UUID]appointment.Appointment
	sessions       map[uuid.UUID]session.Session
	sessionByAppt  map[uuid.UUID]uuid.UUID
	events         []audit.Event
}

func (s *Store) snapshot() snapshotState {
	s.mu.Lock()
	defer s.mu.Unlock()

	return snapshotState{
		authorizations: cloneMap(s.authorizations),
		appointments:   cloneMap(s.appointments),
		sessions:       cloneMap(s.sessions),
		sessionByAppt:  cloneMap(s.sessionByAppt),
		events:         append([]audit.Event(nil), s.events...),
	}
}

func (s *Store) restore(snap snapshotState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.authorizations = snap.authorizations
	s.appointments = snap.appointments
	s.sessions = snap.sessions
	s.sessionByAppt = snap.sessionByAppt
	s.events = snap.events
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Seed helpers

func (s *Store) AddPatient(name string) appointment.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := appointment.Patient{ID: uuid.New(), Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.patients[p.ID] = p
	return p
}

func (s *Store) AddPractitioner(name string) appointment.Practitioner {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := appointment.Practitioner{ID: uuid.New(), Name: name, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	s.practitioners[p.ID] = p
	return p
}

func (s *Store) AddServiceCode(code string) appointment.ServiceCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc := appointment.ServiceCode{ID: uuid.New(), Code: code, CreatedAt: time.Now()}
	s.serviceCodes[sc.ID] = sc
	return sc
}

func (s *Store) AddAuthorization(patientID, serviceCodeID uuid.UUID, totalUnits int) authorization.Authorization {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := authorization.Authorization{
		ID:            uuid.New(),
		PatientID:     patientID,
		ServiceCodeID: serviceCodeID,
		TotalUnits:    totalUnits,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	s.authorizations[a.ID] = a
	return a
}

// Events returns a copy of the audit log.
func (s *Store) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]audit.Event(nil), s.events...)
}

// Record implements audit.Recorder.
func (s *Store) Record(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}

// Repository views

func (s *Store) Authorizations() authorization.Repository { return authRepo{s} }
func (s *Store) Appointments() appointment.Repository     { return apptRepo{s} }
func (s *Store) Sessions() session.Repository             { return sessRepo{s} }

type authRepo struct{ s *Store }

func (r authRepo) GetByID(_ context.Context, id uuid.UUID) (*authorization.Authorization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.authorizations[id]
	if !ok {
		return nil, authorization.ErrAuthorizationNotFound
	}
	return &a, nil
}

func (r authRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*authorization.Authorization, error) {
	// Transactions are fully serialized, so a plain read is already a
	// locked read.
	return r.GetByID(ctx, id)
}

func (r authRepo) UpdateCounters(_ context.Context, id uuid.UUID, scheduled, used int) (*authorization.Authorization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.authorizations[id]
	if !ok {
		return nil, authorization.ErrAuthorizationNotFound
	}
	a.ScheduledUnits = scheduled
	a.UsedUnits = used
	a.UpdatedAt = time.Now()
	r.s.authorizations[id] = a
	return &a, nil
}

type apptRepo struct{ s *Store }

func (r apptRepo) GetPatientByID(_ context.Context, id uuid.UUID) (*appointment.Patient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.patients[id]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return &p, nil
}

func (r apptRepo) GetPractitionerByID(_ context.Context, id uuid.UUID) (*appointment.Practitioner, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.practitioners[id]
	if !ok {
		return nil, appointment.ErrPractitionerNotFound
	}
	return &p, nil
}

func (r apptRepo) GetServiceCodeByID(_ context.Context, id uuid.UUID) (*appointment.ServiceCode, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sc, ok := r.s.serviceCodes[id]
	if !ok {
		return nil, appointment.ErrServiceCodeNotFound
	}
	return &sc, nil
}

func (r apptRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (r apptRepo) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return r.GetAppointmentByID(ctx, id)
}

func (r apptRepo) CreateAppointment(_ context.Context, appt *appointment.Appointment) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a := *appt
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.s.appointments[a.ID] = a
	return &a, nil
}

func (r apptRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	r.s.appointments[id] = a
	return &a, nil
}

func (r apptRepo) CloseAppointment(_ context.Context, id uuid.UUID, from, to appointment.Status) (*appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.appointments[id]
	if !ok || a.Status != from {
		return nil, appointment.ErrAppointmentNotFound
	}
	a.Status = to
	a.ReservedUnits = 0
	a.UpdatedAt = time.Now()
	r.s.appointments[id] = a
	return &a, nil
}

func (r apptRepo) ListAppointmentsByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]appointment.Appointment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var all []appointment.Appointment
	for _, a := range r.s.appointments {
		if a.PatientID == patientID {
			all = append(all, a)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].StartTime.After(all[j].StartTime) })

	if offset >= len(all) {
		return nil, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, nil
}

type sessRepo struct{ s *Store }

func (r sessRepo) CreateSession(_ context.Context, sess *session.Session) (*session.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, exists := r.s.sessionByAppt[sess.AppointmentID]; exists {
		return nil, session.ErrDuplicateSession
	}

	c := *sess
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	r.s.sessions[c.ID] = c
	r.s.sessionByAppt[c.AppointmentID] = c.ID
	return &c, nil
}

func (r sessRepo) GetSessionByID(_ context.Context, id uuid.UUID) (*session.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return &sess, nil
}

func (r sessRepo) GetSessionByAppointmentID(_ context.Context, appointmentID uuid.UUID) (*session.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.sessionByAppt[appointmentID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	sess := r.s.sessions[id]
	return &sess, nil
}
