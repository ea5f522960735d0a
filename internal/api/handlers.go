package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicore/authorized-scheduling/internal/appointment"
	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/db"
	"github.com/clinicore/authorized-scheduling/internal/session"
)

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}
		practitionerID, err := uuid.Parse(req.PractitionerID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_practitioner_id", "practitioner_id must be a valid UUID")
			return
		}
		serviceCodeID, err := uuid.Parse(req.ServiceCodeID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_code_id", "service_code_id must be a valid UUID")
			return
		}
		authorizationID, err := uuid.Parse(req.AuthorizationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_authorization_id", "authorization_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), appointment.CreateParams{
			PatientID:       patientID,
			PractitionerID:  practitionerID,
			ServiceCodeID:   serviceCodeID,
			AuthorizationID: authorizationID,
			StartTime:       req.StartTime,
			EndTime:         req.EndTime,
			Actor:           GetActor(r),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func startAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.StartAppointment(r.Context(), id, GetActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.CancelAppointment(r.Context(), id, GetActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req CompleteAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		sess, err := orch.CompleteAppointmentAndCreateSession(r.Context(), session.CompleteParams{
			AppointmentID: id,
			Narrative:     req.Narrative,
			Metrics:       req.Metrics,
			Actor:         GetActor(r),
		})
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toSessionResponse(sess))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		appt, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, err := uuid.Parse(r.URL.Query().Get("patient_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.ListAppointmentsByPatient(r.Context(), patientID, limit, offset)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func reserveUnitsHandler(svc *authorization.Service) http.HandlerFunc {
	return unitsHandler(svc.ReserveUnits)
}

func consumeUnitsHandler(svc *authorization.Service) http.HandlerFunc {
	return unitsHandler(svc.ConsumeUnits)
}

func unitsHandler(op func(ctx context.Context, id uuid.UUID, amount int, actor string) (*authorization.Authorization, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		var req UnitsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if req.Amount <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_amount", "amount must be a positive integer")
			return
		}

		auth, err := op(r.Context(), id, req.Amount, GetActor(r))
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAuthorizationResponse(auth))
	}
}

func getAuthorizationHandler(svc *authorization.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		auth, err := svc.GetAuthorization(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAuthorizationResponse(auth))
	}
}

func getSessionHandler(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := parseIDParam(w, r)
		if !ok {
			return
		}

		sess, err := orch.GetSession(r.Context(), id)
		if err != nil {
			handleDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSessionResponse(sess))
	}
}

func parseIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// handleDomainError maps the core's typed errors onto HTTP statuses.
// The core itself never sees a status code.
func handleDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrPatientNotFound):
		writeError(w, http.StatusNotFound, "patient_not_found", err.Error())
	case errors.Is(err, appointment.ErrPractitionerNotFound):
		writeError(w, http.StatusNotFound, "practitioner_not_found", err.Error())
	case errors.Is(err, appointment.ErrServiceCodeNotFound):
		writeError(w, http.StatusNotFound, "service_code_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, authorization.ErrAuthorizationNotFound):
		writeError(w, http.StatusNotFound, "authorization_not_found", err.Error())
	case errors.Is(err, session.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidState):
		writeError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, authorization.ErrInsufficientUnits):
		writeError(w, http.StatusConflict, "insufficient_units", err.Error())
	case errors.Is(err, authorization.ErrInsufficientScheduledUnits):
		writeError(w, http.StatusConflict, "insufficient_scheduled_units", err.Error())
	case errors.Is(err, authorization.ErrInvalidRelease):
		writeError(w, http.StatusConflict, "invalid_release", err.Error())
	case errors.Is(err, session.ErrDuplicateSession):
		writeError(w, http.StatusConflict, "duplicate_session", err.Error())
	case errors.Is(err, db.ErrConcurrencyConflict):
		writeError(w, http.StatusConflict, "concurrency_conflict", "operation conflicted with concurrent requests, please retry")
	case errors.Is(err, appointment.ErrInvalidTimeRange),
		errors.Is(err, authorization.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PractitionerID:  a.PractitionerID,
		ServiceCodeID:   a.ServiceCodeID,
		AuthorizationID: a.AuthorizationID,
		StartTime:       a.StartTime,
		EndTime:         a.EndTime,
		ReservedUnits:   a.ReservedUnits,
		Status:          string(a.Status),
	}
}

func toAuthorizationResponse(a *authorization.Authorization) AuthorizationResponse {
	return AuthorizationResponse{
		ID:             a.ID,
		PatientID:      a.PatientID,
		ServiceCodeID:  a.ServiceCodeID,
		TotalUnits:     a.TotalUnits,
		ScheduledUnits: a.ScheduledUnits,
		UsedUnits:      a.UsedUnits,
	}
}

func toSessionResponse(s *session.Session) SessionResponse {
	return SessionResponse{
		ID:            s.ID,
		AppointmentID: s.AppointmentID,
		Units:         s.Units,
		Narrative:     s.Narrative,
		Metrics:       s.Metrics,
		Status:        string(s.Status),
		CreatedAt:     s.CreatedAt,
	}
}
