package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type CreateAppointmentRequest struct {
	PatientID       string    `json:"patient_id"`
	PractitionerID  string    `json:"practitioner_id"`
	ServiceCodeID   string    `json:"service_code_id"`
	AuthorizationID string    `json:"authorization_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
}

type UnitsRequest struct {
	Amount int `json:"amount"`
}

type CompleteAppointmentRequest struct {
	Narrative string          `json:"narrative"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
}

type AppointmentResponse struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	PractitionerID  uuid.UUID `json:"practitioner_id"`
	ServiceCodeID   uuid.UUID `json:"service_code_id"`
	AuthorizationID uuid.UUID `json:"authorization_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	ReservedUnits   int       `json:"reserved_units"`
	Status          string    `json:"status"`
}

type AuthorizationResponse struct {
	ID             uuid.UUID `json:"id"`
	PatientID      uuid.UUID `json:"patient_id"`
	ServiceCodeID  uuid.UUID `json:"service_code_id"`
	TotalUnits     int       `json:"total_units"`
	ScheduledUnits int       `json:"scheduled_units"`
	UsedUnits      int       `json:"used_units"`
}

type SessionResponse struct {
	ID            uuid.UUID       `json:"id"`
	AppointmentID uuid.UUID       `json:"appointment_id"`
	Units         int             `json:"units"`
	Narrative     string          `json:"narrative"`
	Metrics       json.RawMessage `json:"metrics,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
