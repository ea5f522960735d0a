package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrDuplicateSession = errors.New("appointment already has a session")
)

// Repository contains the DB interactions needed by the orchestrator.
type Repository interface {
	// CreateSession inserts the session. Fails with ErrDuplicateSession
	// if a session already references the appointment; the unique index
	// backstops the orchestrator's status check.
	CreateSession(ctx context.Context, sess *Session) (*Session, error)

	GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error)
	GetSessionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Session, error)
}
