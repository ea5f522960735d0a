package authorization

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrAuthorizationNotFound = errors.New("authorization not found")

// Repository contains the DB interactions needed by the ledger.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Authorization, error)

	// GetForUpdate reads the authorization with a row lock so the
	// counter check and the update happen against the same state.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Authorization, error)

	// UpdateCounters writes a new (scheduled, used) pair. TotalUnits is
	// never written after creation.
	UpdateCounters(ctx context.Context, id uuid.UUID, scheduled, used int) (*Authorization, error)
}
