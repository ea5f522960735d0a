package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/authorized-scheduling/internal/db"
)

// Event is one append-only audit record. Events are written inside the
// same transaction as the state change they describe, so the log never
// mentions a change that did not commit.
type Event struct {
	ID              int64
	EventType       string
	AppointmentID   *uuid.UUID
	AuthorizationID *uuid.UUID
	Actor           string
	Payload         []byte
	CreatedAt       time.Time
}

// Recorder appends audit events.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// NewEvent builds an event with a JSON payload. A payload that fails to
// marshal is dropped rather than blocking the business operation.
func NewEvent(eventType, actor string, payload map[string]any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return Event{
		EventType: eventType,
		Actor:     actor,
		Payload:   data,
	}
}

type PgRecorder struct {
	pool *pgxpool.Pool
}

func NewPgRecorder(pool *pgxpool.Pool) *PgRecorder {
	return &PgRecorder{pool: pool}
}

func (r *PgRecorder) Record(ctx context.Context, ev Event) error {
	q := db.QuerierFrom(ctx, r.pool)

	_, err := q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, authorization_id, actor, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
	`, ev.EventType, ev.AppointmentID, ev.AuthorizationID, ev.Actor, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
