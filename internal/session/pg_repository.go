package session

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/authorized-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanSession(row pgx.Row) (*Session, error) {
	var s Session

	err := row.Scan(
		&s.ID,
		&s.AppointmentID,
		&s.Units,
		&s.Narrative,
		&s.Metrics,
		&s.Status,
		&s.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return &s, nil
}

func (r *PgRepository) CreateSession(ctx context.Context, sess *Session) (*Session, error) {
	id := sess.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	row := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO sessions (id, appointment_id, units, narrative, metrics, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING id, appointment_id, units, narrative, metrics, status, created_at
	`, id, sess.AppointmentID, sess.Units, sess.Narrative, sess.Metrics, sess.Status)

	created, err := scanSession(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateSession
		}
		return nil, err
	}

	return created, nil
}

func (r *PgRepository) GetSessionByID(ctx context.Context, id uuid.UUID) (*Session, error) {
	row := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, units, narrative, metrics, status, created_at
		FROM sessions
		WHERE id = $1
	`, id)
	return scanSession(row)
}

func (r *PgRepository) GetSessionByAppointmentID(ctx context.Context, appointmentID uuid.UUID) (*Session, error) {
	row := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, appointment_id, units, narrative, metrics, status, created_at
		FROM sessions
		WHERE appointment_id = $1
	`, appointmentID)
	return scanSession(row)
}
