package authorization

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/authorized-scheduling/internal/db"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanAuthorization(row pgx.Row) (*Authorization, error) {
	var a Authorization

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.ServiceCodeID,
		&a.TotalUnits,
		&a.ScheduledUnits,
		&a.UsedUnits,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAuthorizationNotFound
		}
		return nil, err
	}

	return &a, nil
}

func (r *PgRepository) GetByID(ctx context.Context, id uuid.UUID) (*Authorization, error) {
	row := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, patient_id, service_code_id, total_units, scheduled_units, used_units, created_at, updated_at
		FROM authorizations
		WHERE id = $1
	`, id)
	return scanAuthorization(row)
}

func (r *PgRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Authorization, error) {
	row := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		SELECT id, patient_id, service_code_id, total_units, scheduled_units, used_units, created_at, updated_at
		FROM authorizations
		WHERE id = $1
		FOR UPDATE
	`, id)
	return scanAuthorization(row)
}

func (r *PgRepository) UpdateCounters(ctx context.Context, id uuid.UUID, scheduled, used int) (*Authorization, error) {
	row := db.QuerierFrom(ctx, r.pool).QueryRow(ctx, `
		UPDATE authorizations
		SET scheduled_units = $2,
		    used_units = $3,
		    updated_at = now()
		WHERE id = $1
		RETURNING id, patient_id, service_code_id, total_units, scheduled_units, used_units, created_at, updated_at
	`, id, scheduled, used)
	return scanAuthorization(row)
}
