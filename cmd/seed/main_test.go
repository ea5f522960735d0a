package main

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/authorized-scheduling/internal/db"
)

// rowQuerier plays the database: QueryRow always returns the stored id,
// the way ON CONFLICT ... RETURNING hands back the existing row on a
// re-run instead of the freshly generated one.
type rowQuerier struct {
	storedID uuid.UUID
}

func (q rowQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}

func (q rowQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, nil
}

func (q rowQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return idRow{id: q.storedID}
}

type idRow struct {
	id uuid.UUID
}

func (r idRow) Scan(dest ...any) error {
	*dest[0].(*uuid.UUID) = r.id
	return nil
}

var _ db.Querier = rowQuerier{}

func TestUpsertServiceCodeReturnsPersistedID(t *testing.T) {
	existing := uuid.New()
	q := rowQuerier{storedID: existing}

	id, err := upsertServiceCode(context.Background(), q, "97153", "Adaptive behavior treatment by protocol")
	require.NoError(t, err)
	assert.Equal(t, existing, id)
}
