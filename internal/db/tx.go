package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConcurrencyConflict is returned when an operation could not commit
// within the retry budget because of serialization conflicts with
// concurrent transactions. Callers may retry the whole request.
var ErrConcurrencyConflict = errors.New("concurrency conflict, retry the request")

// DefaultMaxAttempts bounds automatic retries of a serializable
// transaction before ErrConcurrencyConflict is surfaced.
const DefaultMaxAttempts = 3

type txKey struct{}

// Querier is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
// Repositories run against whichever the context provides.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// QuerierFrom returns the transaction carried by ctx, or fallback when
// the call is not running inside a transaction.
func QuerierFrom(ctx context.Context, fallback Querier) Querier {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return fallback
}

// Runner executes a function as one atomic unit. Every read-check-write
// sequence in the service layer goes through a Runner so that the
// precondition check and the write commit or abort together.
type Runner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// PgRunner runs fn inside a serializable Postgres transaction, retrying
// the whole fn on serialization failures and deadlocks up to
// MaxAttempts. Business-rule errors returned by fn abort the transaction
// and are never retried.
type PgRunner struct {
	MaxAttempts int

	begin func(ctx context.Context) (pgx.Tx, error)
}

func NewPgRunner(pool *pgxpool.Pool) *PgRunner {
	return &PgRunner{
		MaxAttempts: DefaultMaxAttempts,
		begin: func(ctx context.Context) (pgx.Tx, error) {
			return pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		},
	}
}

func (r *PgRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return ErrConcurrencyConflict
}

func (r *PgRunner) runOnce(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := r.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// retryable reports whether err is a transient conflict between
// concurrent transactions: SQLSTATE 40001 (serialization_failure) or
// 40P01 (deadlock_detected).
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
