package authorization

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/clinicore/authorized-scheduling/internal/audit"
)

const (
	EventUnitsReserved = "UNITS_RESERVED"
	EventUnitsConsumed = "UNITS_CONSUMED"
	EventUnitsReleased = "UNITS_RELEASED"
)

var (
	ErrInsufficientUnits          = errors.New("insufficient units on authorization")
	ErrInsufficientScheduledUnits = errors.New("insufficient scheduled units on authorization")
	ErrInvalidRelease             = errors.New("release exceeds scheduled units")
	ErrInvalidAmount              = errors.New("amount must be positive")
)

// InsufficientUnitsError reports how far a reservation overshot the pool.
type InsufficientUnitsError struct {
	AuthorizationID uuid.UUID
	Requested       int
	Available       int
}

func (e *InsufficientUnitsError) Error() string {
	return fmt.Sprintf("insufficient units on authorization %s: requested %d, available %d",
		e.AuthorizationID, e.Requested, e.Available)
}

func (e *InsufficientUnitsError) Unwrap() error {
	return ErrInsufficientUnits
}

// Ledger owns the counter triple on an authorization. All three
// operations are read-modify-write against a freshly locked row and
// must be called inside a transaction started by a db.Runner; the
// ledger has no locking of its own.
type Ledger struct {
	repo  Repository
	audit audit.Recorder
}

func NewLedger(repo Repository, recorder audit.Recorder) *Ledger {
	return &Ledger{repo: repo, audit: recorder}
}

// Reserve earmarks amount units for a scheduled appointment. Fails with
// ErrInsufficientUnits when the reservation would exceed
// total - (scheduled + used); counters are left unchanged.
func (l *Ledger) Reserve(ctx context.Context, id uuid.UUID, amount int, actor string) (*Authorization, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	a, err := l.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	if a.ScheduledUnits+a.UsedUnits+amount > a.TotalUnits {
		return nil, &InsufficientUnitsError{
			AuthorizationID: id,
			Requested:       amount,
			Available:       a.Available(),
		}
	}

	updated, err := l.repo.UpdateCounters(ctx, id, a.ScheduledUnits+amount, a.UsedUnits)
	if err != nil {
		return nil, fmt.Errorf("reserve units: %w", err)
	}

	if err := l.record(ctx, EventUnitsReserved, id, amount, actor, updated); err != nil {
		return nil, err
	}

	return updated, nil
}

// Consume permanently converts reserved units into used units. Fails
// with ErrInsufficientScheduledUnits when amount exceeds the current
// scheduled counter.
func (l *Ledger) Consume(ctx context.Context, id uuid.UUID, amount int, actor string) (*Authorization, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	a, err := l.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	if amount > a.ScheduledUnits {
		return nil, fmt.Errorf("consume %d of %d scheduled: %w", amount, a.ScheduledUnits, ErrInsufficientScheduledUnits)
	}

	updated, err := l.repo.UpdateCounters(ctx, id, a.ScheduledUnits-amount, a.UsedUnits+amount)
	if err != nil {
		return nil, fmt.Errorf("consume units: %w", err)
	}

	if err := l.record(ctx, EventUnitsConsumed, id, amount, actor, updated); err != nil {
		return nil, err
	}

	return updated, nil
}

// Release gives back a reservation that was never consumed, e.g. on
// cancellation. Fails with ErrInvalidRelease when amount exceeds the
// current scheduled counter.
func (l *Ledger) Release(ctx context.Context, id uuid.UUID, amount int, actor string) (*Authorization, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	a, err := l.repo.GetForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}

	if amount > a.ScheduledUnits {
		return nil, fmt.Errorf("release %d of %d scheduled: %w", amount, a.ScheduledUnits, ErrInvalidRelease)
	}

	updated, err := l.repo.UpdateCounters(ctx, id, a.ScheduledUnits-amount, a.UsedUnits)
	if err != nil {
		return nil, fmt.Errorf("release units: %w", err)
	}

	if err := l.record(ctx, EventUnitsReleased, id, amount, actor, updated); err != nil {
		return nil, err
	}

	return updated, nil
}

func (l *Ledger) record(ctx context.Context, eventType string, id uuid.UUID, amount int, actor string, a *Authorization) error {
	ev := audit.NewEvent(eventType, actor, map[string]any{
		"amount":          amount,
		"scheduled_units": a.ScheduledUnits,
		"used_units":      a.UsedUnits,
	})
	authID := id
	ev.AuthorizationID = &authID

	if err := l.audit.Record(ctx, ev); err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}
