package authorization_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/authorized-scheduling/internal/authorization"
	"github.com/clinicore/authorized-scheduling/internal/memstore"
)

func newService(t *testing.T, totalUnits int) (*authorization.Service, *memstore.Store, uuid.UUID) {
	t.Helper()

	store := memstore.New()
	patient := store.AddPatient("Jane Doe")
	code := store.AddServiceCode("97153")
	auth := store.AddAuthorization(patient.ID, code.ID, totalUnits)

	ledger := authorization.NewLedger(store.Authorizations(), store)
	svc := authorization.NewService(ledger, store.Authorizations(), store, zerolog.Nop())

	return svc, store, auth.ID
}

func TestReserveUnits(t *testing.T) {
	svc, _, authID := newService(t, 20)

	a, err := svc.ReserveUnits(context.Background(), authID, 8, "scheduler")
	require.NoError(t, err)
	assert.Equal(t, 8, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
	assert.Equal(t, 12, a.Available())
}

func TestReserveUnitsInsufficient(t *testing.T) {
	svc, _, authID := newService(t, 10)

	_, err := svc.ReserveUnits(context.Background(), authID, 7, "scheduler")
	require.NoError(t, err)

	_, err = svc.ReserveUnits(context.Background(), authID, 4, "scheduler")
	require.ErrorIs(t, err, authorization.ErrInsufficientUnits)

	var insufficientErr *authorization.InsufficientUnitsError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 4, insufficientErr.Requested)
	assert.Equal(t, 3, insufficientErr.Available)

	// Counters untouched by the failed reserve.
	a, err := svc.GetAuthorization(context.Background(), authID)
	require.NoError(t, err)
	assert.Equal(t, 7, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestConsumeUnits(t *testing.T) {
	svc, _, authID := newService(t, 20)

	_, err := svc.ReserveUnits(context.Background(), authID, 10, "scheduler")
	require.NoError(t, err)

	a, err := svc.ConsumeUnits(context.Background(), authID, 6, "biller")
	require.NoError(t, err)
	assert.Equal(t, 4, a.ScheduledUnits)
	assert.Equal(t, 6, a.UsedUnits)
}

func TestConsumeUnitsInsufficientScheduled(t *testing.T) {
	svc, _, authID := newService(t, 20)

	_, err := svc.ReserveUnits(context.Background(), authID, 5, "scheduler")
	require.NoError(t, err)

	_, err = svc.ConsumeUnits(context.Background(), authID, 6, "biller")
	require.ErrorIs(t, err, authorization.ErrInsufficientScheduledUnits)

	a, err := svc.GetAuthorization(context.Background(), authID)
	require.NoError(t, err)
	assert.Equal(t, 5, a.ScheduledUnits)
	assert.Equal(t, 0, a.UsedUnits)
}

func TestReleaseExceedsScheduled(t *testing.T) {
	svc, store, authID := newService(t, 20)

	_, err := svc.ReserveUnits(context.Background(), authID, 5, "scheduler")
	require.NoError(t, err)

	ledger := authorization.NewLedger(store.Authorizations(), store)
	err = store.InTx(context.Background(), func(ctx context.Context) error {
		_, err := ledger.Release(ctx, authID, 6, "scheduler")
		return err
	})
	require.ErrorIs(t, err, authorization.ErrInvalidRelease)
}

func TestLedgerRejectsNonPositiveAmounts(t *testing.T) {
	svc, _, authID := newService(t, 20)

	for _, amount := range []int{0, -3} {
		_, err := svc.ReserveUnits(context.Background(), authID, amount, "scheduler")
		assert.ErrorIs(t, err, authorization.ErrInvalidAmount)

		_, err = svc.ConsumeUnits(context.Background(), authID, amount, "biller")
		assert.ErrorIs(t, err, authorization.ErrInvalidAmount)
	}
}

func TestReserveUnknownAuthorization(t *testing.T) {
	svc, _, _ := newService(t, 20)

	_, err := svc.ReserveUnits(context.Background(), uuid.New(), 1, "scheduler")
	require.ErrorIs(t, err, authorization.ErrAuthorizationNotFound)
}

func TestConcurrentReservesAllFit(t *testing.T) {
	svc, _, authID := newService(t, 100)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ReserveUnits(context.Background(), authID, 10, "scheduler")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	a, err := svc.GetAuthorization(context.Background(), authID)
	require.NoError(t, err)
	assert.Equal(t, 50, a.ScheduledUnits)
}

func TestConcurrentReservesOverCap(t *testing.T) {
	svc, _, authID := newService(t, 15)

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ReserveUnits(context.Background(), authID, 10, "scheduler")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.True(t, errors.Is(err, authorization.ErrInsufficientUnits))
		}
	}
	assert.Equal(t, 1, succeeded)

	a, err := svc.GetAuthorization(context.Background(), authID)
	require.NoError(t, err)
	assert.Equal(t, 10, a.ScheduledUnits)
	assert.LessOrEqual(t, a.ScheduledUnits+a.UsedUnits, a.TotalUnits)
}

func TestConcurrentConsumesDrainScheduled(t *testing.T) {
	svc, _, authID := newService(t, 100)

	_, err := svc.ReserveUnits(context.Background(), authID, 50, "scheduler")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ConsumeUnits(context.Background(), authID, 10, "biller")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	a, err := svc.GetAuthorization(context.Background(), authID)
	require.NoError(t, err)
	assert.Equal(t, 0, a.ScheduledUnits)
	assert.Equal(t, 50, a.UsedUnits)
}

func TestLedgerOperationsAreAudited(t *testing.T) {
	svc, store, authID := newService(t, 30)

	_, err := svc.ReserveUnits(context.Background(), authID, 10, "front-desk")
	require.NoError(t, err)
	_, err = svc.ConsumeUnits(context.Background(), authID, 10, "biller")
	require.NoError(t, err)

	events := store.Events()
	require.Len(t, events, 2)
	assert.Equal(t, authorization.EventUnitsReserved, events[0].EventType)
	assert.Equal(t, "front-desk", events[0].Actor)
	assert.Equal(t, authorization.EventUnitsConsumed, events[1].EventType)
	require.NotNil(t, events[0].AuthorizationID)
	assert.Equal(t, authID, *events[0].AuthorizationID)
}
