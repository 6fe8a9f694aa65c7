package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireReleaseScenario(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1})
	ctx := context.Background()

	first := f.acquire(t, "cabin", stay(0, 2), 1)
	assert.Equal(t, models.HoldStateActive, first.State)
	assert.Equal(t, epoch.Add(10*time.Minute), first.ExpiresAt)

	_, err := f.holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "cabin", Range: stay(1, 1), Quantity: 1, Actor: guest})
	assert.ErrorIs(t, err, ErrInsufficientAvailability)

	released, err := f.holds.ReleaseHold(ctx, first.ID, "guest cancelled", guest)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStateReleased, released.State)
	assert.Equal(t, "guest cancelled", released.ReleaseReason)

	second := f.acquire(t, "cabin", stay(1, 1), 1)
	assert.Equal(t, models.HoldStateActive, second.State)
}

func TestAcquireHalfOpenRangesDoNotOverlap(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1})

	f.acquire(t, "cabin", stay(0, 2), 1)
	// check-out day of the first stay is the check-in day of the next
	f.acquire(t, "cabin", stay(2, 2), 1)

	avail, err := f.holds.Availability(context.Background(), "cabin", stay(1, 2))
	require.NoError(t, err)
	assert.Equal(t, 1, avail.Total)
	assert.Equal(t, 2, avail.Held)
	assert.Equal(t, 0, avail.Available)
}

func TestConcurrentAcquireNeverOverbooks(t *testing.T) {
	f := newFixture(t, StaticInventory{"deluxe": 5})
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		granted  atomic.Int32
		rejected atomic.Int32
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.holds.AcquireHold(ctx, AcquireHoldInput{
				RoomTypeID: "deluxe",
				Range:      stay(i%3, 2),
				Quantity:   1,
				Actor:      guest,
			})
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, ErrInsufficientAvailability):
				rejected.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(50), granted.Load()+rejected.Load())
	for day := 0; day < 4; day++ {
		avail, err := f.holds.Availability(ctx, "deluxe", stay(day, 1))
		require.NoError(t, err)
		assert.LessOrEqual(t, avail.Held, 5, "day %d", day)
	}
	assert.Equal(t, int(granted.Load()), f.log.Len())
}

func TestCommitAndReleaseAreIdempotent(t *testing.T) {
	f := newFixture(t, StaticInventory{"suite": 2})
	ctx := context.Background()

	t.Run("commit twice", func(t *testing.T) {
		h := f.acquire(t, "suite", stay(0, 1), 1)
		first, err := f.holds.CommitHold(ctx, h.ID, guest)
		require.NoError(t, err)
		second, err := f.holds.CommitHold(ctx, h.ID, guest)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, models.HoldStateCommitted, second.State)
		assert.Equal(t, 1, f.entries(t, models.EntityReservationHold, h.ID, models.AuditUpdate))
	})

	t.Run("release twice", func(t *testing.T) {
		h := f.acquire(t, "suite", stay(0, 1), 1)
		first, err := f.holds.ReleaseHold(ctx, h.ID, "changed plans", guest)
		require.NoError(t, err)
		second, err := f.holds.ReleaseHold(ctx, h.ID, "changed plans", guest)
		require.NoError(t, err)

		assert.Equal(t, first, second)
		assert.Equal(t, 1, f.entries(t, models.EntityReservationHold, h.ID, models.AuditUpdate))
	})

	t.Run("conflicting resolutions", func(t *testing.T) {
		committed := f.acquire(t, "suite", stay(5, 1), 1)
		_, err := f.holds.CommitHold(ctx, committed.ID, guest)
		require.NoError(t, err)

		h, err := f.holds.ReleaseHold(ctx, committed.ID, "too late", guest)
		assert.ErrorIs(t, err, ErrHoldAlreadyResolved)
		assert.Equal(t, models.HoldStateCommitted, h.State)

		released := f.acquire(t, "suite", stay(5, 1), 1)
		_, err = f.holds.ReleaseHold(ctx, released.ID, "", guest)
		require.NoError(t, err)

		h, err = f.holds.CommitHold(ctx, released.ID, guest)
		assert.ErrorIs(t, err, ErrHoldAlreadyResolved)
		assert.Equal(t, models.HoldStateReleased, h.State)
	})
}

func TestLeaseExpiry(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1})
	ctx := context.Background()

	var expired []models.ReservationHold
	var mu sync.Mutex
	f.holds.OnExpired(func(_ context.Context, h models.ReservationHold) {
		mu.Lock()
		expired = append(expired, h)
		mu.Unlock()
	})

	h, err := f.holds.AcquireHold(ctx, AcquireHoldInput{
		RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 1, Lease: time.Second, Actor: guest,
	})
	require.NoError(t, err)

	assert.Zero(t, f.holds.SweepExpired(ctx))

	f.clock.Advance(2 * time.Second)
	assert.Equal(t, 1, f.holds.SweepExpired(ctx))
	assert.Zero(t, f.holds.SweepExpired(ctx))
	f.holds.WaitHooks()

	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStateExpired, got.State)

	_, err = f.holds.CommitHold(ctx, h.ID, guest)
	assert.ErrorIs(t, err, ErrHoldAlreadyResolved)

	mu.Lock()
	require.Len(t, expired, 1)
	assert.Equal(t, h.ID, expired[0].ID)
	mu.Unlock()

	all, err := f.log.List(ctx, models.AuditFilter{EntityID: h.ID})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, models.ActorLeaseSweeper, all[1].Actor)

	f.acquire(t, "cabin", stay(0, 1), 1)
}

func TestLapsedHoldIsExpiredBeforeCommit(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1})
	ctx := context.Background()

	h, err := f.holds.AcquireHold(ctx, AcquireHoldInput{
		RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 1, Lease: time.Second, Actor: guest,
	})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	got, err := f.holds.CommitHold(ctx, h.ID, guest)
	assert.ErrorIs(t, err, ErrHoldAlreadyResolved)
	assert.Equal(t, models.HoldStateExpired, got.State)
}

func TestCommitHoldsIsAllOrNothing(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1, "suite": 1})
	ctx := context.Background()

	long, err := f.holds.AcquireHold(ctx, AcquireHoldInput{
		RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 1, Lease: time.Hour, Actor: guest,
	})
	require.NoError(t, err)
	short, err := f.holds.AcquireHold(ctx, AcquireHoldInput{
		RoomTypeID: "suite", Range: stay(0, 1), Quantity: 1, Lease: time.Second, Actor: guest,
	})
	require.NoError(t, err)

	f.clock.Advance(time.Second)
	got, err := f.holds.CommitHolds(ctx, []string{long.ID, short.ID}, guest)
	assert.ErrorIs(t, err, ErrHoldAlreadyResolved)
	require.Len(t, got, 2)
	assert.Equal(t, models.HoldStateActive, got[0].State)
	assert.Equal(t, models.HoldStateExpired, got[1].State)

	h, err := f.holds.GetHold(ctx, long.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStateActive, h.State)
	assert.Zero(t, f.entries(t, models.EntityReservationHold, long.ID, models.AuditUpdate))

	other, err := f.holds.AcquireHold(ctx, AcquireHoldInput{
		RoomTypeID: "suite", Range: stay(0, 1), Quantity: 1, Actor: guest,
	})
	require.NoError(t, err)
	got, err = f.holds.CommitHolds(ctx, []string{long.ID, other.ID}, guest)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStateCommitted, got[0].State)
	assert.Equal(t, models.HoldStateCommitted, got[1].State)

	// committing the set again changes nothing
	_, err = f.holds.CommitHolds(ctx, []string{long.ID, other.ID}, guest)
	require.NoError(t, err)
	assert.Equal(t, 1, f.entries(t, models.EntityReservationHold, long.ID, models.AuditUpdate))

	_, err = f.holds.CommitHolds(ctx, []string{long.ID, "missing"}, guest)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestAcquireRejectsLeaseAboveMaximum(t *testing.T) {
	log := store.NewMemoryAuditLog()
	clk := clock.NewManual(epoch)
	holds := NewHoldManager(StaticInventory{"cabin": 1}, log, clk,
		WithDefaultLease(2*time.Hour), WithMaxLease(30*time.Minute))
	ctx := context.Background()

	_, err := holds.AcquireHold(ctx, AcquireHoldInput{
		RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 1, Lease: 2000000000 * time.Second, Actor: guest,
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Zero(t, log.Len())

	h, err := holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 1, Actor: guest})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(30*time.Minute), h.ExpiresAt)
}

func TestAcquireFailsWhenAuditCannotBeWritten(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1})
	ctx := context.Background()

	f.log.FailWith(errors.New("disk full"))
	_, err := f.holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 1, Actor: guest})
	assert.ErrorIs(t, err, ErrAuditWrite)

	f.log.FailWith(nil)
	avail, err := f.holds.Availability(ctx, "cabin", stay(0, 1))
	require.NoError(t, err)
	assert.Equal(t, 1, avail.Available)

	h := f.acquire(t, "cabin", stay(0, 1), 1)

	f.log.FailWith(errors.New("disk full"))
	_, err = f.holds.CommitHold(ctx, h.ID, guest)
	assert.ErrorIs(t, err, ErrAuditWrite)
	f.log.FailWith(nil)

	got, err := f.holds.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, models.HoldStateActive, got.State)
}

func TestAcquireValidation(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 1})
	ctx := context.Background()

	_, err := f.holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "villa", Range: stay(0, 1), Quantity: 1})
	assert.ErrorIs(t, err, ErrRoomTypeNotFound)

	_, err = f.holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 0})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "cabin", Range: stay(0, 0), Quantity: 1})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.holds.AcquireHold(ctx, AcquireHoldInput{RoomTypeID: "cabin", Range: stay(0, 1), Quantity: 2})
	assert.ErrorIs(t, err, ErrInsufficientAvailability)

	_, err = f.holds.CommitHold(ctx, "missing", guest)
	assert.ErrorIs(t, err, ErrHoldNotFound)
}

func TestHoldRestoreFromAuditLog(t *testing.T) {
	f := newFixture(t, StaticInventory{"cabin": 2})
	ctx := context.Background()

	committed := f.acquire(t, "cabin", stay(0, 1), 1)
	_, err := f.holds.CommitHold(ctx, committed.ID, guest)
	require.NoError(t, err)
	released := f.acquire(t, "cabin", stay(0, 1), 1)
	_, err = f.holds.ReleaseHold(ctx, released.ID, "", guest)
	require.NoError(t, err)
	active := f.acquire(t, "cabin", stay(0, 1), 1)

	restored := NewHoldManager(StaticInventory{"cabin": 2}, f.log, f.clock)
	n, err := restored.Restore(ctx, f.log)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for id, want := range map[string]models.HoldState{
		committed.ID: models.HoldStateCommitted,
		released.ID:  models.HoldStateReleased,
		active.ID:    models.HoldStateActive,
	} {
		h, err := restored.GetHold(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, h.State)
	}

	avail, err := restored.Availability(ctx, "cabin", stay(0, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, avail.Available)
}
