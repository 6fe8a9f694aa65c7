package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/store"

	"github.com/stretchr/testify/require"
)

var (
	guest = models.Actor{ID: "guest-1", Name: "Ana Guest", Role: models.RoleGuest}
	admin = models.Actor{ID: "admin-1", Name: "Bo Admin", Role: models.RoleAdmin}

	epoch = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
)

// stay returns a range starting dayOffset days after 2025-06-01.
func stay(dayOffset, nights int) models.DateRange {
	in := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, dayOffset)
	return models.DateRange{CheckIn: in, CheckOut: in.AddDate(0, 0, nights)}
}

type recordingNotifier struct {
	mu  sync.Mutex
	got []models.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n models.Notification) error {
	r.mu.Lock()
	r.got = append(r.got, n)
	r.mu.Unlock()
	return nil
}

func (r *recordingNotifier) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, got := range r.got {
		if got.EventType == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	clock    *clock.Manual
	log      *store.MemoryAuditLog
	holds    *HoldManager
	engine   *Engine
	notifier *recordingNotifier
}

func newFixture(t *testing.T, inv StaticInventory) *fixture {
	t.Helper()
	f := &fixture{
		clock:    clock.NewManual(epoch),
		log:      store.NewMemoryAuditLog(),
		notifier: &recordingNotifier{},
	}
	f.holds = NewHoldManager(inv, f.log, f.clock, WithDefaultLease(10*time.Minute))
	f.engine = NewEngine(f.holds, f.log, f.clock, WithNotifier(f.notifier))
	f.holds.OnExpired(f.engine.HandleHoldExpired)
	return f
}

func (f *fixture) acquire(t *testing.T, roomType string, r models.DateRange, qty int) models.ReservationHold {
	t.Helper()
	h, err := f.holds.AcquireHold(context.Background(), AcquireHoldInput{
		RoomTypeID: roomType,
		Range:      r,
		Quantity:   qty,
		BookingID:  "booking-x",
		Actor:      guest,
	})
	require.NoError(t, err)
	return h
}

func (f *fixture) open(t *testing.T, lease time.Duration, rooms ...models.BookingRoom) OpenBookingResult {
	t.Helper()
	res, err := f.engine.OpenBooking(context.Background(), OpenBookingInput{
		GuestID:  guest.ID,
		Rooms:    rooms,
		Range:    stay(0, 2),
		Amount:   45000,
		Currency: "USD",
		Lease:    lease,
		Actor:    guest,
	})
	require.NoError(t, err)
	return res
}

// entries counts audit entries for one entity, optionally of one action.
func (f *fixture) entries(t *testing.T, entity models.EntityType, id string, action models.AuditAction) int {
	t.Helper()
	all, err := f.log.List(context.Background(), models.AuditFilter{EntityType: entity, EntityID: id})
	require.NoError(t, err)
	n := 0
	for _, e := range all {
		if action == "" || e.Action == action {
			n++
		}
	}
	return n
}
