package main

import (
	"bytes"
	"context"
	"testing"
	"time"

	"booking-core/internal/audit"
	"booking-core/internal/clock"
	"booking-core/internal/models"
	"booking-core/internal/service"
	"booking-core/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAuditText(t *testing.T) {
	var buf bytes.Buffer
	writeAuditText(&buf, audit.Page{
		Page:        1,
		TotalGroups: 1,
		Groups: []audit.DisplayGroup{{
			Actor: models.Actor{ID: "admin-1", Name: "Bo Admin", Role: models.RoleAdmin},
			Entries: []audit.Entry{{
				Timestamp:  time.Date(2025, 5, 1, 9, 30, 0, 0, time.UTC),
				Action:     models.AuditUpdate,
				EntityType: models.EntityBooking,
				EntityID:   "b-1",
				Summary:    "Updated Booking: rooms",
				Changes:    []audit.FieldChange{{Field: "rooms", Label: "Rooms", Name: "suite", Before: "1"}},
			}},
		}},
	})

	out := buf.String()
	assert.Contains(t, out, "Bo Admin (admin-1, admin)")
	assert.Contains(t, out, "2025-05-01 09:30:00  UPDATE Booking b-1")
	assert.Contains(t, out, "Rooms [suite]")
	assert.Contains(t, out, "1 -> -")
	assert.Contains(t, out, "page 1, 1 groups total")

	buf.Reset()
	writeAuditText(&buf, audit.Page{Page: 1})
	assert.Equal(t, "No audit entries.\n", buf.String())
}

func TestReplay(t *testing.T) {
	ctx := context.Background()
	log := store.NewMemoryAuditLog()
	inv := service.StaticInventory{"cabin": 2}
	clk := clock.NewManual(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC))

	holds := service.NewHoldManager(inv, log, clk, service.WithDefaultLease(24*time.Hour))
	engine := service.NewEngine(holds, log, clk)
	guest := models.Actor{ID: "g-1", Role: models.RoleGuest}
	in := models.DateRange{
		CheckIn:  time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		CheckOut: time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
	}
	res, err := engine.OpenBooking(ctx, service.OpenBookingInput{
		GuestID: guest.ID, Rooms: []models.BookingRoom{{RoomTypeID: "cabin", Quantity: 1}}, Range: in, Actor: guest,
	})
	require.NoError(t, err)
	_, err = engine.MarkAttention(ctx, res.Payment.ID, "provider unreachable", models.ActorReconciler)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, replay(ctx, &buf, log, inv))

	out := buf.String()
	assert.Contains(t, out, "restored 1 holds, 2 bookings and payments")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "provider unreachable")
}
