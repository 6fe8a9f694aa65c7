package audit

import (
	"encoding/json"
	"testing"

	"booking-core/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffKeyedRoomsAndDates(t *testing.T) {
	before := json.RawMessage(`{"checkIn":"2025-01-01","rooms":[{"id":1,"qty":2}]}`)
	after := json.RawMessage(`{"checkIn":"2025-01-02","rooms":[{"id":1,"qty":3},{"id":2,"qty":1}]}`)

	changes, err := Diff(before, after, models.EntityType("LegacyBooking"))
	require.NoError(t, err)
	require.Len(t, changes, 3)

	assert.Equal(t, FieldChange{Field: "checkIn", Label: "Check In", Kind: ChangeModified, Before: "2025-01-01", After: "2025-01-02"}, changes[0])
	assert.Equal(t, FieldChange{Field: "rooms", Label: "Rooms", Name: "1", Kind: ChangeModified, Before: "2", After: "3"}, changes[1])
	assert.Equal(t, FieldChange{Field: "rooms", Label: "Rooms", Name: "2", Kind: ChangeAdded, After: "1"}, changes[2])
}

func TestDiffIgnoresFormattingOnlyDifferences(t *testing.T) {
	before := json.RawMessage(`{"check_in":"2025-03-01","amount":1500,"note":" hi "}`)
	after := json.RawMessage(`{"check_in":"2025-03-01T00:00:00Z","amount":1500.0,"note":"hi"}`)

	changes, err := Diff(before, after, models.EntityType("Other"))
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestDiffBookingSchema(t *testing.T) {
	before := json.RawMessage(`{"id":"b-1","status":"DRAFT","check_in":"2025-05-01T00:00:00Z",
		"rooms":[{"room_type_id":"deluxe","quantity":1},{"room_type_id":"suite","quantity":1}],
		"updated_at":"2025-04-01T10:00:00Z"}`)
	after := json.RawMessage(`{"id":"b-1","status":"PENDING_PAYMENT","check_in":"2025-05-01T00:00:00Z",
		"rooms":[{"room_type_id":"deluxe","quantity":1,"hold_id":"h-1"}],
		"updated_at":"2025-04-01T10:05:00Z"}`)

	changes, err := Diff(before, after, models.EntityBooking)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "status", changes[0].Field)
	assert.Equal(t, "DRAFT", changes[0].Before)
	assert.Equal(t, "PENDING_PAYMENT", changes[0].After)

	assert.Equal(t, "rooms", changes[1].Field)
	assert.Equal(t, "suite", changes[1].Name)
	assert.Equal(t, ChangeRemoved, changes[1].Kind)
	assert.Equal(t, "1", changes[1].Before)
}

func TestDiffPaymentMoneyAndNotes(t *testing.T) {
	before := json.RawMessage(`{"amount":123450,"currency":"usd","status":"PAID","notes":[]}`)
	after := json.RawMessage(`{"amount":123500,"currency":"usd","status":"PAID",
		"notes":[{"author":"Ana","text":"called guest"}]}`)

	changes, err := Diff(before, after, models.EntityPayment)
	require.NoError(t, err)
	require.Len(t, changes, 2)

	assert.Equal(t, "USD 1,234.50", changes[0].Before)
	assert.Equal(t, "USD 1,235.00", changes[0].After)

	assert.Equal(t, "notes", changes[1].Field)
	assert.Equal(t, ChangeAdded, changes[1].Kind)
	assert.Equal(t, "Ana", changes[1].Name)
	assert.Equal(t, "called guest", changes[1].After)
}

func TestDiffCreationAgainstEmpty(t *testing.T) {
	changes, err := Diff(nil, json.RawMessage(`{"state":"ACTIVE","quantity":2}`), models.EntityReservationHold)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "Quantity", changes[0].Label)
	assert.Equal(t, "", changes[0].Before)
	assert.Equal(t, "2", changes[0].After)
}

func TestDiffRejectsNonObjectSnapshots(t *testing.T) {
	_, err := Diff(json.RawMessage(`[1,2]`), nil, models.EntityPayment)
	assert.ErrorIs(t, err, ErrUnsupportedSnapshot)
}

func TestHumanize(t *testing.T) {
	snap := json.RawMessage(`{"id":"h-1","room_type_id":"deluxe","check_in":"2025-06-01T00:00:00Z",
		"check_out":"2025-06-03T00:00:00Z","quantity":2,"state":"ACTIVE",
		"expires_at":"2025-05-20T12:15:00Z","release_reason":""}`)

	fields, err := Humanize(snap, models.EntityReservationHold)
	require.NoError(t, err)

	labels := make([]string, len(fields))
	for i, f := range fields {
		labels[i] = f.Label
	}
	assert.Equal(t, []string{"Room type", "Check-in", "Check-out", "Quantity", "State", "Lease expires"}, labels)
	assert.Equal(t, "2025-06-01", fields[1].Value)
	assert.Equal(t, "2025-05-20 12:15 UTC", fields[5].Value)
}

func TestHumanizeRoomsList(t *testing.T) {
	snap := json.RawMessage(`{"rooms":[{"room_type_id":"deluxe","quantity":2},{"room_type_id":"suite","quantity":1}]}`)
	fields, err := Humanize(snap, models.EntityBooking)
	require.NoError(t, err)
	require.Len(t, fields, 1)
	assert.Equal(t, "deluxe x2, suite x1", fields[0].Value)
}

func TestDeriveLabel(t *testing.T) {
	assert.Equal(t, "Check In", deriveLabel("checkIn"))
	assert.Equal(t, "Provider Ref", deriveLabel("provider_ref"))
	assert.Equal(t, "Room2 Count", deriveLabel("room2Count"))
}
