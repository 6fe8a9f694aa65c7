package audit

import (
	"sort"

	"booking-core/internal/models"
)

type valueKind int

const (
	kindAuto valueKind = iota
	kindText
	kindDate
	kindTime
	kindMoney
	kindKeyedList
	kindAppendList
	kindHidden
)

// fieldSpec describes how one snapshot field is labelled, normalized and
// compared.
type fieldSpec struct {
	key   string
	label string
	kind  valueKind

	// keyed lists: items are reconciled by itemKey and compared by itemQty
	itemKey  string
	itemQty  string
	itemName string

	// append-only lists: new items are reported as additions
	itemText string
}

type entitySchema struct {
	fields []fieldSpec
	// currency names the field whose value qualifies money fields
	currency string
}

var schemas = map[models.EntityType]entitySchema{
	models.EntityReservationHold: {
		fields: []fieldSpec{
			{key: "room_type_id", label: "Room type", kind: kindText},
			{key: "check_in", label: "Check-in", kind: kindDate},
			{key: "check_out", label: "Check-out", kind: kindDate},
			{key: "quantity", label: "Quantity"},
			{key: "booking_id", label: "Booking", kind: kindText},
			{key: "state", label: "State", kind: kindText},
			{key: "expires_at", label: "Lease expires", kind: kindTime},
			{key: "release_reason", label: "Release reason", kind: kindText},
			{key: "resolved_at", label: "Resolved at", kind: kindTime},
			{key: "created_at", label: "Created", kind: kindTime},
			{key: "id", kind: kindHidden},
		},
	},
	models.EntityBooking: {
		fields: []fieldSpec{
			{key: "guest_id", label: "Guest", kind: kindText},
			{key: "status", label: "Status", kind: kindText},
			{key: "check_in", label: "Check-in", kind: kindDate},
			{key: "check_out", label: "Check-out", kind: kindDate},
			{key: "rooms", label: "Rooms", kind: kindKeyedList, itemKey: "room_type_id", itemQty: "quantity"},
			{key: "created_at", label: "Created", kind: kindTime},
			{key: "id", kind: kindHidden},
			{key: "updated_at", kind: kindHidden},
		},
	},
	models.EntityPayment: {
		currency: "currency",
		fields: []fieldSpec{
			{key: "booking_id", label: "Booking", kind: kindText},
			{key: "amount", label: "Amount", kind: kindMoney},
			{key: "status", label: "Status", kind: kindText},
			{key: "verification_status", label: "Verification", kind: kindText},
			{key: "provider_ref", label: "Provider reference", kind: kindText},
			{key: "verified_by", label: "Verified by", kind: kindText},
			{key: "verified_at", label: "Verified at", kind: kindTime},
			{key: "flag_reason", label: "Flag reason", kind: kindText},
			{key: "failure_reason", label: "Failure reason", kind: kindText},
			{key: "needs_attention", label: "Needs attention"},
			{key: "notes", label: "Notes", kind: kindAppendList, itemName: "author", itemText: "text"},
			{key: "created_at", label: "Created", kind: kindTime},
			{key: "id", kind: kindHidden},
			{key: "currency", kind: kindHidden},
			{key: "updated_at", kind: kindHidden},
		},
	},
}

// fieldsFor returns the schema fields first, then any other key present in
// the snapshots in sorted order.
func fieldsFor(entity models.EntityType, snapshots ...map[string]interface{}) []fieldSpec {
	sch := schemas[entity]
	known := make(map[string]bool, len(sch.fields))
	out := make([]fieldSpec, 0, len(sch.fields))
	for _, f := range sch.fields {
		known[f.key] = true
		if f.label == "" {
			f.label = deriveLabel(f.key)
		}
		out = append(out, f)
	}

	var extra []string
	for _, snap := range snapshots {
		for k := range snap {
			if !known[k] {
				known[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	for _, k := range extra {
		out = append(out, fieldSpec{key: k, label: deriveLabel(k), kind: kindAuto})
	}
	return out
}

func currencyOf(entity models.EntityType, snap map[string]interface{}) string {
	field := schemas[entity].currency
	if field == "" {
		return ""
	}
	s, _ := snap[field].(string)
	return s
}
