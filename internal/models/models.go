package models

import (
	"encoding/json"
	"time"
)

// RoomInventory is the physical quantity of a room type
type RoomInventory struct {
	RoomTypeID string    `db:"room_type_id" json:"room_type_id"`
	Name       string    `db:"name" json:"name"`
	Quantity   int       `db:"quantity" json:"quantity"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// DateRange is the half-open stay interval [CheckIn, CheckOut)
type DateRange struct {
	CheckIn  time.Time `json:"check_in"`
	CheckOut time.Time `json:"check_out"`
}

// Valid reports whether the range is non-empty.
func (r DateRange) Valid() bool {
	return !r.CheckIn.IsZero() && r.CheckOut.After(r.CheckIn)
}

// Overlaps reports whether two half-open ranges share at least one instant.
func (r DateRange) Overlaps(o DateRange) bool {
	return r.CheckIn.Before(o.CheckOut) && o.CheckIn.Before(r.CheckOut)
}

// Nights returns the number of whole days covered by the range.
func (r DateRange) Nights() int {
	return int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
}

// Hold states
type HoldState string

const (
	HoldStateActive    HoldState = "ACTIVE"
	HoldStateCommitted HoldState = "COMMITTED"
	HoldStateReleased  HoldState = "RELEASED"
	HoldStateExpired   HoldState = "EXPIRED"
)

// Terminal reports whether no further transition is possible.
func (s HoldState) Terminal() bool {
	return s != HoldStateActive
}

// Occupies reports whether a hold in this state counts against inventory.
func (s HoldState) Occupies() bool {
	return s == HoldStateActive || s == HoldStateCommitted
}

// ReservationHold is a leased reservation of room inventory
type ReservationHold struct {
	ID            string     `json:"id"`
	RoomTypeID    string     `json:"room_type_id"`
	CheckIn       time.Time  `json:"check_in"`
	CheckOut      time.Time  `json:"check_out"`
	Quantity      int        `json:"quantity"`
	BookingID     string     `json:"booking_id"`
	State         HoldState  `json:"state"`
	ExpiresAt     time.Time  `json:"expires_at"`
	ReleaseReason string     `json:"release_reason,omitempty"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Range returns the stay interval covered by the hold.
func (h ReservationHold) Range() DateRange {
	return DateRange{CheckIn: h.CheckIn, CheckOut: h.CheckOut}
}

// Booking statuses
type BookingStatus string

const (
	BookingStatusDraft          BookingStatus = "DRAFT"
	BookingStatusPendingPayment BookingStatus = "PENDING_PAYMENT"
	BookingStatusConfirmed      BookingStatus = "CONFIRMED"
	BookingStatusCancelled      BookingStatus = "CANCELLED"
)

// BookingRoom is one room line of a booking
type BookingRoom struct {
	RoomTypeID string `json:"room_type_id"`
	Quantity   int    `json:"quantity"`
	HoldID     string `json:"hold_id,omitempty"`
}

// Booking represents a guest's reservation request
type Booking struct {
	ID        string        `json:"id"`
	GuestID   string        `json:"guest_id"`
	Rooms     []BookingRoom `json:"rooms"`
	CheckIn   time.Time     `json:"check_in"`
	CheckOut  time.Time     `json:"check_out"`
	Status    BookingStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Range returns the stay interval of the booking.
func (b Booking) Range() DateRange {
	return DateRange{CheckIn: b.CheckIn, CheckOut: b.CheckOut}
}

// HoldIDs returns the holds backing the booking's room lines.
func (b Booking) HoldIDs() []string {
	ids := make([]string, 0, len(b.Rooms))
	for _, r := range b.Rooms {
		if r.HoldID != "" {
			ids = append(ids, r.HoldID)
		}
	}
	return ids
}

// OwnsHold reports whether holdID backs one of the booking's room lines.
func (b Booking) OwnsHold(holdID string) bool {
	for _, r := range b.Rooms {
		if r.HoldID != "" && r.HoldID == holdID {
			return true
		}
	}
	return false
}

// Payment statuses
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

// Verification statuses
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "UNVERIFIED"
	VerificationVerified   VerificationStatus = "VERIFIED"
	VerificationFlagged    VerificationStatus = "FLAGGED"
)

// PaymentNote is an append-only annotation on a payment
type PaymentNote struct {
	AuthorID  string    `json:"author_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Payment tracks a booking's payment through the external provider
type Payment struct {
	ID                 string             `json:"id"`
	BookingID          string             `json:"booking_id"`
	Amount             int64              `json:"amount"`
	Currency           string             `json:"currency"`
	Status             PaymentStatus      `json:"status"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	ProviderRef        string             `json:"provider_ref,omitempty"`
	VerifiedBy         *string            `json:"verified_by"`
	VerifiedAt         *time.Time         `json:"verified_at"`
	FlagReason         string             `json:"flag_reason,omitempty"`
	FailureReason      string             `json:"failure_reason,omitempty"`
	Notes              []PaymentNote      `json:"notes"`
	NeedsAttention     bool               `json:"needs_attention"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
}

// Terminal reports whether the payment reached one of its final combinations.
func (p Payment) Terminal() bool {
	switch p.Status {
	case PaymentStatusFailed, PaymentStatusRefunded:
		return true
	case PaymentStatusPaid:
		return p.VerificationStatus == VerificationVerified
	}
	return false
}

// Clone returns a deep copy so snapshots never alias live state.
func (p Payment) Clone() Payment {
	out := p
	if p.Notes != nil {
		out.Notes = append(make([]PaymentNote, 0, len(p.Notes)), p.Notes...)
	}
	if p.VerifiedBy != nil {
		v := *p.VerifiedBy
		out.VerifiedBy = &v
	}
	if p.VerifiedAt != nil {
		v := *p.VerifiedAt
		out.VerifiedAt = &v
	}
	return out
}

// Clone returns a deep copy of the booking.
func (b Booking) Clone() Booking {
	out := b
	out.Rooms = append([]BookingRoom(nil), b.Rooms...)
	return out
}

// Actor identifies who caused a state transition
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Actor roles
const (
	RoleGuest    = "guest"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
	RoleProvider = "provider"
)

// Well-known system actors
var (
	ActorLeaseSweeper = Actor{ID: "system:lease-sweeper", Name: "Lease sweeper", Role: RoleSystem}
	ActorReconciler   = Actor{ID: "system:reconciler", Name: "Payment reconciler", Role: RoleSystem}
	ActorProvider     = Actor{ID: "provider:webhook", Name: "Payment provider", Role: RoleProvider}
)

// Audit actions
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
	AuditCancel AuditAction = "CANCEL"
	AuditVerify AuditAction = "VERIFY"
	AuditFlag   AuditAction = "FLAG"
	AuditNote   AuditAction = "NOTE"
)

// Audited entity types
type EntityType string

const (
	EntityReservationHold EntityType = "ReservationHold"
	EntityPayment         EntityType = "Payment"
	EntityBooking         EntityType = "Booking"
)

// AuditEntry is an immutable record of one state transition. Before and
// After are opaque snapshots tagged by EntityType.
type AuditEntry struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Actor      Actor           `json:"actor"`
	Action     AuditAction     `json:"action"`
	EntityType EntityType      `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	Summary    string          `json:"summary,omitempty"`
}

// AuditFilter narrows audit queries; zero fields match everything.
type AuditFilter struct {
	EntityType EntityType
	EntityID   string
	ActorID    string
	Limit      int
}
