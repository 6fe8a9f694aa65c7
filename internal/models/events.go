package models

import "time"

// Notification types
const (
	NotificationPaymentConfirmed = "payment.confirmed"
	NotificationPaymentFailed    = "payment.failed"
	NotificationPaymentRefunded  = "payment.refunded"
	NotificationPaymentAttention = "payment.attention"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// Notification asks the delivery layer to tell someone about a payment.
// The core only emits these; delivery is handled elsewhere.
type Notification struct {
	BaseEvent
	BookingID string        `json:"booking_id"`
	PaymentID string        `json:"payment_id"`
	GuestID   string        `json:"guest_id"`
	Status    PaymentStatus `json:"status"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Reason    string        `json:"reason,omitempty"`
}

// Provider-reported payment statuses
type ProviderStatus string

const (
	ProviderStatusPending   ProviderStatus = "pending"
	ProviderStatusSucceeded ProviderStatus = "succeeded"
	ProviderStatusFailed    ProviderStatus = "failed"
)

// ProviderEvent is a provider callback, delivered by webhook or topic.
// Delivery is at least once, possibly duplicated and out of order.
type ProviderEvent struct {
	EventID     string         `json:"event_id"`
	BookingID   string         `json:"booking_id"`
	ProviderRef string         `json:"provider_ref"`
	Status      ProviderStatus `json:"status"`
	Reason      string         `json:"reason,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
