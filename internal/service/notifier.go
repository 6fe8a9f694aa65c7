package service

import (
	"context"

	"booking-core/internal/models"

	"go.uber.org/zap"
)

// Notifier publishes "please notify" events. Delivery is someone else's job.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the log instead of a broker.
type LogNotifier struct {
	Logger *zap.Logger
}

func (l LogNotifier) Notify(_ context.Context, n models.Notification) error {
	l.Logger.Info("Notification",
		zap.String("event_type", n.EventType),
		zap.String("booking_id", n.BookingID),
		zap.String("payment_id", n.PaymentID),
		zap.String("status", string(n.Status)))
	return nil
}
