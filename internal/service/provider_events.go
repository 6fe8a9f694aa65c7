package service

import (
	"context"
	"fmt"
	"time"

	"booking-core/internal/models"
	"booking-core/internal/util"

	"go.uber.org/zap"
)

// DeliveryDeduper remembers provider deliveries that were already applied.
type DeliveryDeduper interface {
	CheckIdempotencyKey(ctx context.Context, key string) (bool, error)
	SetIdempotencyKey(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

// ProviderEventIntake applies provider callbacks exactly once per event id
// when a deduper is configured. Without one, the state machine alone
// absorbs duplicates.
type ProviderEventIntake struct {
	engine *Engine
	dedupe DeliveryDeduper
	ttl    time.Duration
	logger *zap.Logger
}

func NewProviderEventIntake(engine *Engine, dedupe DeliveryDeduper, ttl time.Duration) *ProviderEventIntake {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &ProviderEventIntake{
		engine: engine,
		dedupe: dedupe,
		ttl:    ttl,
		logger: util.ComponentLogger("provider-events"),
	}
}

// Handle applies one provider event. duplicate is true when the event id
// was seen before and nothing was done.
func (i *ProviderEventIntake) Handle(ctx context.Context, ev models.ProviderEvent) (p models.Payment, duplicate bool, err error) {
	ctx, span := util.StartSpan(ctx, "ProviderEventIntake.Handle")
	defer span.End()

	if ev.BookingID == "" {
		return models.Payment{}, false, fmt.Errorf("%w: booking_id is required", ErrInvalidRequest)
	}

	key := "provider-event:" + ev.EventID
	if i.dedupe != nil && ev.EventID != "" {
		seen, err := i.dedupe.CheckIdempotencyKey(ctx, key)
		if err != nil {
			i.logger.Warn("Dedup check failed, applying event", zap.String("event_id", ev.EventID), zap.Error(err))
		} else if seen {
			i.logger.Info("Duplicate provider event skipped", zap.String("event_id", ev.EventID))
			current, err := i.engine.PaymentByBooking(ev.BookingID)
			return current, true, err
		}
	}

	p, _, err = i.engine.ApplyProviderEvent(ctx, ev)
	if err != nil {
		return p, false, err
	}

	if i.dedupe != nil && ev.EventID != "" {
		if err := i.dedupe.SetIdempotencyKey(ctx, key, string(ev.Status), i.ttl); err != nil {
			i.logger.Warn("Failed to record provider event", zap.String("event_id", ev.EventID), zap.Error(err))
		}
	}
	return p, false, nil
}
