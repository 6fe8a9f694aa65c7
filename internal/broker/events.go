package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"booking-core/internal/models"
	"booking-core/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the producer side EventPublisher needs.
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher publishes payment notifications
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// Notify publishes a notification keyed by booking, so one booking's
// notifications stay ordered.
func (ep *EventPublisher) Notify(ctx context.Context, n models.Notification) error {
	ctx, span := util.StartSpan(ctx, "EventPublisher.Notify")
	defer span.End()

	key := fmt.Sprintf("booking-%s", n.BookingID)
	return ep.producer.PublishEvent(ctx, key, n)
}

// EventHandler decodes provider events and routes them
type EventHandler struct {
	onProviderEvent func(context.Context, models.ProviderEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.ComponentLogger("kafka-handler")}
}

// OnProviderEvent registers the handler for provider payment events
func (eh *EventHandler) OnProviderEvent(handler func(context.Context, models.ProviderEvent) error) {
	eh.onProviderEvent = handler
}

// HandleMessage decodes one message. Undecodable messages are dropped so
// they cannot block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var event models.ProviderEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		eh.logger.Error("Dropping undecodable provider event",
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return nil
	}
	if event.BookingID == "" {
		eh.logger.Warn("Dropping provider event without booking id", zap.String("event_id", event.EventID))
		return nil
	}

	eh.logger.Debug("Handling provider event",
		zap.String("event_id", event.EventID),
		zap.String("booking_id", event.BookingID),
		zap.String("status", string(event.Status)))

	if eh.onProviderEvent == nil {
		return nil
	}
	return eh.onProviderEvent(ctx, event)
}
