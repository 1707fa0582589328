package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"storefront-agent/internal/models"
	"storefront-agent/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the write side used by the storefront services
type Publisher interface {
	PublishCartUpdated(ctx context.Context, event *models.CartUpdatedEvent) error
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error
}

// EventPublisher handles publishing storefront events, keyed by session
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("session-%s", sessionID)
}

func (ep *EventPublisher) PublishCartUpdated(ctx context.Context, event *models.CartUpdatedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

func (ep *EventPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

func (ep *EventPublisher) PublishCheckoutFailed(ctx context.Context, event *models.CheckoutFailedEvent) error {
	return ep.producer.PublishEvent(ctx, sessionKey(event.SessionID), event)
}

// NopPublisher drops events
type NopPublisher struct{}

func (NopPublisher) PublishCartUpdated(context.Context, *models.CartUpdatedEvent) error     { return nil }
func (NopPublisher) PublishOrderPlaced(context.Context, *models.OrderPlacedEvent) error     { return nil }
func (NopPublisher) PublishCheckoutFailed(context.Context, *models.CheckoutFailedEvent) error { return nil }

// EventHandler routes incoming events by type
type EventHandler struct {
	onOrderPlaced func(context.Context, *models.OrderPlacedEvent) error
	logger        *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnOrderPlaced registers a handler for ORDER_PLACED events
func (eh *EventHandler) OnOrderPlaced(handler func(context.Context, *models.OrderPlacedEvent) error) {
	eh.onOrderPlaced = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	return eh.Route(ctx, msg.Value)
}

// Route decodes payload and dispatches it; unknown types are ignored
func (eh *EventHandler) Route(ctx context.Context, payload []byte) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(payload, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypeOrderPlaced:
		if eh.onOrderPlaced == nil {
			return nil
		}
		var event models.OrderPlacedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("failed to unmarshal OrderPlaced event: %w", err)
		}
		return eh.onOrderPlaced(ctx, &event)

	default:
		eh.logger.Debug("Ignoring event", zap.String("type", baseEvent.EventType), zap.String("id", baseEvent.EventID))
	}

	return nil
}
