package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"unlock-service/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing workflow events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func pairKey(listingID, buyerID string) string {
	return fmt.Sprintf("unlock-%s-%s", listingID, buyerID)
}

// PublishUnlockRecorded publishes UnlockRecorded event
func (ep *EventPublisher) PublishUnlockRecorded(ctx context.Context, event *models.UnlockRecordedEvent) error {
	return ep.producer.PublishEvent(ctx, pairKey(event.ListingID, event.BuyerID), event)
}

// PublishUnlockPaymentFailed publishes UnlockPaymentFailed event
func (ep *EventPublisher) PublishUnlockPaymentFailed(ctx context.Context, event *models.UnlockPaymentFailedEvent) error {
	return ep.producer.PublishEvent(ctx, pairKey(event.ListingID, event.BuyerID), event)
}

// PublishListingStatusChanged publishes ListingStatusChanged event
func (ep *EventPublisher) PublishListingStatusChanged(ctx context.Context, event *models.ListingStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("listing-%s", event.ListingID), event)
}

// EventHandler routes payment events relayed from the provider's webhook
type EventHandler struct {
	onPaymentSucceeded func(context.Context, *models.PaymentSucceededEvent) error
	onPaymentCanceled  func(context.Context, *models.PaymentCanceledEvent) error
	onPaymentFailed    func(context.Context, *models.PaymentFailedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnPaymentSucceeded registers a handler for PaymentSucceeded events
func (eh *EventHandler) OnPaymentSucceeded(handler func(context.Context, *models.PaymentSucceededEvent) error) {
	eh.onPaymentSucceeded = handler
}

// OnPaymentCanceled registers a handler for PaymentCanceled events
func (eh *EventHandler) OnPaymentCanceled(handler func(context.Context, *models.PaymentCanceledEvent) error) {
	eh.onPaymentCanceled = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	switch baseEvent.EventType {
	case models.EventTypePaymentSucceeded:
		if eh.onPaymentSucceeded != nil {
			var event models.PaymentSucceededEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentSucceeded event: %w", err)
			}
			return eh.onPaymentSucceeded(ctx, &event)
		}

	case models.EventTypePaymentCanceled:
		if eh.onPaymentCanceled != nil {
			var event models.PaymentCanceledEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentCanceled event: %w", err)
			}
			return eh.onPaymentCanceled(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
