package worker

import (
	"context"
	"log"

	"unlock-service/internal/broker"
	"unlock-service/internal/models"
	"unlock-service/internal/service"
)

// PaymentWorker consumes payment events relayed from the provider's webhook
// and drives unlock completion server-side. A buyer whose client dies right
// after paying still gets their ledger row; the ledger's unique constraint
// makes redelivered events harmless.
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	unlocks      *service.UnlockService
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, unlocks *service.UnlockService) *PaymentWorker {
	eventHandler := broker.NewEventHandler()

	eventHandler.OnPaymentSucceeded(func(ctx context.Context, event *models.PaymentSucceededEvent) error {
		_, err := unlocks.Complete(ctx, event.BuyerID, event.ListingID, &service.ConfirmationResult{
			IntentRef: event.IntentRef,
			Status:    service.ConfirmationSucceeded,
		})
		return err
	})

	eventHandler.OnPaymentCanceled(func(ctx context.Context, event *models.PaymentCanceledEvent) error {
		_, err := unlocks.Complete(ctx, event.BuyerID, event.ListingID, &service.ConfirmationResult{
			IntentRef: event.IntentRef,
			Status:    service.ConfirmationCanceled,
		})
		return err
	})

	eventHandler.OnPaymentFailed(func(ctx context.Context, event *models.PaymentFailedEvent) error {
		_, err := unlocks.Complete(ctx, event.BuyerID, event.ListingID, &service.ConfirmationResult{
			IntentRef: event.IntentRef,
			Status:    service.ConfirmationFailed,
			Reason:    event.Reason,
		})
		return err
	})

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		unlocks:      unlocks,
	}
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	log.Println("Starting payment worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	log.Println("Stopping payment worker...")
	return w.consumer.Close()
}
