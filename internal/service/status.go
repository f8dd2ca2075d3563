package service

import (
	"context"
	"fmt"
	"time"

	"unlock-service/internal/models"
	"unlock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StatusController derives a listing's visible status from the unlock ledger
// and the seller's sold flag. The derivation is a pure function of current
// ledger state, so recomputes can run concurrently and repeatedly: they all
// converge on the same answer.
type StatusController struct {
	store  Store
	events EventPublisher
	logger *zap.Logger
}

// NewStatusController creates a new status controller
func NewStatusController(store Store, events EventPublisher) *StatusController {
	return &StatusController{
		store:  store,
		events: events,
		logger: util.GetLogger(),
	}
}

// Recompute re-derives and persists the listing's status. SOLD is terminal;
// otherwise zero ledger rows means AVAILABLE and one or more means PENDING.
// The persist is a conditional write keyed on the status we read, so a
// concurrent SOLD transition always wins.
func (c *StatusController) Recompute(ctx context.Context, listingID string) (string, error) {
	ctx, span := util.StartSpan(ctx, "StatusController.Recompute")
	defer span.End()

	listing, err := c.store.GetListingByID(ctx, listingID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if listing == nil {
		return "", ErrListingNotFound
	}
	if listing.Status == models.ListingStatusSold {
		return models.ListingStatusSold, nil
	}

	count, err := c.store.GetUnlockCount(ctx, listingID)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	newStatus := models.ListingStatusAvailable
	if count > 0 {
		newStatus = models.ListingStatusPending
	}

	if newStatus == listing.Status {
		return newStatus, nil
	}

	ok, err := c.store.SetListingStatus(ctx, listingID, newStatus, listing.Status)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// lost the race to a concurrent transition; re-read and report what
		// actually landed
		current, err := c.store.GetListingByID(ctx, listingID)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if current == nil {
			return "", ErrListingNotFound
		}
		return current.Status, nil
	}

	util.ListingStatusChangesTotal.WithLabelValues(newStatus).Inc()
	c.logger.Info("Listing status changed",
		zap.String("listing_id", listingID),
		zap.String("old_status", listing.Status),
		zap.String("new_status", newStatus))

	event := &models.ListingStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeListingStatusChanged,
			Timestamp: time.Now(),
		},
		ListingID: listingID,
		OldStatus: listing.Status,
		NewStatus: newStatus,
	}
	if err := c.events.PublishListingStatusChanged(ctx, event); err != nil {
		c.logger.Error("Failed to publish ListingStatusChanged event", zap.Error(err))
	}

	return newStatus, nil
}

// MarkSold transitions a listing to SOLD on behalf of its owner. Idempotent:
// marking an already-sold listing succeeds without a write. Only explicit
// re-listing, outside this workflow, can ever reopen a sold listing.
func (c *StatusController) MarkSold(ctx context.Context, listingID, ownerID string) error {
	ctx, span := util.StartSpan(ctx, "StatusController.MarkSold")
	defer span.End()

	if ownerID == "" {
		return ErrUnauthorized
	}

	listing, err := c.store.GetListingByID(ctx, listingID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if listing == nil {
		return ErrListingNotFound
	}
	if listing.OwnerID != ownerID {
		return ErrUnauthorized
	}
	if listing.Status == models.ListingStatusSold {
		return nil
	}

	ok, err := c.store.MarkListingSold(ctx, listingID, ownerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !ok {
		// a concurrent call got there first; sold is sold
		return nil
	}

	util.ListingStatusChangesTotal.WithLabelValues(models.ListingStatusSold).Inc()
	c.logger.Info("Listing marked sold",
		zap.String("listing_id", listingID),
		zap.String("owner_id", ownerID))

	event := &models.ListingStatusChangedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeListingStatusChanged,
			Timestamp: time.Now(),
		},
		ListingID: listingID,
		OldStatus: listing.Status,
		NewStatus: models.ListingStatusSold,
	}
	if err := c.events.PublishListingStatusChanged(ctx, event); err != nil {
		c.logger.Error("Failed to publish ListingStatusChanged event", zap.Error(err))
	}

	return nil
}
