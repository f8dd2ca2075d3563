package service

import (
	"context"
	"fmt"

	"unlock-service/internal/util"

	"go.uber.org/zap"
)

// FavoriteService flips buyer/listing favorite membership. Idempotent by
// construction: the store toggle runs as one atomic insert-or-delete keyed on
// the unique pair, so racing toggles from the same buyer serialize instead of
// corrupting the relation.
type FavoriteService struct {
	store  Store
	logger *zap.Logger
}

// NewFavoriteService creates a new favorites service
func NewFavoriteService(store Store) *FavoriteService {
	return &FavoriteService{
		store:  store,
		logger: util.GetLogger(),
	}
}

// Toggle flips the favorite state and returns whether the listing is
// favorited after the call
func (f *FavoriteService) Toggle(ctx context.Context, buyerID, listingID string) (bool, error) {
	ctx, span := util.StartSpan(ctx, "FavoriteService.Toggle")
	defer span.End()

	if buyerID == "" {
		return false, ErrUnauthorized
	}

	listing, err := f.store.GetListingByID(ctx, listingID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if listing == nil {
		return false, ErrListingNotFound
	}

	favorited, err := f.store.ToggleFavorite(ctx, buyerID, listingID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	state := "off"
	if favorited {
		state = "on"
	}
	util.FavoritesToggledTotal.WithLabelValues(state).Inc()

	f.logger.Debug("Favorite toggled",
		zap.String("buyer_id", buyerID),
		zap.String("listing_id", listingID),
		zap.Bool("favorited", favorited))

	return favorited, nil
}
