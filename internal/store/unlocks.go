package store

import (
	"context"
	"database/sql"
	"fmt"

	"unlock-service/internal/models"
)

// InsertUnlockIfAbsent writes one ledger row for (listing, buyer). The
// unique constraint on (listing_id, buyer_id) serializes concurrent attempts;
// a conflict means the row already exists and is reported as inserted=false,
// not as an error.
func (s *Store) InsertUnlockIfAbsent(ctx context.Context, rec *models.UnlockRecord) (bool, error) {
	query := `
		INSERT INTO unlocks (id, listing_id, buyer_id, payment_ref, amount, currency)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (listing_id, buyer_id) DO NOTHING`

	res, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ListingID, rec.BuyerID, rec.PaymentRef, rec.Amount, rec.Currency)
	if err != nil {
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// InsertUnlockExclusive writes the ledger row only while no other buyer holds
// a row for the listing. The listing row is locked for the duration, so two
// buyers racing to record serialize and exactly one lands. inserted=false
// covers both an existing own row and a lost exclusivity check; callers
// disambiguate with GetUnlock.
func (s *Store) InsertUnlockExclusive(ctx context.Context, rec *models.UnlockRecord) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var listingID string
	if err := tx.GetContext(ctx, &listingID,
		"SELECT id FROM listings WHERE id = $1 FOR UPDATE", rec.ListingID); err != nil {
		return false, fmt.Errorf("failed to lock listing: %w", err)
	}

	query := `
		INSERT INTO unlocks (id, listing_id, buyer_id, payment_ref, amount, currency)
		SELECT $1, $2, $3, $4, $5, $6
		WHERE NOT EXISTS (
			SELECT 1 FROM unlocks WHERE listing_id = $2 AND buyer_id <> $3
		)
		ON CONFLICT (listing_id, buyer_id) DO NOTHING`

	res, err := tx.ExecContext(ctx, query,
		rec.ID, rec.ListingID, rec.BuyerID, rec.PaymentRef, rec.Amount, rec.Currency)
	if err != nil {
		return false, fmt.Errorf("failed to insert unlock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetUnlock retrieves the ledger row for a (listing, buyer) pair, nil when
// the buyer has not unlocked the listing
func (s *Store) GetUnlock(ctx context.Context, listingID, buyerID string) (*models.UnlockRecord, error) {
	var rec models.UnlockRecord
	err := s.db.GetContext(ctx, &rec,
		"SELECT * FROM unlocks WHERE listing_id = $1 AND buyer_id = $2", listingID, buyerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetUnlockCount returns the number of distinct buyers that unlocked a listing
func (s *Store) GetUnlockCount(ctx context.Context, listingID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM unlocks WHERE listing_id = $1", listingID)
	return count, err
}

// GetUnlocksByBuyerID retrieves all unlocks made by a buyer
func (s *Store) GetUnlocksByBuyerID(ctx context.Context, buyerID string) ([]models.UnlockRecord, error) {
	var recs []models.UnlockRecord
	err := s.db.SelectContext(ctx, &recs,
		"SELECT * FROM unlocks WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	return recs, err
}

// DeleteUnlock removes a ledger row. Administrative compensation only, never
// part of the unlock workflow.
func (s *Store) DeleteUnlock(ctx context.Context, listingID, buyerID string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM unlocks WHERE listing_id = $1 AND buyer_id = $2", listingID, buyerID)
	return err
}

// ToggleFavorite flips the favorite membership for (buyer, listing) inside a
// single transaction and returns the resulting state. The primary key on the
// pair makes racing toggles serialize instead of double-inserting.
func (s *Store) ToggleFavorite(ctx context.Context, buyerID, listingID string) (bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO favorites (buyer_id, listing_id) VALUES ($1, $2) ON CONFLICT (buyer_id, listing_id) DO NOTHING",
		buyerID, listingID)
	if err != nil {
		return false, fmt.Errorf("failed to insert favorite: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	favorited := n > 0
	if !favorited {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM favorites WHERE buyer_id = $1 AND listing_id = $2",
			buyerID, listingID); err != nil {
			return false, fmt.Errorf("failed to delete favorite: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return favorited, nil
}

// IsFavorited reports whether the buyer has favorited the listing
func (s *Store) IsFavorited(ctx context.Context, buyerID, listingID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM favorites WHERE buyer_id = $1 AND listing_id = $2)",
		buyerID, listingID)
	return exists, err
}

// GetFavoritesByBuyerID retrieves a buyer's favorited listings
func (s *Store) GetFavoritesByBuyerID(ctx context.Context, buyerID string) ([]models.FavoriteRecord, error) {
	var favs []models.FavoriteRecord
	err := s.db.SelectContext(ctx, &favs,
		"SELECT * FROM favorites WHERE buyer_id = $1 ORDER BY created_at DESC", buyerID)
	return favs, err
}
