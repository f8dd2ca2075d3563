package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"unlock-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetListingByID retrieves a listing by ID, nil when it does not exist
func (s *Store) GetListingByID(ctx context.Context, id string) (*models.Listing, error) {
	var listing models.Listing
	err := s.db.GetContext(ctx, &listing, "SELECT * FROM listings WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// GetListingsByOwnerID retrieves listings for a seller
func (s *Store) GetListingsByOwnerID(ctx context.Context, ownerID string) ([]models.Listing, error) {
	var listings []models.Listing
	err := s.db.SelectContext(ctx, &listings,
		"SELECT * FROM listings WHERE owner_id = $1 ORDER BY created_at DESC", ownerID)
	return listings, err
}

// CreateListing creates a new listing
func (s *Store) CreateListing(ctx context.Context, listing *models.Listing) error {
	query := `
		INSERT INTO listings (id, owner_id, title, description, price, currency, contact_email, contact_phone, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at`

	return s.db.GetContext(ctx, listing, query,
		listing.ID, listing.OwnerID, listing.Title, listing.Description,
		listing.Price, listing.Currency, listing.ContactEmail, listing.ContactPhone,
		listing.Status)
}

// SetListingStatus performs a conditional status transition. Returns false
// when the listing was no longer in expectedPrior, so a concurrent SOLD
// transition is never clobbered.
func (s *Store) SetListingStatus(ctx context.Context, listingID, status, expectedPrior string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE listings SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3",
		status, listingID, expectedPrior)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkListingSold marks a listing sold on behalf of its owner. SOLD is
// terminal, so an already-sold listing is left untouched.
func (s *Store) MarkListingSold(ctx context.Context, listingID, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE listings SET status = $1, updated_at = NOW() WHERE id = $2 AND owner_id = $3 AND status <> $1",
		models.ListingStatusSold, listingID, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSellerContact retrieves the contact payload for a listing. Callers must
// gate this behind a recorded unlock.
func (s *Store) GetSellerContact(ctx context.Context, listingID string) (*models.SellerContact, error) {
	var contact models.SellerContact
	err := s.db.GetContext(ctx, &contact,
		"SELECT contact_email AS email, contact_phone AS phone FROM listings WHERE id = $1", listingID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("listing not found: %s", listingID)
	}
	if err != nil {
		return nil, err
	}
	return &contact, nil
}
