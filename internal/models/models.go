package models

import "time"

// Listing represents a classified listing
type Listing struct {
	ID           string    `db:"id" json:"id"`
	OwnerID      string    `db:"owner_id" json:"owner_id"`
	Title        string    `db:"title" json:"title"`
	Description  string    `db:"description" json:"description"`
	Price        int64     `db:"price" json:"price"`
	Currency     string    `db:"currency" json:"currency"`
	ContactEmail string    `db:"contact_email" json:"-"`
	ContactPhone string    `db:"contact_phone" json:"-"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// UnlockRecord is one row of the unlock ledger. Append-only: at most one
// row per (listing_id, buyer_id), never mutated after insert.
type UnlockRecord struct {
	ID         string    `db:"id" json:"id"`
	ListingID  string    `db:"listing_id" json:"listing_id"`
	BuyerID    string    `db:"buyer_id" json:"buyer_id"`
	PaymentRef string    `db:"payment_ref" json:"payment_ref"`
	Amount     int64     `db:"amount" json:"amount"`
	Currency   string    `db:"currency" json:"currency"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// FavoriteRecord is a buyer/listing membership pair
type FavoriteRecord struct {
	BuyerID   string    `db:"buyer_id" json:"buyer_id"`
	ListingID string    `db:"listing_id" json:"listing_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// SellerContact is the payload gated behind a recorded unlock
type SellerContact struct {
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Listing statuses. Sold is terminal: nothing in the unlock workflow
// transitions a listing out of it.
const (
	ListingStatusAvailable = "AVAILABLE"
	ListingStatusPending   = "PENDING"
	ListingStatusSold      = "SOLD"
)

// Payment intent statuses as reported by the provider
const (
	IntentStatusCreated              = "CREATED"
	IntentStatusRequiresConfirmation = "REQUIRES_CONFIRMATION"
	IntentStatusSucceeded            = "SUCCEEDED"
	IntentStatusCanceled             = "CANCELED"
	IntentStatusFailed               = "FAILED"
)
