package models

import "time"

// Event types
const (
	EventTypeUnlockRecorded       = "UNLOCK_RECORDED"
	EventTypeUnlockPaymentFailed  = "UNLOCK_PAYMENT_FAILED"
	EventTypeListingStatusChanged = "LISTING_STATUS_CHANGED"
	EventTypePaymentSucceeded     = "PAYMENT_SUCCEEDED"
	EventTypePaymentCanceled      = "PAYMENT_CANCELED"
	EventTypePaymentFailed        = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// UnlockRecordedEvent published after a ledger write lands
type UnlockRecordedEvent struct {
	BaseEvent
	ListingID     string `json:"listing_id"`
	BuyerID       string `json:"buyer_id"`
	PaymentRef    string `json:"payment_ref"`
	Amount        int64  `json:"amount"`
	ListingStatus string `json:"listing_status"`
}

// UnlockPaymentFailedEvent published when the provider declines an attempt
type UnlockPaymentFailedEvent struct {
	BaseEvent
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	IntentRef string `json:"intent_ref"`
	Reason    string `json:"reason"`
}

// ListingStatusChangedEvent published when a recompute persists a new status
type ListingStatusChangedEvent struct {
	BaseEvent
	ListingID string `json:"listing_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// PaymentSucceededEvent is relayed from the provider's webhook onto the
// payment topic. Consuming it drives the ledger write server-side even when
// the paying client never comes back.
type PaymentSucceededEvent struct {
	BaseEvent
	IntentRef string `json:"intent_ref"`
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentCanceledEvent relayed when the buyer aborts the confirmation UI
type PaymentCanceledEvent struct {
	BaseEvent
	IntentRef string `json:"intent_ref"`
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
}

// PaymentFailedEvent relayed on a hard provider decline
type PaymentFailedEvent struct {
	BaseEvent
	IntentRef string `json:"intent_ref"`
	ListingID string `json:"listing_id"`
	BuyerID   string `json:"buyer_id"`
	Reason    string `json:"reason"`
}
