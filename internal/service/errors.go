package service

import (
	"errors"
	"fmt"

	"unlock-service/internal/payment"
)

// Workflow error taxonomy. Transient errors are retried by the caller, never
// looped internally; everything else surfaces verbatim to the adapter layer.
var (
	// ErrUnauthorized means the caller presented no verified identity. Fatal.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrListingNotFound means the listing does not exist or was removed.
	ErrListingNotFound = errors.New("listing not found")

	// ErrListingSold means the listing is terminally sold and cannot accept
	// new unlock attempts.
	ErrListingSold = errors.New("listing is sold")

	// ErrListingUnavailable means the exclusive-unlock policy is on and
	// another buyer already holds the unlock.
	ErrListingUnavailable = errors.New("listing already unlocked by another buyer")

	// ErrProviderUnavailable is retryable: the payment provider could not be
	// reached and no state changed.
	ErrProviderUnavailable = payment.ErrUnavailable

	// ErrStoreUnavailable is retryable: the store write failed after a
	// provider-side success. Re-entry reconciles without a second charge.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// PaymentNotConfirmedError rejects a completion claim the provider does not
// back: the referenced intent is missing, not succeeded, or carries the
// wrong amount.
type PaymentNotConfirmedError struct {
	IntentRef string
	Detail    string
}

func (e *PaymentNotConfirmedError) Error() string {
	return fmt.Sprintf("payment not confirmed for intent %s: %s", e.IntentRef, e.Detail)
}
