package payment

import (
	"context"
	"errors"
)

// Intent is the provider-owned payment intent. Only the ref of a succeeded
// intent outlives this struct, inside the unlock ledger. Metadata echoes the
// key/value pairs sent at creation, so callers can verify what an intent was
// minted for.
type Intent struct {
	Ref          string            `json:"ref"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateIntentRequest describes one charge authorization. The idempotency
// token is the dedupe key: the provider must return the existing intent for a
// token it has already seen instead of authorizing a second charge.
type CreateIntentRequest struct {
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	IdempotencyToken string            `json:"idempotency_token"`
	Description      string            `json:"description,omitempty"`
	CustomerEmail    string            `json:"customer_email,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

var (
	// ErrUnavailable means the provider could not be reached; retryable.
	ErrUnavailable = errors.New("payment provider unavailable")
	// ErrIntentNotFound means no intent matches the given ref or token.
	ErrIntentNotFound = errors.New("payment intent not found")
)

// Provider is the payment provider boundary
type Provider interface {
	// CreateIntent authorizes a charge, deduped by idempotency token.
	CreateIntent(ctx context.Context, req *CreateIntentRequest) (*Intent, error)
	// GetIntent fetches an intent by its ref.
	GetIntent(ctx context.Context, ref string) (*Intent, error)
	// FindIntentByToken looks an intent up by idempotency token. Used to
	// reconcile a payment that succeeded provider-side but never reached
	// the ledger.
	FindIntentByToken(ctx context.Context, token string) (*Intent, error)
}
