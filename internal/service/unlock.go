package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"unlock-service/config"
	"unlock-service/internal/models"
	"unlock-service/internal/payment"
	"unlock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence surface the unlock workflow needs. Satisfied by
// *store.Store; injected so tests can substitute fakes.
type Store interface {
	GetListingByID(ctx context.Context, id string) (*models.Listing, error)
	GetUnlock(ctx context.Context, listingID, buyerID string) (*models.UnlockRecord, error)
	InsertUnlockIfAbsent(ctx context.Context, rec *models.UnlockRecord) (bool, error)
	InsertUnlockExclusive(ctx context.Context, rec *models.UnlockRecord) (bool, error)
	GetUnlockCount(ctx context.Context, listingID string) (int, error)
	SetListingStatus(ctx context.Context, listingID, status, expectedPrior string) (bool, error)
	MarkListingSold(ctx context.Context, listingID, ownerID string) (bool, error)
	GetSellerContact(ctx context.Context, listingID string) (*models.SellerContact, error)
	ToggleFavorite(ctx context.Context, buyerID, listingID string) (bool, error)
}

// IntentCache is the open-intent fast path, satisfied by *redisclient.Client.
// It is an optimization and a dedupe accelerator; the provider-side
// idempotency token is what actually prevents duplicate charges, so every
// cache failure is survivable.
type IntentCache interface {
	ClaimIntent(ctx context.Context, listingID, buyerID, payload string, ttl time.Duration) (string, bool, error)
	GetIntent(ctx context.Context, listingID, buyerID string) (string, error)
	ClearIntent(ctx context.Context, listingID, buyerID string) (int64, error)
	AttemptGeneration(ctx context.Context, listingID, buyerID string) (int64, error)
}

// EventPublisher publishes workflow events, satisfied by *broker.EventPublisher
type EventPublisher interface {
	PublishUnlockRecorded(ctx context.Context, event *models.UnlockRecordedEvent) error
	PublishUnlockPaymentFailed(ctx context.Context, event *models.UnlockPaymentFailedEvent) error
	PublishListingStatusChanged(ctx context.Context, event *models.ListingStatusChangedEvent) error
}

// Workflow states per (buyer, listing) pair as surfaced to callers
type UnlockState string

const (
	StateAwaitingConfirmation UnlockState = "AWAITING_CONFIRMATION"
	StateRecorded             UnlockState = "RECORDED"
	StateCanceled             UnlockState = "CANCELED"
	StateFailed               UnlockState = "FAILED"
)

// ConfirmationStatus is the outcome the confirmation surface reports back
type ConfirmationStatus string

const (
	ConfirmationSucceeded ConfirmationStatus = "SUCCEEDED"
	ConfirmationCanceled  ConfirmationStatus = "CANCELED"
	ConfirmationFailed    ConfirmationStatus = "FAILED"
)

// ConfirmationResult is delivered by the client (or the webhook worker) after
// the provider's confirmation UI resolves
type ConfirmationResult struct {
	IntentRef string             `json:"intent_ref"`
	Status    ConfirmationStatus `json:"status" binding:"required"`
	Reason    string             `json:"reason,omitempty"`
}

// BeginUnlockResponse is the result of starting (or re-entering) an unlock
// attempt. Contact is set only when State is RECORDED.
type BeginUnlockResponse struct {
	State        UnlockState           `json:"state"`
	IntentRef    string                `json:"intent_ref,omitempty"`
	ClientSecret string                `json:"client_secret,omitempty"`
	Contact      *models.SellerContact `json:"contact,omitempty"`
}

// UnlockOutcome is the result of completing an attempt
type UnlockOutcome struct {
	State         UnlockState           `json:"state"`
	Contact       *models.SellerContact `json:"contact,omitempty"`
	ListingStatus string                `json:"listing_status,omitempty"`
	Reason        string                `json:"reason,omitempty"`
}

// cachedIntent is the payload stored in the intent cache
type cachedIntent struct {
	Ref          string `json:"ref"`
	ClientSecret string `json:"client_secret"`
	Token        string `json:"token"`
}

// UnlockService orchestrates the unlock workflow: intent issuance, client
// confirmation, the idempotent ledger write, and the status recompute. It is
// stateless between calls; any invocation can be retried from scratch and
// converges on the ledger.
type UnlockService struct {
	store    Store
	cache    IntentCache
	provider payment.Provider
	events   EventPublisher
	status   *StatusController
	policy   config.BusinessConfig
	logger   *zap.Logger
}

// NewUnlockService creates a new unlock orchestrator
func NewUnlockService(
	store Store,
	cache IntentCache,
	provider payment.Provider,
	events EventPublisher,
	status *StatusController,
	policy config.BusinessConfig,
) *UnlockService {
	return &UnlockService{
		store:    store,
		cache:    cache,
		provider: provider,
		events:   events,
		status:   status,
		policy:   policy,
		logger:   util.GetLogger(),
	}
}

// Begin starts or re-enters an unlock attempt for (buyer, listing). It short
// circuits on an existing ledger row, reconciles a provider-side success that
// never reached the ledger, reuses an open intent when one exists, and only
// then mints a new one.
func (s *UnlockService) Begin(ctx context.Context, buyerID, emailHint, listingID string) (*BeginUnlockResponse, error) {
	ctx, span := util.StartSpan(ctx, "UnlockService.Begin")
	defer span.End()

	if buyerID == "" {
		return nil, ErrUnauthorized
	}

	util.UnlocksStartedTotal.Inc()

	rec, err := s.store.GetUnlock(ctx, listingID, buyerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if rec != nil {
		util.UnlocksShortCircuitedTotal.Inc()
		s.logger.Info("Unlock already recorded",
			zap.String("listing_id", listingID),
			zap.String("buyer_id", buyerID))
		// repair a status derivation lost to a transient failure after the
		// ledger write; a no-op when the status already matches the ledger
		if _, err := s.status.Recompute(ctx, listingID); err != nil {
			s.logger.Warn("Status recompute failed on recorded unlock",
				zap.String("listing_id", listingID),
				zap.Error(err))
		}
		contact, err := s.store.GetSellerContact(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return &BeginUnlockResponse{State: StateRecorded, Contact: contact}, nil
	}

	listing, err := s.store.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if listing == nil {
		return nil, ErrListingNotFound
	}
	if listing.Status == models.ListingStatusSold {
		return nil, ErrListingSold
	}

	if s.policy.ExclusiveUnlock {
		count, err := s.store.GetUnlockCount(ctx, listingID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if count > 0 {
			return nil, ErrListingUnavailable
		}
	}

	// Fast path: an open intent is cached for this pair. Checking its live
	// status doubles as reconciliation for a payment that succeeded while
	// the ledger write was lost.
	if cached := s.cachedOpenIntent(ctx, listingID, buyerID); cached != nil {
		intent, err := s.provider.GetIntent(ctx, cached.Ref)
		switch {
		case err == nil && intent.Status == models.IntentStatusSucceeded:
			util.UnlocksReconciledTotal.Inc()
			return s.recordAsBegin(ctx, listingID, buyerID, intent)
		case err == nil && openForConfirmation(intent.Status):
			util.IntentsReusedTotal.Inc()
			return &BeginUnlockResponse{
				State:        StateAwaitingConfirmation,
				IntentRef:    intent.Ref,
				ClientSecret: cached.ClientSecret,
			}, nil
		case err != nil && !errors.Is(err, payment.ErrIntentNotFound):
			return nil, err
		}
		// terminal or expired under this intent: reset for a fresh attempt
		s.clearIntent(ctx, listingID, buyerID)
	}

	token := s.idempotencyToken(ctx, listingID, buyerID)

	// The cache may have been lost while an intent for the current token is
	// still live provider-side. Asking by token finds it, succeeded or open,
	// without authorizing a second charge.
	intent, err := s.provider.FindIntentByToken(ctx, token)
	switch {
	case err == nil && intent.Status == models.IntentStatusSucceeded:
		util.UnlocksReconciledTotal.Inc()
		return s.recordAsBegin(ctx, listingID, buyerID, intent)
	case err == nil && openForConfirmation(intent.Status):
		util.IntentsReusedTotal.Inc()
		s.claimIntent(ctx, listingID, buyerID, intent, token)
		return &BeginUnlockResponse{
			State:        StateAwaitingConfirmation,
			IntentRef:    intent.Ref,
			ClientSecret: intent.ClientSecret,
		}, nil
	case err == nil:
		// terminally failed or canceled under the current token; rotate so
		// the fresh attempt gets its own charge authorization
		token = s.rotateToken(ctx, listingID, buyerID)
	case !errors.Is(err, payment.ErrIntentNotFound):
		return nil, err
	}

	return s.issueIntent(ctx, listing, buyerID, emailHint, token)
}

// Complete resolves an attempt after the confirmation surface reports back.
// Cancellation and decline are clean outcomes, not errors; success is
// verified against the provider before anything is written.
func (s *UnlockService) Complete(ctx context.Context, buyerID, listingID string, result *ConfirmationResult) (*UnlockOutcome, error) {
	ctx, span := util.StartSpan(ctx, "UnlockService.Complete")
	defer span.End()

	if buyerID == "" {
		return nil, ErrUnauthorized
	}

	switch result.Status {
	case ConfirmationCanceled:
		// user abort: no ledger write happened before Confirmed, so there is
		// nothing to clean up beyond the cached intent
		s.clearIntent(ctx, listingID, buyerID)
		util.UnlocksCanceledTotal.Inc()
		s.logger.Info("Unlock canceled by buyer",
			zap.String("listing_id", listingID),
			zap.String("buyer_id", buyerID))
		return &UnlockOutcome{State: StateCanceled}, nil

	case ConfirmationFailed:
		s.clearIntent(ctx, listingID, buyerID)
		util.UnlocksFailedTotal.WithLabelValues("provider_declined").Inc()
		s.logger.Warn("Unlock payment declined",
			zap.String("listing_id", listingID),
			zap.String("buyer_id", buyerID),
			zap.String("reason", result.Reason))
		s.publishPaymentFailed(ctx, listingID, buyerID, result.IntentRef, result.Reason)
		return &UnlockOutcome{State: StateFailed, Reason: result.Reason}, nil

	case ConfirmationSucceeded:
		// never trust the client's claim; the provider is the authority
		intent, err := s.provider.GetIntent(ctx, result.IntentRef)
		if err != nil {
			if errors.Is(err, payment.ErrIntentNotFound) {
				return nil, &PaymentNotConfirmedError{IntentRef: result.IntentRef, Detail: "intent not found"}
			}
			return nil, err
		}
		if intent.Status != models.IntentStatusSucceeded {
			return nil, &PaymentNotConfirmedError{IntentRef: result.IntentRef, Detail: fmt.Sprintf("intent status is %s", intent.Status)}
		}
		if intent.Amount != s.policy.UnlockFee || !strings.EqualFold(intent.Currency, s.policy.Currency) {
			return nil, &PaymentNotConfirmedError{IntentRef: result.IntentRef, Detail: "amount or currency mismatch"}
		}
		// every intent is minted for exactly one (listing, buyer) pair; a ref
		// replayed against any other pair buys nothing
		if intent.Metadata["listing_id"] != listingID || intent.Metadata["buyer_id"] != buyerID {
			return nil, &PaymentNotConfirmedError{IntentRef: result.IntentRef, Detail: "intent was issued for a different listing or buyer"}
		}

		contact, status, err := s.record(ctx, listingID, buyerID, intent)
		if err != nil {
			return nil, err
		}
		return &UnlockOutcome{State: StateRecorded, Contact: contact, ListingStatus: status}, nil

	default:
		return nil, fmt.Errorf("unknown confirmation status: %s", result.Status)
	}
}

// record performs the Confirmed → Recorded transition: one idempotent ledger
// write, a status recompute, and the event publish. The unique constraint on
// (listing_id, buyer_id) makes re-runs and races converge to one row.
func (s *UnlockService) record(ctx context.Context, listingID, buyerID string, intent *payment.Intent) (*models.SellerContact, string, error) {
	rec := &models.UnlockRecord{
		ID:         uuid.New().String(),
		ListingID:  listingID,
		BuyerID:    buyerID,
		PaymentRef: intent.Ref,
		Amount:     intent.Amount,
		Currency:   intent.Currency,
	}

	var inserted bool
	var err error
	if s.policy.ExclusiveUnlock {
		inserted, err = s.store.InsertUnlockExclusive(ctx, rec)
	} else {
		inserted, err = s.store.InsertUnlockIfAbsent(ctx, rec)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !inserted && s.policy.ExclusiveUnlock {
		// the write can be withheld for two reasons; only an existing own row
		// counts as success
		existing, gerr := s.store.GetUnlock(ctx, listingID, buyerID)
		if gerr != nil {
			return nil, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, gerr)
		}
		if existing == nil {
			util.UnlocksFailedTotal.WithLabelValues("exclusive_conflict").Inc()
			s.logger.Warn("Unlock lost exclusive race after payment",
				zap.String("listing_id", listingID),
				zap.String("buyer_id", buyerID),
				zap.String("payment_ref", intent.Ref))
			return nil, "", ErrListingUnavailable
		}
	}
	if inserted {
		util.UnlocksRecordedTotal.Inc()
		s.logger.Info("Unlock recorded",
			zap.String("listing_id", listingID),
			zap.String("buyer_id", buyerID),
			zap.String("payment_ref", intent.Ref))
	} else {
		// ledger conflict: the row already exists, which is exactly the
		// outcome a retry wants
		util.LedgerConflictsTotal.Inc()
	}

	s.clearIntent(ctx, listingID, buyerID)

	status, err := s.status.Recompute(ctx, listingID)
	if err != nil {
		// the ledger row stands either way; the recompute is pure and will
		// be re-run by the next invocation or the event worker
		s.logger.Error("Status recompute failed after ledger write",
			zap.String("listing_id", listingID),
			zap.Error(err))
		status = ""
	}

	if inserted {
		event := &models.UnlockRecordedEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeUnlockRecorded,
				Timestamp: time.Now(),
			},
			ListingID:     listingID,
			BuyerID:       buyerID,
			PaymentRef:    intent.Ref,
			Amount:        intent.Amount,
			ListingStatus: status,
		}
		if err := s.events.PublishUnlockRecorded(ctx, event); err != nil {
			s.logger.Error("Failed to publish UnlockRecorded event", zap.Error(err))
		}
	}

	contact, err := s.store.GetSellerContact(ctx, listingID)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return contact, status, nil
}

func (s *UnlockService) recordAsBegin(ctx context.Context, listingID, buyerID string, intent *payment.Intent) (*BeginUnlockResponse, error) {
	contact, _, err := s.record(ctx, listingID, buyerID, intent)
	if err != nil {
		return nil, err
	}
	return &BeginUnlockResponse{State: StateRecorded, Contact: contact}, nil
}

// issueIntent mints a provider intent for the fixed fee and caches it for the
// expiry window
func (s *UnlockService) issueIntent(ctx context.Context, listing *models.Listing, buyerID, emailHint, token string) (*BeginUnlockResponse, error) {
	start := time.Now()
	intent, err := s.provider.CreateIntent(ctx, &payment.CreateIntentRequest{
		Amount:           s.policy.UnlockFee,
		Currency:         s.policy.Currency,
		IdempotencyToken: token,
		Description:      fmt.Sprintf("Unlock seller contact for listing %s", listing.ID),
		CustomerEmail:    emailHint,
		Metadata: map[string]string{
			"listing_id": listing.ID,
			"buyer_id":   buyerID,
		},
	})
	util.IntentCreateLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	util.IntentsCreatedTotal.Inc()
	s.logger.Info("Payment intent created",
		zap.String("listing_id", listing.ID),
		zap.String("buyer_id", buyerID),
		zap.String("intent_ref", intent.Ref))

	s.claimIntent(ctx, listing.ID, buyerID, intent, token)

	return &BeginUnlockResponse{
		State:        StateAwaitingConfirmation,
		IntentRef:    intent.Ref,
		ClientSecret: intent.ClientSecret,
	}, nil
}

// idempotencyToken derives the deterministic dedupe key for the pair's
// current attempt generation. Same pair, same generation, same token: the
// provider sees retries as the same logical operation.
func (s *UnlockService) idempotencyToken(ctx context.Context, listingID, buyerID string) string {
	gen, err := s.cache.AttemptGeneration(ctx, listingID, buyerID)
	if err != nil {
		s.logger.Warn("Attempt generation unavailable, using base token",
			zap.String("listing_id", listingID),
			zap.Error(err))
		gen = 0
	}
	return tokenForAttempt(listingID, buyerID, gen)
}

// rotateToken bumps the attempt generation after a terminal failure so a
// fresh attempt gets a fresh charge authorization
func (s *UnlockService) rotateToken(ctx context.Context, listingID, buyerID string) string {
	gen, err := s.cache.ClearIntent(ctx, listingID, buyerID)
	if err != nil {
		s.logger.Warn("Failed to rotate attempt generation",
			zap.String("listing_id", listingID),
			zap.Error(err))
		// degraded mode: a random token still prevents the terminal intent
		// from being reused
		return uuid.New().String()
	}
	return tokenForAttempt(listingID, buyerID, gen)
}

func tokenForAttempt(listingID, buyerID string, gen int64) string {
	name := fmt.Sprintf("unlock/%s/%s/%d", listingID, buyerID, gen)
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func (s *UnlockService) cachedOpenIntent(ctx context.Context, listingID, buyerID string) *cachedIntent {
	payload, err := s.cache.GetIntent(ctx, listingID, buyerID)
	if err != nil {
		s.logger.Warn("Intent cache read failed", zap.Error(err))
		return nil
	}
	if payload == "" {
		return nil
	}
	var cached cachedIntent
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		s.logger.Warn("Dropping malformed cached intent", zap.Error(err))
		return nil
	}
	return &cached
}

func (s *UnlockService) claimIntent(ctx context.Context, listingID, buyerID string, intent *payment.Intent, token string) {
	payload, err := json.Marshal(&cachedIntent{
		Ref:          intent.Ref,
		ClientSecret: intent.ClientSecret,
		Token:        token,
	})
	if err != nil {
		return
	}
	ttl := time.Duration(s.policy.IntentExpirySeconds) * time.Second
	if _, _, err := s.cache.ClaimIntent(ctx, listingID, buyerID, string(payload), ttl); err != nil {
		s.logger.Warn("Intent cache write failed", zap.Error(err))
	}
}

func (s *UnlockService) clearIntent(ctx context.Context, listingID, buyerID string) {
	if _, err := s.cache.ClearIntent(ctx, listingID, buyerID); err != nil {
		s.logger.Warn("Intent cache clear failed", zap.Error(err))
	}
}

func (s *UnlockService) publishPaymentFailed(ctx context.Context, listingID, buyerID, intentRef, reason string) {
	event := &models.UnlockPaymentFailedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeUnlockPaymentFailed,
			Timestamp: time.Now(),
		},
		ListingID: listingID,
		BuyerID:   buyerID,
		IntentRef: intentRef,
		Reason:    reason,
	}
	if err := s.events.PublishUnlockPaymentFailed(ctx, event); err != nil {
		s.logger.Error("Failed to publish UnlockPaymentFailed event", zap.Error(err))
	}
}

// IsUnlocked reports whether the buyer already holds an unlock for the listing
func (s *UnlockService) IsUnlocked(ctx context.Context, buyerID, listingID string) (bool, error) {
	rec, err := s.store.GetUnlock(ctx, listingID, buyerID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return rec != nil, nil
}

func openForConfirmation(status string) bool {
	return status == models.IntentStatusCreated || status == models.IntentStatusRequiresConfirmation
}
