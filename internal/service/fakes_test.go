package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"unlock-service/config"
	"unlock-service/internal/models"
	"unlock-service/internal/payment"
)

type fakeStore struct {
	mu          sync.Mutex
	listings    map[string]*models.Listing
	unlocks     map[string]*models.UnlockRecord
	favorites   map[string]bool
	transitions []string
	failInsert  bool

	// invoked before the status compare-and-set, outside the lock, to let
	// tests interleave a competing transition
	beforeSetStatus func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		listings:  make(map[string]*models.Listing),
		unlocks:   make(map[string]*models.UnlockRecord),
		favorites: make(map[string]bool),
	}
}

func pairID(listingID, buyerID string) string {
	return listingID + "|" + buyerID
}

func (f *fakeStore) addListing(l *models.Listing) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l.Status == "" {
		l.Status = models.ListingStatusAvailable
	}
	f.listings[l.ID] = l
}

func (f *fakeStore) GetListingByID(_ context.Context, id string) (*models.Listing, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[id]
	if !ok {
		return nil, nil
	}
	cp := *l
	return &cp, nil
}

func (f *fakeStore) GetUnlock(_ context.Context, listingID, buyerID string) (*models.UnlockRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.unlocks[pairID(listingID, buyerID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeStore) InsertUnlockIfAbsent(_ context.Context, rec *models.UnlockRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return false, errors.New("connection refused")
	}
	key := pairID(rec.ListingID, rec.BuyerID)
	if _, exists := f.unlocks[key]; exists {
		return false, nil
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	f.unlocks[key] = &cp
	return true, nil
}

func (f *fakeStore) InsertUnlockExclusive(_ context.Context, rec *models.UnlockRecord) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInsert {
		return false, errors.New("connection refused")
	}
	key := pairID(rec.ListingID, rec.BuyerID)
	if _, exists := f.unlocks[key]; exists {
		return false, nil
	}
	for _, r := range f.unlocks {
		if r.ListingID == rec.ListingID && r.BuyerID != rec.BuyerID {
			return false, nil
		}
	}
	cp := *rec
	cp.CreatedAt = time.Now()
	f.unlocks[key] = &cp
	return true, nil
}

func (f *fakeStore) GetUnlockCount(_ context.Context, listingID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, rec := range f.unlocks {
		if rec.ListingID == listingID {
			count++
		}
	}
	return count, nil
}

func (f *fakeStore) SetListingStatus(_ context.Context, listingID, status, expectedPrior string) (bool, error) {
	if f.beforeSetStatus != nil {
		f.beforeSetStatus()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[listingID]
	if !ok || l.Status != expectedPrior {
		return false, nil
	}
	l.Status = status
	f.transitions = append(f.transitions, status)
	return true, nil
}

func (f *fakeStore) MarkListingSold(_ context.Context, listingID, ownerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[listingID]
	if !ok || l.OwnerID != ownerID || l.Status == models.ListingStatusSold {
		return false, nil
	}
	l.Status = models.ListingStatusSold
	f.transitions = append(f.transitions, models.ListingStatusSold)
	return true, nil
}

func (f *fakeStore) GetSellerContact(_ context.Context, listingID string) (*models.SellerContact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.listings[listingID]
	if !ok {
		return nil, errors.New("listing not found")
	}
	return &models.SellerContact{Email: l.ContactEmail, Phone: l.ContactPhone}, nil
}

func (f *fakeStore) ToggleFavorite(_ context.Context, buyerID, listingID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairID(listingID, buyerID)
	if f.favorites[key] {
		delete(f.favorites, key)
		return false, nil
	}
	f.favorites[key] = true
	return true, nil
}

func (f *fakeStore) transitionsTo(status string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, s := range f.transitions {
		if s == status {
			count++
		}
	}
	return count
}

type fakeCache struct {
	mu       sync.Mutex
	intents  map[string]string
	attempts map[string]int64
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		intents:  make(map[string]string),
		attempts: make(map[string]int64),
	}
}

func (f *fakeCache) ClaimIntent(_ context.Context, listingID, buyerID, payload string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairID(listingID, buyerID)
	if existing, ok := f.intents[key]; ok {
		return existing, false, nil
	}
	f.intents[key] = payload
	return payload, true, nil
}

func (f *fakeCache) GetIntent(_ context.Context, listingID, buyerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.intents[pairID(listingID, buyerID)], nil
}

func (f *fakeCache) ClearIntent(_ context.Context, listingID, buyerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := pairID(listingID, buyerID)
	delete(f.intents, key)
	f.attempts[key]++
	return f.attempts[key], nil
}

func (f *fakeCache) AttemptGeneration(_ context.Context, listingID, buyerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[pairID(listingID, buyerID)], nil
}

// fakeProvider mimics the payment provider: intents keyed by ref and deduped
// by idempotency token, with test hooks to resolve them.
type fakeProvider struct {
	mu          sync.Mutex
	byRef       map[string]*payment.Intent
	byToken     map[string]*payment.Intent
	created     int
	unavailable bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		byRef:   make(map[string]*payment.Intent),
		byToken: make(map[string]*payment.Intent),
	}
}

func (f *fakeProvider) CreateIntent(_ context.Context, req *payment.CreateIntentRequest) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, payment.ErrUnavailable
	}
	if existing, ok := f.byToken[req.IdempotencyToken]; ok {
		cp := *existing
		return &cp, nil
	}
	f.created++
	intent := &payment.Intent{
		Ref:          fmt.Sprintf("pi_%d", f.created),
		ClientSecret: fmt.Sprintf("pi_%d_secret", f.created),
		Status:       models.IntentStatusRequiresConfirmation,
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	f.byRef[intent.Ref] = intent
	f.byToken[req.IdempotencyToken] = intent
	cp := *intent
	return &cp, nil
}

func (f *fakeProvider) GetIntent(_ context.Context, ref string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, payment.ErrUnavailable
	}
	intent, ok := f.byRef[ref]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (f *fakeProvider) FindIntentByToken(_ context.Context, token string) (*payment.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.unavailable {
		return nil, payment.ErrUnavailable
	}
	intent, ok := f.byToken[token]
	if !ok {
		return nil, payment.ErrIntentNotFound
	}
	cp := *intent
	return &cp, nil
}

func (f *fakeProvider) resolve(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if intent, ok := f.byRef[ref]; ok {
		intent.Status = status
	}
}

func (f *fakeProvider) createdCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakePublisher struct {
	mu            sync.Mutex
	recorded      []*models.UnlockRecordedEvent
	failed        []*models.UnlockPaymentFailedEvent
	statusChanges []*models.ListingStatusChangedEvent
}

func (f *fakePublisher) PublishUnlockRecorded(_ context.Context, e *models.UnlockRecordedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, e)
	return nil
}

func (f *fakePublisher) PublishUnlockPaymentFailed(_ context.Context, e *models.UnlockPaymentFailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, e)
	return nil
}

func (f *fakePublisher) PublishListingStatusChanged(_ context.Context, e *models.ListingStatusChangedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusChanges = append(f.statusChanges, e)
	return nil
}

func (f *fakePublisher) statusChangeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statusChanges)
}

type testEnv struct {
	store     *fakeStore
	cache     *fakeCache
	provider  *fakeProvider
	publisher *fakePublisher
	status    *StatusController
	unlocks   *UnlockService
	favorites *FavoriteService
}

func defaultPolicy() config.BusinessConfig {
	return config.BusinessConfig{
		UnlockFee:           100,
		Currency:            "gbp",
		ExclusiveUnlock:     false,
		IntentExpirySeconds: 900,
	}
}

func newTestEnv(policy config.BusinessConfig) *testEnv {
	st := newFakeStore()
	cache := newFakeCache()
	provider := newFakeProvider()
	publisher := &fakePublisher{}
	status := NewStatusController(st, publisher)

	return &testEnv{
		store:     st,
		cache:     cache,
		provider:  provider,
		publisher: publisher,
		status:    status,
		unlocks:   NewUnlockService(st, cache, provider, publisher, status, policy),
		favorites: NewFavoriteService(st),
	}
}

func (e *testEnv) seedListing(id, ownerID string) {
	e.store.addListing(&models.Listing{
		ID:           id,
		OwnerID:      ownerID,
		Title:        "Road bike",
		Price:        25000,
		Currency:     "gbp",
		ContactEmail: "seller@example.com",
		ContactPhone: "07700900123",
		Status:       models.ListingStatusAvailable,
	})
}
