package service

import (
	"context"
	"testing"

	"unlock-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecomputeDerivesStatusFromLedger(t *testing.T) {
	env := newTestEnv(defaultPolicy())
	env.seedListing("L1", "S1")
	ctx := context.Background()

	status, err := env.status.Recompute(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusAvailable, status)

	_, err = env.store.InsertUnlockIfAbsent(ctx, &models.UnlockRecord{
		ID: "u1", ListingID: "L1", BuyerID: "B1", PaymentRef: "pi_1", Amount: 100, Currency: "gbp",
	})
	require.NoError(t, err)

	status, err = env.status.Recompute(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusPending, status)

	// re-running is a no-op, not a second transition
	status, err = env.status.Recompute(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusPending, status)
	assert.Equal(t, 1, env.store.transitionsTo(models.ListingStatusPending))
	assert.Equal(t, 1, env.publisher.statusChangeCount())
}

func TestSoldIsTerminal(t *testing.T) {
	env := newTestEnv(defaultPolicy())
	env.seedListing("L1", "S1")
	ctx := context.Background()

	require.NoError(t, env.status.MarkSold(ctx, "L1", "S1"))

	// recomputes never leave SOLD, whatever the ledger says
	_, err := env.store.InsertUnlockIfAbsent(ctx, &models.UnlockRecord{
		ID: "u1", ListingID: "L1", BuyerID: "B1", PaymentRef: "pi_1", Amount: 100, Currency: "gbp",
	})
	require.NoError(t, err)

	status, err := env.status.Recompute(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, status)

	// and new unlock attempts are rejected outright
	_, err = env.unlocks.Begin(ctx, "B2", "", "L1")
	assert.ErrorIs(t, err, ErrListingSold)
}

func TestMarkSoldIsIdempotent(t *testing.T) {
	env := newTestEnv(defaultPolicy())
	env.seedListing("L1", "S1")
	ctx := context.Background()

	require.NoError(t, env.status.MarkSold(ctx, "L1", "S1"))
	require.NoError(t, env.status.MarkSold(ctx, "L1", "S1"))
	assert.Equal(t, 1, env.store.transitionsTo(models.ListingStatusSold))
}

func TestMarkSoldRequiresOwner(t *testing.T) {
	env := newTestEnv(defaultPolicy())
	env.seedListing("L1", "S1")
	ctx := context.Background()

	err := env.status.MarkSold(ctx, "L1", "B1")
	assert.ErrorIs(t, err, ErrUnauthorized)

	err = env.status.MarkSold(ctx, "L1", "")
	assert.ErrorIs(t, err, ErrUnauthorized)

	listing, _ := env.store.GetListingByID(ctx, "L1")
	assert.Equal(t, models.ListingStatusAvailable, listing.Status)
}

func TestRecomputeLostRaceConverges(t *testing.T) {
	env := newTestEnv(defaultPolicy())
	env.seedListing("L1", "S1")
	ctx := context.Background()

	_, err := env.store.InsertUnlockIfAbsent(ctx, &models.UnlockRecord{
		ID: "u1", ListingID: "L1", BuyerID: "B1", PaymentRef: "pi_1", Amount: 100, Currency: "gbp",
	})
	require.NoError(t, err)

	// the seller marks the listing sold between the recompute's read and its
	// conditional write; the write loses and the recompute reports what landed
	env.store.beforeSetStatus = func() {
		env.store.beforeSetStatus = nil
		env.store.mu.Lock()
		env.store.listings["L1"].Status = models.ListingStatusSold
		env.store.mu.Unlock()
	}

	status, err := env.status.Recompute(ctx, "L1")
	require.NoError(t, err)
	assert.Equal(t, models.ListingStatusSold, status)
}

func TestRecomputeUnknownListing(t *testing.T) {
	env := newTestEnv(defaultPolicy())
	ctx := context.Background()

	_, err := env.status.Recompute(ctx, "missing")
	assert.ErrorIs(t, err, ErrListingNotFound)
}
