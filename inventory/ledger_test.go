package inventory_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepperslife/ticket-engine/inventory"
	"github.com/stepperslife/ticket-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) *inventory.Ledger {
	t.Helper()
	return inventory.NewLedger(memory.New().Inventory())
}

func createTier(t *testing.T, ledger *inventory.Ledger, capacity int) *inventory.Tier {
	t.Helper()
	tier, err := ledger.CreateTier(context.Background(), "evt-1", "General Admission", 5000, capacity)
	require.NoError(t, err)
	return tier
}

// =============================================================================
// NO-OVERSELL TESTS
// =============================================================================

func TestCommitSale_WithinCapacity(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 100)

	updated, err := ledger.CommitSale(ctx, tier.ID, 30)

	require.NoError(t, err)
	assert.Equal(t, 30, updated.Sold)
	assert.Equal(t, 70, updated.Available())
	assert.Equal(t, int64(1), updated.Version)
}

func TestCommitSale_ExactlyFull(t *testing.T) {
	// GIVEN: 100-capacity tier with 70 sold
	// WHEN: Committing exactly the remaining 30
	// THEN: Succeeds and the tier is full

	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 100)

	_, err := ledger.CommitSale(ctx, tier.ID, 70)
	require.NoError(t, err)

	updated, err := ledger.CommitSale(ctx, tier.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, 100, updated.Sold)
	assert.Equal(t, 0, updated.Available())
}

func TestCommitSale_Oversell_RejectedWithNoWrite(t *testing.T) {
	// GIVEN: 50-capacity tier, one buyer already took 30
	// WHEN: A second buyer asks for another 30
	// THEN: Rejected; the error reports 20 available and nothing changed

	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 50)

	_, err := ledger.CommitSale(ctx, tier.ID, 30)
	require.NoError(t, err)

	_, err = ledger.CommitSale(ctx, tier.ID, 30)
	require.Error(t, err)

	var ce *inventory.CapacityExceededError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 30, ce.Requested)
	assert.Equal(t, 20, ce.Available)
	assert.ErrorIs(t, err, inventory.ErrCapacityExceeded)

	// No partial write
	after, err := ledger.GetTier(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, 30, after.Sold)
	assert.Equal(t, int64(1), after.Version)
}

func TestCommitSale_ConcurrentBuyers_NeverOversell(t *testing.T) {
	// GIVEN: 50-capacity tier and 20 buyers racing for 5 tickets each
	// THEN: Successful commits sum to at most 50 and Sold matches

	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 50)

	var wg sync.WaitGroup
	var mu sync.Mutex
	committed := 0

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.CommitSale(ctx, tier.ID, 5); err == nil {
				mu.Lock()
				committed += 5
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, committed)

	after, err := ledger.GetTier(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, after.Sold)
}

func TestCommitSale_InvalidQuantity(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 10)

	_, err := ledger.CommitSale(ctx, tier.ID, 0)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	_, err = ledger.CommitSale(ctx, tier.ID, -3)
	assert.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestCommitSale_UnknownTier(t *testing.T) {
	ledger := newTestLedger(t)

	_, err := ledger.CommitSale(context.Background(), "nope", 1)
	assert.ErrorIs(t, err, inventory.ErrTierNotFound)
}

func TestCommitSale_FirstSaleTimestamp(t *testing.T) {
	// The first committed sale stamps FirstSaleAt; later sales don't move it.

	ledger := newTestLedger(t)
	ctx := context.Background()

	first := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	ledger.Now = func() time.Time { return first }

	tier := createTier(t, ledger, 100)

	updated, err := ledger.CommitSale(ctx, tier.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, updated.FirstSaleAt)
	assert.Equal(t, first, *updated.FirstSaleAt)

	ledger.Now = func() time.Time { return first.Add(2 * time.Hour) }
	updated, err = ledger.CommitSale(ctx, tier.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, first, *updated.FirstSaleAt)
}

// =============================================================================
// RELEASE TESTS
// =============================================================================

func TestReleaseSale_ReturnsInventory(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 100)

	_, err := ledger.CommitSale(ctx, tier.ID, 40)
	require.NoError(t, err)

	updated, err := ledger.ReleaseSale(ctx, tier.ID, 15)
	require.NoError(t, err)
	assert.Equal(t, 25, updated.Sold)
	assert.Equal(t, 75, updated.Available())
}

func TestReleaseSale_FloorsAtZero(t *testing.T) {
	// Releasing more than sold clamps at zero rather than going negative.

	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 100)

	_, err := ledger.CommitSale(ctx, tier.ID, 10)
	require.NoError(t, err)

	updated, err := ledger.ReleaseSale(ctx, tier.ID, 25)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Sold)
}

// =============================================================================
// CAPACITY CHANGE TESTS
// =============================================================================

func TestUpdateCapacity_GrowAndShrink(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 100)

	_, err := ledger.CommitSale(ctx, tier.ID, 60)
	require.NoError(t, err)

	// Growing is always fine
	updated, err := ledger.UpdateCapacity(ctx, tier.ID, 200)
	require.NoError(t, err)
	assert.Equal(t, 200, updated.Capacity)

	// Shrinking down to sold is fine
	updated, err = ledger.UpdateCapacity(ctx, tier.ID, 60)
	require.NoError(t, err)
	assert.Equal(t, 0, updated.Available())
}

func TestUpdateCapacity_BelowSold_Rejected(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()
	tier := createTier(t, ledger, 100)

	_, err := ledger.CommitSale(ctx, tier.ID, 60)
	require.NoError(t, err)

	_, err = ledger.UpdateCapacity(ctx, tier.ID, 59)
	require.Error(t, err)

	var ice *inventory.InvalidCapacityChangeError
	require.ErrorAs(t, err, &ice)
	assert.Equal(t, 59, ice.NewCapacity)
	assert.Equal(t, 60, ice.Sold)

	// Capacity untouched
	after, err := ledger.GetTier(ctx, tier.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, after.Capacity)
}

func TestListTiers_ByEvent(t *testing.T) {
	ledger := newTestLedger(t)
	ctx := context.Background()

	_, err := ledger.CreateTier(ctx, "evt-1", "GA", 5000, 100)
	require.NoError(t, err)
	_, err = ledger.CreateTier(ctx, "evt-1", "VIP", 15000, 20)
	require.NoError(t, err)
	_, err = ledger.CreateTier(ctx, "evt-2", "GA", 3000, 50)
	require.NoError(t, err)

	tiers, err := ledger.ListTiers(ctx, "evt-1")
	require.NoError(t, err)
	require.Len(t, tiers, 2)
	assert.Equal(t, "GA", tiers[0].Name)
	assert.Equal(t, "VIP", tiers[1].Name)
}
