package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepperslife/ticket-engine/allocation"
	"github.com/stepperslife/ticket-engine/inventory"
	"github.com/stepperslife/ticket-engine/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLite_TierRoundTrip(t *testing.T) {
	db := newTestDB(t)
	store := db.Inventory()
	ctx := context.Background()

	firstSale := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	tier := &inventory.Tier{
		ID:          "tier-1",
		EventID:     "evt-1",
		Name:        "GA",
		PriceCents:  5000,
		Capacity:    100,
		Sold:        30,
		Version:     3,
		Active:      true,
		FirstSaleAt: &firstSale,
		CreatedAt:   firstSale,
		UpdatedAt:   firstSale,
	}
	require.NoError(t, store.InsertTier(ctx, tier))

	got, err := store.GetTier(ctx, "tier-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, tier.Sold, got.Sold)
	assert.Equal(t, tier.Version, got.Version)
	require.NotNil(t, got.FirstSaleAt)
	assert.True(t, got.FirstSaleAt.Equal(firstSale))

	// Missing rows come back nil, nil
	got, err = store.GetTier(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLite_TxRollbackOnError(t *testing.T) {
	db := newTestDB(t)
	store := db.Inventory()
	ctx := context.Background()

	tier := &inventory.Tier{ID: "tier-1", EventID: "evt-1", Name: "GA", Capacity: 100, Active: true,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, store.InsertTier(ctx, tier))

	boom := assert.AnError
	err := store.WithTx(ctx, func(s inventory.Store) error {
		got, err := s.GetTier(ctx, "tier-1")
		require.NoError(t, err)
		got.Sold = 99
		require.NoError(t, s.UpdateTier(ctx, got))
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := store.GetTier(ctx, "tier-1")
	require.NoError(t, err)
	assert.Equal(t, 0, after.Sold, "failed transaction leaves no partial write")
}

func testNode(id, code string) *allocation.Node {
	now := time.Now().UTC()
	return &allocation.Node{
		ID:              id,
		EventID:         "evt-1",
		OrganizerID:     "org-1",
		OwnerUserID:     "user-1",
		Name:            "Seller",
		CommissionType:  allocation.CommissionPercentage,
		CommissionValue: decimal.NewFromInt(10),
		HierarchyLevel:  1,
		ReferralCode:    code,
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestSQLite_NodeRoundTripAndReferralLookup(t *testing.T) {
	db := newTestDB(t)
	store := db.Allocation()
	ctx := context.Background()

	node := testNode("node-1", "SELL-AAAAAA")
	limit := 3
	node.MaxSubSellers = &limit
	require.NoError(t, store.InsertNode(ctx, node))

	got, err := store.GetNode(ctx, "node-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.CommissionValue.Equal(decimal.NewFromInt(10)))
	require.NotNil(t, got.MaxSubSellers)
	assert.Equal(t, 3, *got.MaxSubSellers)

	found, err := store.FindByReferralCode(ctx, "SELL-AAAAAA")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "node-1", found.ID)

	exists, err := store.ReferralCodeExists(ctx, "SELL-AAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSQLite_ReferralCodeUniqueAmongActive(t *testing.T) {
	db := newTestDB(t)
	store := db.Allocation()
	ctx := context.Background()

	first := testNode("node-1", "SELL-AAAAAA")
	require.NoError(t, store.InsertNode(ctx, first))

	dup := testNode("node-2", "SELL-AAAAAA")
	assert.Error(t, store.InsertNode(ctx, dup))

	// Deactivation frees the code
	first.Active = false
	require.NoError(t, store.UpdateNode(ctx, first))
	assert.NoError(t, store.InsertNode(ctx, dup))
}

func TestSQLite_CommissionAppendOnlyUniqueness(t *testing.T) {
	db := newTestDB(t)
	store := db.Allocation()
	ctx := context.Background()

	rec := &allocation.CommissionRecord{
		ID:             "rec-1",
		OrderID:        "ord-1",
		NodeID:         "node-1",
		Quantity:       2,
		UnitPriceCents: 5000,
		Commission:     decimal.NewFromInt(10),
		PaymentMethod:  allocation.PaymentOnline,
		RecordedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.AppendCommission(ctx, rec))

	dup := *rec
	dup.ID = "rec-2"
	err := store.AppendCommission(ctx, &dup)
	assert.ErrorIs(t, err, allocation.ErrDuplicateCommissionRecord)
}

func TestSQLite_TransferPendingQueries(t *testing.T) {
	db := newTestDB(t)
	store := db.Allocation()
	ctx := context.Background()

	base := time.Date(2026, time.June, 1, 12, 0, 0, 0, time.UTC)
	mk := func(id string, qty int, expires time.Time) *allocation.Transfer {
		return &allocation.Transfer{
			ID:                id,
			EventID:           "evt-1",
			FromNodeID:        "node-a",
			ToNodeID:          "node-b",
			Quantity:          qty,
			Status:            allocation.TransferPending,
			RequestedAt:       base,
			ExpiresAt:         expires,
			FromBalanceBefore: 100,
			ToBalanceBefore:   0,
		}
	}
	require.NoError(t, store.InsertTransfer(ctx, mk("t-1", 10, base.Add(48*time.Hour))))
	require.NoError(t, store.InsertTransfer(ctx, mk("t-2", 20, base.Add(time.Hour))))

	held, err := store.SumPendingOutgoing(ctx, "node-a", "")
	require.NoError(t, err)
	assert.Equal(t, 30, held)

	held, err = store.SumPendingOutgoing(ctx, "node-a", "t-2")
	require.NoError(t, err)
	assert.Equal(t, 10, held)

	stale, err := store.ListExpiredPending(ctx, base.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "t-2", stale[0].ID)

	pending, err := store.ListPendingByNode(ctx, "node-b")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSQLite_CloneRunIdempotencyMark(t *testing.T) {
	db := newTestDB(t)
	store := db.Allocation()
	ctx := context.Background()

	exists, err := store.CloneRunExists(ctx, "evt-1", "tpl-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.RecordCloneRun(ctx, "evt-1", "tpl-1", time.Now().UTC()))

	exists, err = store.CloneRunExists(ctx, "evt-1", "tpl-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
