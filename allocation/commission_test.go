package allocation_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stepperslife/ticket-engine/allocation"
	"github.com/stepperslife/ticket-engine/store/memory"
)

// =============================================================================
// COMMISSION MATH TESTS
// =============================================================================

func TestCommission_Percentage(t *testing.T) {
	// 10% of 4 tickets at $50.00 = $20.00
	got := allocation.Commission(allocation.CommissionPercentage, decimal.NewFromInt(10), 4, 5000)
	assert.True(t, got.Equal(decimal.NewFromInt(20)), got.String())
}

func TestCommission_PercentageRounding(t *testing.T) {
	// 7.5% of 3 tickets at $33.33 = 99.99 * 0.075 = 7.49925 -> 7.50
	pct := decimal.RequireFromString("7.5")
	got := allocation.Commission(allocation.CommissionPercentage, pct, 3, 3333)
	assert.True(t, got.Equal(decimal.RequireFromString("7.5")), got.String())
}

func TestCommission_Fixed(t *testing.T) {
	// $2.50 per ticket, 4 tickets = $10.00; price is irrelevant
	fixed := decimal.RequireFromString("2.50")
	got := allocation.Commission(allocation.CommissionFixed, fixed, 4, 5000)
	assert.True(t, got.Equal(decimal.NewFromInt(10)), got.String())
}

// =============================================================================
// RECORD SALE TESTS
// =============================================================================

func newCommissionFixture(t *testing.T) (*allocation.CommissionService, *allocation.NodeService, *allocation.Node) {
	t.Helper()
	store := memory.New().Allocation()
	ns := allocation.NewNodeService(store)
	cs := allocation.NewCommissionService(store)

	node, err := ns.CreateNode(context.Background(), nodeParams("evt-1", "", "Seller"))
	require.NoError(t, err)
	return cs, ns, node
}

func TestRecordSale_OnlineSale(t *testing.T) {
	cs, ns, node := newCommissionFixture(t)
	ctx := context.Background()

	// 10% node, 2 tickets at $50.00 -> $10.00 commission, no cash
	rec, err := cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentOnline)

	require.NoError(t, err)
	assert.True(t, rec.Commission.Equal(decimal.NewFromInt(10)), rec.Commission.String())

	after, err := ns.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.SoldTickets)
	assert.True(t, after.CommissionEarned.Equal(decimal.NewFromInt(10)), after.CommissionEarned.String())
	assert.True(t, after.CashCollected.IsZero())
}

func TestRecordSale_CashSaleAccumulatesCollected(t *testing.T) {
	cs, ns, node := newCommissionFixture(t)
	ctx := context.Background()

	// Cash sale: the seller pockets the $100.00 subtotal at the door
	_, err := cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentCash)
	require.NoError(t, err)

	after, err := ns.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.True(t, after.CashCollected.Equal(decimal.NewFromInt(100)), after.CashCollected.String())
	assert.True(t, after.CommissionEarned.Equal(decimal.NewFromInt(10)), after.CommissionEarned.String())
}

func TestRecordSale_DuplicateOrderRejected(t *testing.T) {
	// A checkout retry replaying the same order changes nothing.

	cs, ns, node := newCommissionFixture(t)
	ctx := context.Background()

	_, err := cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentOnline)
	require.NoError(t, err)

	_, err = cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentOnline)
	assert.ErrorIs(t, err, allocation.ErrDuplicateCommissionRecord)

	after, err := ns.GetNode(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, after.SoldTickets, "counters unchanged by the replay")

	history, err := cs.History(ctx, node.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRecordSale_UnknownNode(t *testing.T) {
	cs, _, _ := newCommissionFixture(t)

	_, err := cs.RecordSale(context.Background(), "ord-1", "missing", 1, 5000, allocation.PaymentOnline)
	assert.ErrorIs(t, err, allocation.ErrNodeNotFound)
}

func TestRecordSale_InvalidQuantity(t *testing.T) {
	cs, _, node := newCommissionFixture(t)

	_, err := cs.RecordSale(context.Background(), "ord-1", node.ID, 0, 5000, allocation.PaymentOnline)
	assert.ErrorIs(t, err, allocation.ErrInvalidQuantity)
}

// =============================================================================
// SETTLEMENT TESTS
// =============================================================================

func TestSettlement_OrganizerOwesNode(t *testing.T) {
	// Online-only sales: the node earned commission but holds no cash.

	cs, _, node := newCommissionFixture(t)
	ctx := context.Background()

	_, err := cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentOnline)
	require.NoError(t, err)

	view, err := cs.Settlement(ctx, node.ID)
	require.NoError(t, err)
	assert.True(t, view.Net.Equal(decimal.NewFromInt(10)), view.Net.String())
	assert.Equal(t, 2, view.SoldTickets)
	assert.Equal(t, 1, view.RecordCount)
}

func TestSettlement_NodeOwesOrganizer(t *testing.T) {
	// Cash sales: collected cash dwarfs the commission, net goes negative.

	cs, _, node := newCommissionFixture(t)
	ctx := context.Background()

	_, err := cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentCash)
	require.NoError(t, err)

	view, err := cs.Settlement(ctx, node.ID)
	require.NoError(t, err)
	// Earned 10, collected 100 -> owes 90
	assert.True(t, view.Net.Equal(decimal.NewFromInt(-90)), view.Net.String())
	assert.True(t, view.Net.IsNegative())
}

func TestSettlement_MixedSales(t *testing.T) {
	cs, _, node := newCommissionFixture(t)
	ctx := context.Background()

	_, err := cs.RecordSale(ctx, "ord-1", node.ID, 2, 5000, allocation.PaymentOnline)
	require.NoError(t, err)
	_, err = cs.RecordSale(ctx, "ord-2", node.ID, 1, 5000, allocation.PaymentCash)
	require.NoError(t, err)

	view, err := cs.Settlement(ctx, node.ID)
	require.NoError(t, err)
	// Earned 10 + 5 = 15, collected 50 -> net -35
	assert.True(t, view.CommissionEarned.Equal(decimal.NewFromInt(15)), view.CommissionEarned.String())
	assert.True(t, view.CashCollected.Equal(decimal.NewFromInt(50)), view.CashCollected.String())
	assert.True(t, view.Net.Equal(decimal.NewFromInt(-35)), view.Net.String())
	assert.Equal(t, 3, view.SoldTickets)
	assert.Equal(t, 2, view.RecordCount)
}
