/*
commission.go - Commission ledger and settlement

PURPOSE:
  Records commission-earning sale events as immutable facts and derives
  the net amount owed between organizer and node.

COMMISSION RULE:
  Percentage commission applies to the pre-fee ticket subtotal of the
  attributed sale: round(unitPrice * qty * pct / 100), computed once per
  recorded sale. Fixed commission is value * qty. The rule is applied
  uniformly at every call site.

SETTLEMENT:
  Settlement(node) = CommissionEarned - CashCollected.
  Positive: the organizer owes the node its commission.
  Negative: the node holds more collected cash than earned commission and
  owes the organizer.
  CashCollected grows only with CASH-method sales recorded at the point
  of sale.

IDEMPOTENCY:
  One record per (order, node). A checkout retry that replays the same
  order fails with ErrDuplicateCommissionRecord and changes nothing.
*/
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionService appends sale facts and answers settlement queries.
type CommissionService struct {
	Store TxStore
	Now   func() time.Time
}

func NewCommissionService(store TxStore) *CommissionService {
	return &CommissionService{Store: store, Now: time.Now}
}

// RecordSale appends a commission record for an attributed sale and rolls
// the earnings into the node's counters, all in one transaction.
func (cs *CommissionService) RecordSale(ctx context.Context, orderID, nodeID string, qty int, unitPriceCents int64, method PaymentMethod) (*CommissionRecord, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	var rec *CommissionRecord
	err := cs.Store.WithTx(ctx, func(s Store) error {
		node, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return ErrNodeNotFound
		}

		commission := Commission(node.CommissionType, node.CommissionValue, qty, unitPriceCents)

		record := &CommissionRecord{
			ID:             uuid.NewString(),
			OrderID:        orderID,
			NodeID:         node.ID,
			EventID:        node.EventID,
			Quantity:       qty,
			UnitPriceCents: unitPriceCents,
			Commission:     commission,
			PaymentMethod:  method,
			RecordedAt:     cs.Now().UTC(),
		}
		if err := s.AppendCommission(ctx, record); err != nil {
			return err
		}

		node.SoldTickets += qty
		node.CommissionEarned = node.CommissionEarned.Add(commission)
		if method == PaymentCash {
			subtotal := decimal.NewFromInt(unitPriceCents).
				Mul(decimal.NewFromInt(int64(qty))).
				Div(decimal.NewFromInt(100))
			node.CashCollected = node.CashCollected.Add(subtotal)
		}
		node.UpdatedAt = record.RecordedAt
		if err := s.UpdateNode(ctx, node); err != nil {
			return err
		}
		rec = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Commission computes the commission (in currency units) for a sale of
// qty tickets at unitPriceCents through a node with the given config.
//
// PERCENTAGE applies once to the sale subtotal; FIXED is per ticket.
func Commission(ctype CommissionType, value decimal.Decimal, qty int, unitPriceCents int64) decimal.Decimal {
	quantity := decimal.NewFromInt(int64(qty))
	switch ctype {
	case CommissionFixed:
		return value.Mul(quantity)
	default: // PERCENTAGE
		subtotal := decimal.NewFromInt(unitPriceCents).
			Mul(quantity).
			Div(decimal.NewFromInt(100)) // cents -> currency units
		return subtotal.Mul(value).Div(decimal.NewFromInt(100)).Round(2)
	}
}

// SettlementView is the net cash-vs-commission position of a node.
type SettlementView struct {
	NodeID           string
	CommissionEarned decimal.Decimal
	CashCollected    decimal.Decimal

	// Net = CommissionEarned - CashCollected.
	// Positive: organizer owes the node. Negative: node owes organizer.
	Net decimal.Decimal

	SoldTickets int
	RecordCount int
}

// Settlement computes the node's settlement from its counters and record
// history. Read-only.
func (cs *CommissionService) Settlement(ctx context.Context, nodeID string) (*SettlementView, error) {
	node, err := cs.Store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNodeNotFound
	}
	records, err := cs.Store.ListCommissionsByNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	return &SettlementView{
		NodeID:           node.ID,
		CommissionEarned: node.CommissionEarned,
		CashCollected:    node.CashCollected,
		Net:              node.CommissionEarned.Sub(node.CashCollected),
		SoldTickets:      node.SoldTickets,
		RecordCount:      len(records),
	}, nil
}

// History returns a node's commission records, oldest first.
func (cs *CommissionService) History(ctx context.Context, nodeID string) ([]*CommissionRecord, error) {
	return cs.Store.ListCommissionsByNode(ctx, nodeID)
}
