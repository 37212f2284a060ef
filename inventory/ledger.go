/*
ledger.go - Tier capacity ledger

PURPOSE:
  The Ledger is the single write path for tier counters. It answers the
  checkout flow's one hard question: can these N tickets still be sold?

NO-OVERSELL GUARANTEE:
  CommitSale reads (sold, capacity) and writes the new sold count inside
  one WithTx call. Under N concurrent committers racing for the same tier,
  the store serializes the read-then-write sequences, so the sum of
  successful quantities never exceeds the capacity that was available at
  the start. Losers fail with CapacityExceeded reporting what actually
  remained; they never silently overallocate.

VERSION:
  Every write bumps Version. The commit path does not re-check Version
  against an expected value - the transaction boundary is the guarantee,
  the counter is for audit trails and debugging.

SEE ALSO:
  - errors.go: CapacityExceeded / InvalidCapacityChange details
  - store.go: the WithTx contract this leans on
*/
package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ledger owns all tier mutations.
type Ledger struct {
	Store TxStore
	Now   func() time.Time
}

// NewLedger returns a Ledger over the given store using wall-clock time.
func NewLedger(store TxStore) *Ledger {
	return &Ledger{Store: store, Now: time.Now}
}

// CreateTier creates a new active tier with zero sales.
func (l *Ledger) CreateTier(ctx context.Context, eventID, name string, priceCents int64, capacity int) (*Tier, error) {
	if capacity < 0 {
		return nil, fmt.Errorf("capacity must be non-negative, got %d", capacity)
	}
	now := l.Now().UTC()
	tier := &Tier{
		ID:         uuid.NewString(),
		EventID:    eventID,
		Name:       name,
		PriceCents: priceCents,
		Capacity:   capacity,
		Sold:       0,
		Version:    0,
		Active:     true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.Store.InsertTier(ctx, tier); err != nil {
		return nil, fmt.Errorf("failed to create tier: %w", err)
	}
	return tier, nil
}

// CommitSale records the sale of qty tickets against a tier.
//
// Fails with CapacityExceededError (no write) when fewer than qty tickets
// remain. The read and the write happen in one store transaction.
func (l *Ledger) CommitSale(ctx context.Context, tierID string, qty int) (*Tier, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	var committed *Tier
	err := l.Store.WithTx(ctx, func(s Store) error {
		tier, err := s.GetTier(ctx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return ErrTierNotFound
		}

		newSold := tier.Sold + qty
		if newSold > tier.Capacity {
			return &CapacityExceededError{
				TierID:    tierID,
				Requested: qty,
				Available: tier.Capacity - tier.Sold,
			}
		}

		now := l.Now().UTC()
		tier.Sold = newSold
		tier.Version++
		tier.UpdatedAt = now
		if tier.FirstSaleAt == nil {
			tier.FirstSaleAt = &now
		}

		if err := s.UpdateTier(ctx, tier); err != nil {
			return err
		}
		committed = tier
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// ReleaseSale returns qty tickets to the pool (ticket cancellation).
// Sold is floored at zero; Version still increments.
func (l *Ledger) ReleaseSale(ctx context.Context, tierID string, qty int) (*Tier, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	var released *Tier
	err := l.Store.WithTx(ctx, func(s Store) error {
		tier, err := s.GetTier(ctx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return ErrTierNotFound
		}

		tier.Sold -= qty
		if tier.Sold < 0 {
			tier.Sold = 0
		}
		tier.Version++
		tier.UpdatedAt = l.Now().UTC()

		if err := s.UpdateTier(ctx, tier); err != nil {
			return err
		}
		released = tier
		return nil
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// UpdateCapacity changes a tier's capacity. Increases are always allowed;
// a decrease below the sold count fails with InvalidCapacityChangeError.
func (l *Ledger) UpdateCapacity(ctx context.Context, tierID string, newCapacity int) (*Tier, error) {
	var updated *Tier
	err := l.Store.WithTx(ctx, func(s Store) error {
		tier, err := s.GetTier(ctx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return ErrTierNotFound
		}

		if newCapacity < tier.Sold {
			return &InvalidCapacityChangeError{
				TierID:      tierID,
				NewCapacity: newCapacity,
				Sold:        tier.Sold,
			}
		}

		tier.Capacity = newCapacity
		tier.Version++
		tier.UpdatedAt = l.Now().UTC()

		if err := s.UpdateTier(ctx, tier); err != nil {
			return err
		}
		updated = tier
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Deactivate retires a tier. Tiers are never deleted once sold > 0.
func (l *Ledger) Deactivate(ctx context.Context, tierID string) error {
	return l.Store.WithTx(ctx, func(s Store) error {
		tier, err := s.GetTier(ctx, tierID)
		if err != nil {
			return err
		}
		if tier == nil {
			return ErrTierNotFound
		}
		tier.Active = false
		tier.Version++
		tier.UpdatedAt = l.Now().UTC()
		return s.UpdateTier(ctx, tier)
	})
}

// GetTier returns a tier by ID.
func (l *Ledger) GetTier(ctx context.Context, tierID string) (*Tier, error) {
	tier, err := l.Store.GetTier(ctx, tierID)
	if err != nil {
		return nil, err
	}
	if tier == nil {
		return nil, ErrTierNotFound
	}
	return tier, nil
}

// ListTiers returns all tiers for an event.
func (l *Ledger) ListTiers(ctx context.Context, eventID string) ([]*Tier, error) {
	return l.Store.ListTiersByEvent(ctx, eventID)
}
