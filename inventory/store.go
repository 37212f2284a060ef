/*
store.go - Persistence contract for tiers

PURPOSE:
  Defines the interface between the ledger and the database. The Ledger
  never patches counters directly against a table; every mutation is a
  read-validate-write executed inside WithTx.

TRANSACTION CONTRACT:
  WithTx(fn) runs fn against a Store view whose reads and writes form one
  atomic, serialized unit. If fn returns an error, nothing fn wrote is
  visible afterwards. Two concurrent WithTx calls touching the same tier
  must serialize; this is what makes the read-then-write commit path safe
  without locks in the domain layer.

IMPLEMENTATIONS:
  - store/memory:  mutex + snapshot rollback (tests, dev)
  - store/sqlite:  database transaction (production)
*/
package inventory

import "context"

// Store handles tier persistence.
type Store interface {
	// GetTier returns the tier or (nil, nil) when it does not exist.
	GetTier(ctx context.Context, id string) (*Tier, error)

	// InsertTier persists a new tier.
	InsertTier(ctx context.Context, t *Tier) error

	// UpdateTier overwrites an existing tier row.
	UpdateTier(ctx context.Context, t *Tier) error

	// ListTiersByEvent returns all tiers for an event, ordered by creation.
	ListTiersByEvent(ctx context.Context, eventID string) ([]*Tier, error)
}

// TxStore extends Store with the atomic unit every mutation runs in.
type TxStore interface {
	Store

	// WithTx executes fn within a serialized transaction.
	// fn's error rolls the transaction back; nil commits it.
	WithTx(ctx context.Context, fn func(Store) error) error
}
