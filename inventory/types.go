/*
Package inventory owns ticket tier capacity accounting.

PURPOSE:
  A tier is a finite, priced class of ticket for one event. This package is
  the only writer of a tier's sold counter: every sale commit, release, and
  capacity change goes through the Ledger, which enforces the no-oversell
  invariant inside a single store transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: capacity, sold and version counters plus lifecycle flags
  - Version: monotonic write counter, kept as an audit aid

INVARIANT:
  0 <= Sold <= Capacity after every committed operation, including under
  concurrent committers. The guarantee rests on the store's transaction
  boundary (see store.go), not on compare-and-swap over Version.

SEE ALSO:
  - ledger.go: CommitSale / ReleaseSale / capacity operations
  - store.go: persistence contract
*/
package inventory

import "time"

// Tier is a finite, priced class of ticket for one event.
type Tier struct {
	ID         string
	EventID    string
	Name       string
	PriceCents int64

	// Capacity may increase over time but never drops below Sold.
	Capacity int

	// Sold is mutated only by Ledger.CommitSale / Ledger.ReleaseSale.
	Sold int

	// Version increments on every write. Audit/debugging aid only;
	// correctness comes from the store transaction.
	Version int64

	// Active is false once a tier is retired. Tiers with sales are never
	// deleted, only deactivated.
	Active bool

	// FirstSaleAt is set when the first-ever sale commits.
	FirstSaleAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Available returns the number of unsold tickets.
func (t *Tier) Available() int {
	return t.Capacity - t.Sold
}
