/*
errors.go - Error types for the inventory ledger

PURPOSE:
  Sentinel errors for use with errors.Is(), plus structured errors that
  carry the quantities a caller needs to build a useful rejection message
  ("only 20 left, you asked for 30").

USAGE:
  if errors.Is(err, inventory.ErrCapacityExceeded) {
      var ce *inventory.CapacityExceededError
      errors.As(err, &ce)
      // ce.Available tells the buyer how many remain
  }
*/
package inventory

import (
	"errors"
	"fmt"
)

var (
	// ErrTierNotFound is returned when the referenced tier does not exist.
	ErrTierNotFound = errors.New("tier not found")

	// ErrCapacityExceeded is returned when a sale commit would push Sold
	// past Capacity. The operation performs no write.
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// ErrInvalidCapacityChange is returned when a capacity edit would drop
	// Capacity below Sold.
	ErrInvalidCapacityChange = errors.New("capacity below sold count")

	// ErrInvalidQuantity is returned for non-positive sale quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// CapacityExceededError reports how far a commit overshot the tier.
type CapacityExceededError struct {
	TierID    string
	Requested int
	Available int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("tier %s: requested %d tickets, only %d available",
		e.TierID, e.Requested, e.Available)
}

func (e *CapacityExceededError) Unwrap() error { return ErrCapacityExceeded }

// InvalidCapacityChangeError reports a capacity edit below the sold count.
type InvalidCapacityChangeError struct {
	TierID      string
	NewCapacity int
	Sold        int
}

func (e *InvalidCapacityChangeError) Error() string {
	return fmt.Sprintf("tier %s: capacity %d is below %d sold",
		e.TierID, e.NewCapacity, e.Sold)
}

func (e *InvalidCapacityChangeError) Unwrap() error { return ErrInvalidCapacityChange }

// IsClientError returns true if the error is due to invalid caller input
// or state, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrCapacityExceeded) ||
		errors.Is(err, ErrInvalidCapacityChange) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTierNotFound)
}
