/*
errors.go - Failure taxonomy for the allocation tree

PURPOSE:
  All allocation errors in one place. Every one of these is a rejected
  operation, not a crash: the enclosing store transaction aborts with no
  partial writes and the error surfaces to the caller.

USAGE:
  Sentinels work with errors.Is(); structured errors add the quantities a
  UI needs:

    if errors.Is(err, allocation.ErrInsufficientAllocation) {
        var ie *allocation.InsufficientAllocationError
        errors.As(err, &ie)
        // ie.Available is what the sender can actually move
    }
*/
package allocation

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when the referenced node does not exist.
	ErrNodeNotFound = errors.New("allocation node not found")

	// ErrHierarchyDepthExceeded is returned when creating a node would
	// exceed MaxDepth generations.
	ErrHierarchyDepthExceeded = errors.New("hierarchy depth exceeded")

	// ErrInvalidCommissionSplit is returned when parent + sub-seller
	// commission percentages exceed 100.
	ErrInvalidCommissionSplit = errors.New("commission split exceeds 100 percent")

	// ErrMaxSubSellersReached is returned when the parent's sub-seller cap
	// is already met.
	ErrMaxSubSellersReached = errors.New("max sub-sellers reached")

	// ErrReferralCodeCollisionExhausted is returned after 10 failed
	// attempts to generate a unique referral code.
	ErrReferralCodeCollisionExhausted = errors.New("referral code generation exhausted")

	// ErrInsufficientAllocation is returned when a transfer (at request or
	// accept time) exceeds the sender's available budget.
	ErrInsufficientAllocation = errors.New("insufficient allocation")

	// ErrTransferNotFound is returned when the referenced transfer does
	// not exist.
	ErrTransferNotFound = errors.New("transfer not found")

	// ErrTransferExpired is returned when accepting past ExpiresAt. The
	// transfer transitions to AUTO_EXPIRED; no balance changes.
	ErrTransferExpired = errors.New("transfer expired")

	// ErrTransferAlreadyResolved is returned for any action on a transfer
	// that already reached a terminal status.
	ErrTransferAlreadyResolved = errors.New("transfer already resolved")

	// ErrUnauthorizedTransferAction is returned when the caller is not the
	// party allowed to perform the transition.
	ErrUnauthorizedTransferAction = errors.New("not authorized for this transfer action")

	// ErrNodesNotSameEvent is returned when a transfer's endpoints belong
	// to different events.
	ErrNodesNotSameEvent = errors.New("nodes belong to different events")

	// ErrDuplicateCommissionRecord is returned when a sale for the same
	// (order, node) pair was already recorded. Safe to ignore on retry.
	ErrDuplicateCommissionRecord = errors.New("commission record already exists")

	// ErrInvalidQuantity is returned for non-positive quantities.
	ErrInvalidQuantity = errors.New("quantity must be positive")
)

// InsufficientAllocationError reports the sender's actual headroom.
type InsufficientAllocationError struct {
	NodeID    string
	Requested int
	Available int
}

func (e *InsufficientAllocationError) Error() string {
	return fmt.Sprintf("node %s: requested %d tickets, %d available",
		e.NodeID, e.Requested, e.Available)
}

func (e *InsufficientAllocationError) Unwrap() error { return ErrInsufficientAllocation }

// IsClientError returns true if the error is due to invalid caller input
// or state, as opposed to a store failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrHierarchyDepthExceeded) ||
		errors.Is(err, ErrInvalidCommissionSplit) ||
		errors.Is(err, ErrMaxSubSellersReached) ||
		errors.Is(err, ErrInsufficientAllocation) ||
		errors.Is(err, ErrTransferExpired) ||
		errors.Is(err, ErrTransferAlreadyResolved) ||
		errors.Is(err, ErrNodesNotSameEvent) ||
		errors.Is(err, ErrDuplicateCommissionRecord) ||
		errors.Is(err, ErrInvalidQuantity)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound) || errors.Is(err, ErrTransferNotFound)
}
