/*
transfer.go - Peer-to-peer budget transfer saga

PURPOSE:
  Moves ticket budget between two nodes of the same event through a
  request/accept workflow with a 48-hour expiry and auditable balance
  snapshots.

STATE MACHINE:

  PENDING --accept(valid)---------------> ACCEPTED
  PENDING --accept(insufficient funds)--> CANCELLED   (auto, with reason)
  PENDING --accept(expired)-------------> AUTO_EXPIRED
  PENDING --reject(by recipient)--------> REJECTED
  PENDING --cancel(by sender)-----------> CANCELLED

  Every non-PENDING status is terminal. A second accept/reject/cancel on
  the same transfer fails with ErrTransferAlreadyResolved and never
  double-applies a balance change.

AVAILABLE BALANCE:
  A sender's available balance is AllocatedTickets minus the sum of its
  other PENDING outgoing transfers. No lock is taken at request time; the
  defense against a sender's balance shrinking before acceptance is the
  accept-time re-read, which cancels the transfer instead of overdrawing.

ATOMICITY:
  Accept debits the sender, credits the recipient, snapshots both
  balances and flips the status in one store transaction. A debit without
  the matching credit is a correctness failure, not a degraded mode.

EXPIRY:
  Detected lazily at accept time, and eagerly by SweepExpired (run
  periodically by api.TransferSweeper) so stale holds stop polluting
  available-balance math.
*/
package allocation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TransferService runs the transfer saga.
type TransferService struct {
	Store TxStore
	Now   func() time.Time
}

func NewTransferService(store TxStore) *TransferService {
	return &TransferService{Store: store, Now: time.Now}
}

// Request creates a PENDING transfer of qty tickets from one node to
// another. The caller must own the sending node.
func (ts *TransferService) Request(ctx context.Context, actor Actor, fromNodeID, toNodeID string, qty int) (*Transfer, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidQuantity, qty)
	}

	var created *Transfer
	err := ts.Store.WithTx(ctx, func(s Store) error {
		from, err := s.GetNode(ctx, fromNodeID)
		if err != nil {
			return err
		}
		if from == nil {
			return fmt.Errorf("sender: %w", ErrNodeNotFound)
		}
		to, err := s.GetNode(ctx, toNodeID)
		if err != nil {
			return err
		}
		if to == nil {
			return fmt.Errorf("recipient: %w", ErrNodeNotFound)
		}

		if !actor.owns(from) {
			return ErrUnauthorizedTransferAction
		}
		if from.EventID != to.EventID {
			return ErrNodesNotSameEvent
		}

		held, err := s.SumPendingOutgoing(ctx, from.ID, "")
		if err != nil {
			return err
		}
		available := from.AllocatedTickets - held
		if available < qty {
			return &InsufficientAllocationError{
				NodeID:    from.ID,
				Requested: qty,
				Available: available,
			}
		}

		now := ts.Now().UTC()
		transfer := &Transfer{
			ID:                uuid.NewString(),
			EventID:           from.EventID,
			FromNodeID:        from.ID,
			ToNodeID:          to.ID,
			Quantity:          qty,
			Status:            TransferPending,
			RequestedAt:       now,
			ExpiresAt:         now.Add(TransferTTL),
			FromBalanceBefore: from.AllocatedTickets,
			ToBalanceBefore:   to.AllocatedTickets,
		}
		if err := s.InsertTransfer(ctx, transfer); err != nil {
			return err
		}
		created = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Accept resolves a PENDING transfer as the recipient. On success the
// sender is debited and the recipient credited atomically; the recorded
// before/after snapshots conserve the combined balance.
func (ts *TransferService) Accept(ctx context.Context, actor Actor, transferID string) (*Transfer, error) {
	var accepted *Transfer
	// The expiry and insufficient-balance paths flip the transfer to a
	// terminal status and still fail the operation. Those writes must
	// COMMIT, so the fn returns nil and the failure travels out of band.
	var resolution error
	err := ts.Store.WithTx(ctx, func(s Store) error {
		transfer, err := s.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer == nil {
			return ErrTransferNotFound
		}

		to, err := s.GetNode(ctx, transfer.ToNodeID)
		if err != nil {
			return err
		}
		if to == nil {
			return fmt.Errorf("recipient: %w", ErrNodeNotFound)
		}
		if !actor.owns(to) {
			return ErrUnauthorizedTransferAction
		}
		if transfer.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrTransferAlreadyResolved, transfer.Status)
		}

		now := ts.Now().UTC()
		if now.After(transfer.ExpiresAt) {
			transfer.Status = TransferAutoExpired
			transfer.RespondedAt = &now
			if err := s.UpdateTransfer(ctx, transfer); err != nil {
				return err
			}
			resolution = ErrTransferExpired
			return nil
		}

		// Re-read the sender: its budget may have shrunk since the
		// request (a sale consumed allocation, another transfer landed).
		from, err := s.GetNode(ctx, transfer.FromNodeID)
		if err != nil {
			return err
		}
		if from == nil {
			return fmt.Errorf("sender: %w", ErrNodeNotFound)
		}
		if from.AllocatedTickets < transfer.Quantity {
			transfer.Status = TransferCancelled
			transfer.RejectionReason = fmt.Sprintf(
				"sender balance %d below requested %d at acceptance",
				from.AllocatedTickets, transfer.Quantity)
			transfer.RespondedAt = &now
			if err := s.UpdateTransfer(ctx, transfer); err != nil {
				return err
			}
			resolution = &InsufficientAllocationError{
				NodeID:    from.ID,
				Requested: transfer.Quantity,
				Available: from.AllocatedTickets,
			}
			return nil
		}

		transfer.FromBalanceBefore = from.AllocatedTickets
		transfer.ToBalanceBefore = to.AllocatedTickets

		from.AllocatedTickets -= transfer.Quantity
		to.AllocatedTickets += transfer.Quantity
		from.UpdatedAt = now
		to.UpdatedAt = now

		fromAfter := from.AllocatedTickets
		toAfter := to.AllocatedTickets
		transfer.FromBalanceAfter = &fromAfter
		transfer.ToBalanceAfter = &toAfter
		transfer.Status = TransferAccepted
		transfer.RespondedAt = &now

		if err := s.UpdateNode(ctx, from); err != nil {
			return err
		}
		if err := s.UpdateNode(ctx, to); err != nil {
			return err
		}
		if err := s.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		accepted = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resolution != nil {
		return nil, resolution
	}
	return accepted, nil
}

// Reject resolves a PENDING transfer as the recipient. No balance change.
func (ts *TransferService) Reject(ctx context.Context, actor Actor, transferID, reason string) (*Transfer, error) {
	return ts.resolve(ctx, actor, transferID, TransferRejected, reason, recipientResolves)
}

// Cancel withdraws a PENDING transfer as the sender. No balance change.
func (ts *TransferService) Cancel(ctx context.Context, actor Actor, transferID string) (*Transfer, error) {
	return ts.resolve(ctx, actor, transferID, TransferCancelled, "cancelled by sender", senderResolves)
}

type resolverSide int

const (
	recipientResolves resolverSide = iota
	senderResolves
)

func (ts *TransferService) resolve(ctx context.Context, actor Actor, transferID string, status TransferStatus, reason string, side resolverSide) (*Transfer, error) {
	var resolved *Transfer
	err := ts.Store.WithTx(ctx, func(s Store) error {
		transfer, err := s.GetTransfer(ctx, transferID)
		if err != nil {
			return err
		}
		if transfer == nil {
			return ErrTransferNotFound
		}

		nodeID := transfer.ToNodeID
		if side == senderResolves {
			nodeID = transfer.FromNodeID
		}
		node, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return ErrNodeNotFound
		}
		if !actor.owns(node) {
			return ErrUnauthorizedTransferAction
		}
		if transfer.Status.Terminal() {
			return fmt.Errorf("%w: status %s", ErrTransferAlreadyResolved, transfer.Status)
		}

		now := ts.Now().UTC()
		transfer.Status = status
		transfer.RejectionReason = reason
		transfer.RespondedAt = &now
		if err := s.UpdateTransfer(ctx, transfer); err != nil {
			return err
		}
		resolved = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// ListPending returns the node's PENDING transfers, incoming and outgoing.
func (ts *TransferService) ListPending(ctx context.Context, nodeID string) ([]*Transfer, error) {
	return ts.Store.ListPendingByNode(ctx, nodeID)
}

// Get returns a transfer by ID.
func (ts *TransferService) Get(ctx context.Context, transferID string) (*Transfer, error) {
	t, err := ts.Store.GetTransfer(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrTransferNotFound
	}
	return t, nil
}

// SweepExpired transitions every PENDING transfer past its expiry to
// AUTO_EXPIRED. Returns how many were expired.
func (ts *TransferService) SweepExpired(ctx context.Context) (int, error) {
	now := ts.Now().UTC()
	swept := 0
	err := ts.Store.WithTx(ctx, func(s Store) error {
		stale, err := s.ListExpiredPending(ctx, now)
		if err != nil {
			return err
		}
		for _, transfer := range stale {
			transfer.Status = TransferAutoExpired
			respondedAt := now
			transfer.RespondedAt = &respondedAt
			if err := s.UpdateTransfer(ctx, transfer); err != nil {
				return err
			}
			swept++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return swept, nil
}
