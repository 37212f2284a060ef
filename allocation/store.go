/*
store.go - Persistence contract for nodes, transfers and commissions

PURPOSE:
  Defines what the allocation services need from a database. Mirrors the
  inventory contract: all mutations run inside WithTx, whose view must be
  a serialized read-validate-write unit.

TREE INDEXING:
  Nodes are stored as rows with parent pointers; ListChildren is the
  parent-to-children index every tree walk (cloning, hierarchy display)
  iterates over. No embedded child arrays anywhere.

APPEND-ONLY:
  AppendCommission is the only write for commission records. There is no
  update or delete; the (OrderID, NodeID) uniqueness check doubles as the
  idempotency guard for checkout retries.

IMPLEMENTATIONS:
  - store/memory:  mutex + snapshot rollback (tests, dev)
  - store/sqlite:  database transaction (production)
*/
package allocation

import (
	"context"
	"time"
)

// Store handles persistence for the allocation tree.
type Store interface {
	// --- nodes ---

	// GetNode returns the node or (nil, nil) when it does not exist.
	GetNode(ctx context.Context, id string) (*Node, error)
	InsertNode(ctx context.Context, n *Node) error
	UpdateNode(ctx context.Context, n *Node) error

	// ListChildren returns the active children of a node, ordered by
	// creation. This is the parent-to-children index for tree walks.
	ListChildren(ctx context.Context, parentID string) ([]*Node, error)

	// CountActiveChildren counts active children (sub-seller cap checks).
	CountActiveChildren(ctx context.Context, parentID string) (int, error)

	// ListEventRoots returns active root nodes for an event.
	ListEventRoots(ctx context.Context, organizerID, eventID string) ([]*Node, error)

	// ListTemplateRoots returns the organizer's active global template
	// roots (EventID == "").
	ListTemplateRoots(ctx context.Context, organizerID string) ([]*Node, error)

	// ReferralCodeExists reports whether an active node holds the code.
	ReferralCodeExists(ctx context.Context, code string) (bool, error)

	// FindByReferralCode returns the active node holding the code, or
	// (nil, nil).
	FindByReferralCode(ctx context.Context, code string) (*Node, error)

	// --- transfers ---

	GetTransfer(ctx context.Context, id string) (*Transfer, error)
	InsertTransfer(ctx context.Context, t *Transfer) error
	UpdateTransfer(ctx context.Context, t *Transfer) error

	// ListPendingByNode returns PENDING transfers where the node is sender
	// or recipient, oldest first.
	ListPendingByNode(ctx context.Context, nodeID string) ([]*Transfer, error)

	// SumPendingOutgoing totals the quantities of the sender's PENDING
	// outgoing transfers, excluding the given transfer ID ("" excludes
	// nothing). Used for available-balance computation.
	SumPendingOutgoing(ctx context.Context, nodeID, excludeTransferID string) (int, error)

	// ListExpiredPending returns PENDING transfers with ExpiresAt < now.
	ListExpiredPending(ctx context.Context, now time.Time) ([]*Transfer, error)

	// --- commission ledger (append-only) ---

	// AppendCommission persists a record. Returns
	// ErrDuplicateCommissionRecord when (OrderID, NodeID) already exists.
	AppendCommission(ctx context.Context, rec *CommissionRecord) error

	// ListCommissionsByNode returns a node's records, oldest first.
	ListCommissionsByNode(ctx context.Context, nodeID string) ([]*CommissionRecord, error)

	// --- clone runs ---

	// CloneRunExists reports whether a template root was already cloned
	// into an event.
	CloneRunExists(ctx context.Context, eventID, templateRootID string) (bool, error)

	// RecordCloneRun marks a template root as cloned into an event.
	RecordCloneRun(ctx context.Context, eventID, templateRootID string, at time.Time) error
}

// TxStore extends Store with the atomic unit every mutation runs in.
type TxStore interface {
	Store

	// WithTx executes fn within a serialized transaction.
	WithTx(ctx context.Context, fn func(Store) error) error
}
