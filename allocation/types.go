/*
Package allocation manages the staff / sub-seller tree and the ticket
budgets delegated through it.

PURPOSE:
  An organizer delegates a budget of sellable tickets down a tree of
  allocation nodes (staff, sub-sellers). This package owns:
  - the tree itself: creation, depth bound, referral codes (node.go)
  - cloning reusable template subtrees into new events (clone.go)
  - the peer-to-peer budget transfer saga (transfer.go)
  - the commission ledger and settlement math (commission.go)

KEY CONCEPTS IN THIS FILE (types.go):
  - Node: one position in the tree, holding a ticket budget
  - Transfer: a time-bounded, request/accept movement of budget
  - CommissionRecord: immutable fact of an attributed sale
  - Actor: the resolved identity acting on a transfer

TREE SHAPE:
  Nodes form a forest keyed by parent pointers plus a parent-to-children
  index in the store. Event-scoped trees hang off the organizer; template
  nodes (EventID == "") form a parallel forest cloned per new event.
  Tree walks are iterative breadth-first traversals, never recursion over
  embedded child slices.

DESIGN PRINCIPLES:
  1. Budgets and sold counts are mutated only through the services here,
     inside a store transaction.
  2. Commission money uses decimal.Decimal; never float.
  3. Commission records are append-only; corrections would be new records.

SEE ALSO:
  - store.go: persistence contract
  - errors.go: failure taxonomy
*/
package allocation

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxDepth bounds the hierarchy: the organizer's direct nodes are level 1.
const MaxDepth = 5

// TransferTTL is how long a transfer request stays acceptable.
const TransferTTL = 48 * time.Hour

// CommissionType selects how an attributed sale earns commission.
type CommissionType string

const (
	CommissionPercentage CommissionType = "PERCENTAGE"
	CommissionFixed      CommissionType = "FIXED"
)

// PaymentMethod of an attributed sale. CASH sales are collected by the
// seller at the point of sale and enter the settlement balance.
type PaymentMethod string

const (
	PaymentOnline PaymentMethod = "ONLINE"
	PaymentCash   PaymentMethod = "CASH"
)

// Node is one staff / sub-seller position. EventID == "" marks a global
// template node not yet bound to any event.
type Node struct {
	ID          string
	EventID     string
	OrganizerID string

	// OwnerUserID is the staff member occupying this position. Identity
	// checks on transfers compare against this.
	OwnerUserID string

	// ParentID is empty for roots owned directly by the organizer.
	ParentID string

	Name string
	Role string

	// AllocatedTickets is the sellable budget. Mutated by transfers and
	// organizer top-ups only; never below zero.
	AllocatedTickets int

	// SoldTickets counts attributed sales. Monotonic non-decreasing.
	SoldTickets int

	CommissionType  CommissionType
	CommissionValue decimal.Decimal

	// Commission split offered to children. When both are set their sum
	// must not exceed 100.
	ParentCommissionPercent    decimal.Decimal
	SubSellerCommissionPercent decimal.Decimal

	// CommissionEarned and CashCollected feed settlement.
	CommissionEarned decimal.Decimal
	CashCollected    decimal.Decimal

	// HierarchyLevel: roots are 1, +1 per generation, capped at MaxDepth.
	HierarchyLevel int

	CanAssignSubSellers   bool
	MaxSubSellers         *int
	AutoAssignToNewEvents bool

	// ReferralCode is unique among active nodes.
	ReferralCode string

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsTemplate reports whether the node belongs to the reusable global
// forest rather than a specific event.
func (n *Node) IsTemplate() bool { return n.EventID == "" }

// TransferStatus is the saga state. Every status except PENDING is
// terminal; a transfer transitions exactly once.
type TransferStatus string

const (
	TransferPending     TransferStatus = "PENDING"
	TransferAccepted    TransferStatus = "ACCEPTED"
	TransferRejected    TransferStatus = "REJECTED"
	TransferCancelled   TransferStatus = "CANCELLED"
	TransferAutoExpired TransferStatus = "AUTO_EXPIRED"
)

// Terminal reports whether the status permits no further transitions.
func (s TransferStatus) Terminal() bool { return s != TransferPending }

// Transfer is a proposed movement of budget between two nodes of the same
// event. Balance snapshots make the movement auditable: for any ACCEPTED
// transfer, FromBefore - Quantity == FromAfter and ToBefore + Quantity ==
// ToAfter; the sum of both balances is unchanged.
type Transfer struct {
	ID         string
	EventID    string
	FromNodeID string
	ToNodeID   string
	Quantity   int

	Status          TransferStatus
	RejectionReason string

	RequestedAt time.Time
	ExpiresAt   time.Time
	RespondedAt *time.Time

	FromBalanceBefore int
	ToBalanceBefore   int
	FromBalanceAfter  *int
	ToBalanceAfter    *int
}

// CommissionRecord is an immutable fact: order O, sold through node N,
// earned commission C, for Q tickets, via method M. Append-only.
type CommissionRecord struct {
	ID             string
	OrderID        string
	NodeID         string
	EventID        string
	Quantity       int
	UnitPriceCents int64
	Commission     decimal.Decimal
	PaymentMethod  PaymentMethod
	RecordedAt     time.Time
}

// Actor is the resolved identity of a caller, supplied by the external
// auth collaborator. This package only compares it against node ownership.
type Actor struct {
	UserID  string
	IsAdmin bool
}

// owns reports whether the actor may act for the given node.
func (a Actor) owns(n *Node) bool {
	return a.IsAdmin || (a.UserID != "" && a.UserID == n.OwnerUserID)
}
