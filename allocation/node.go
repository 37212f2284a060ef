/*
node.go - Allocation node lifecycle and tree queries

PURPOSE:
  Creating nodes (with depth, commission-split and sub-seller-cap
  validation), granting budget top-ups, and walking the tree.

REFERRAL CODES:
  Each active node carries a globally unique referral code used to
  attribute checkout sales. Codes are an uppercase alphanumeric prefix
  derived from the node's name plus a random suffix; on collision with an
  existing active code the suffix is regenerated, aborting after 10
  attempts.

HIERARCHY:
  Levels start at 1 for organizer-owned roots and grow by one per
  generation, capped at MaxDepth. HierarchyTree is an iterative
  breadth-first walk over the parent-to-children index.
*/
package allocation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const referralCodeAttempts = 10

// NodeService owns node creation and budget top-ups.
type NodeService struct {
	Store TxStore
	Now   func() time.Time
}

func NewNodeService(store TxStore) *NodeService {
	return &NodeService{Store: store, Now: time.Now}
}

// CreateNodeParams carries everything needed to place a node in the tree.
// Leave EventID empty to create a global template node.
type CreateNodeParams struct {
	EventID     string
	OrganizerID string
	OwnerUserID string
	ParentID    string
	Name        string
	Role        string

	CommissionType  CommissionType
	CommissionValue decimal.Decimal

	ParentCommissionPercent    decimal.Decimal
	SubSellerCommissionPercent decimal.Decimal

	CanAssignSubSellers   bool
	MaxSubSellers         *int
	AutoAssignToNewEvents bool
}

// CreateNode places a new node in the tree. The node starts with a zero
// budget; tickets arrive later via TopUp or an accepted transfer.
func (ns *NodeService) CreateNode(ctx context.Context, p CreateNodeParams) (*Node, error) {
	var created *Node
	err := ns.Store.WithTx(ctx, func(s Store) error {
		level := 1
		if p.ParentID != "" {
			parent, err := s.GetNode(ctx, p.ParentID)
			if err != nil {
				return err
			}
			if parent == nil {
				return fmt.Errorf("parent: %w", ErrNodeNotFound)
			}
			if parent.HierarchyLevel+1 > MaxDepth {
				return fmt.Errorf("%w: parent at level %d", ErrHierarchyDepthExceeded, parent.HierarchyLevel)
			}
			if parent.MaxSubSellers != nil {
				n, err := s.CountActiveChildren(ctx, parent.ID)
				if err != nil {
					return err
				}
				if n >= *parent.MaxSubSellers {
					return fmt.Errorf("%w: cap %d", ErrMaxSubSellersReached, *parent.MaxSubSellers)
				}
			}
			level = parent.HierarchyLevel + 1
		}

		if err := validateCommissionSplit(p.ParentCommissionPercent, p.SubSellerCommissionPercent); err != nil {
			return err
		}

		code, err := generateReferralCode(ctx, s, p.Name)
		if err != nil {
			return err
		}

		now := ns.Now().UTC()
		node := &Node{
			ID:                         uuid.NewString(),
			EventID:                    p.EventID,
			OrganizerID:                p.OrganizerID,
			OwnerUserID:                p.OwnerUserID,
			ParentID:                   p.ParentID,
			Name:                       p.Name,
			Role:                       p.Role,
			AllocatedTickets:           0,
			SoldTickets:                0,
			CommissionType:             p.CommissionType,
			CommissionValue:            p.CommissionValue,
			ParentCommissionPercent:    p.ParentCommissionPercent,
			SubSellerCommissionPercent: p.SubSellerCommissionPercent,
			CommissionEarned:           decimal.Zero,
			CashCollected:              decimal.Zero,
			HierarchyLevel:             level,
			CanAssignSubSellers:        p.CanAssignSubSellers,
			MaxSubSellers:              p.MaxSubSellers,
			AutoAssignToNewEvents:      p.AutoAssignToNewEvents,
			ReferralCode:               code,
			Active:                     true,
			CreatedAt:                  now,
			UpdatedAt:                  now,
		}
		if err := s.InsertNode(ctx, node); err != nil {
			return err
		}
		created = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TopUp adjusts a node's budget by delta (organizer grant or claw-back).
// The budget never goes below zero; a claw-back larger than the remaining
// budget floors it at zero.
func (ns *NodeService) TopUp(ctx context.Context, nodeID string, delta int) (*Node, error) {
	var updated *Node
	err := ns.Store.WithTx(ctx, func(s Store) error {
		node, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return ErrNodeNotFound
		}
		node.AllocatedTickets += delta
		if node.AllocatedTickets < 0 {
			node.AllocatedTickets = 0
		}
		node.UpdatedAt = ns.Now().UTC()
		if err := s.UpdateNode(ctx, node); err != nil {
			return err
		}
		updated = node
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// SetAutoAssign toggles whether a template node is cloned into new events.
func (ns *NodeService) SetAutoAssign(ctx context.Context, nodeID string, auto bool) error {
	return ns.Store.WithTx(ctx, func(s Store) error {
		node, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return ErrNodeNotFound
		}
		node.AutoAssignToNewEvents = auto
		node.UpdatedAt = ns.Now().UTC()
		return s.UpdateNode(ctx, node)
	})
}

// Deactivate soft-deletes a node. Nodes with sales are never hard-deleted;
// deactivation frees the referral code for reuse.
func (ns *NodeService) Deactivate(ctx context.Context, nodeID string) error {
	return ns.Store.WithTx(ctx, func(s Store) error {
		node, err := s.GetNode(ctx, nodeID)
		if err != nil {
			return err
		}
		if node == nil {
			return ErrNodeNotFound
		}
		node.Active = false
		node.UpdatedAt = ns.Now().UTC()
		return s.UpdateNode(ctx, node)
	})
}

// GetNode returns a node by ID.
func (ns *NodeService) GetNode(ctx context.Context, nodeID string) (*Node, error) {
	node, err := ns.Store.GetNode(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// FindByReferralCode resolves a checkout referral code to its node.
func (ns *NodeService) FindByReferralCode(ctx context.Context, code string) (*Node, error) {
	node, err := ns.Store.FindByReferralCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, ErrNodeNotFound
	}
	return node, nil
}

// TreeNode is one entry of a hierarchy listing, with its children.
type TreeNode struct {
	Node     *Node
	Children []*TreeNode
}

// HierarchyTree returns the event's allocation forest, roots first.
// Breadth-first over the parent-to-children index.
func (ns *NodeService) HierarchyTree(ctx context.Context, organizerID, eventID string) ([]*TreeNode, error) {
	roots, err := ns.Store.ListEventRoots(ctx, organizerID, eventID)
	if err != nil {
		return nil, err
	}

	var forest []*TreeNode
	for _, root := range roots {
		tn := &TreeNode{Node: root}
		forest = append(forest, tn)

		queue := []*TreeNode{tn}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			children, err := ns.Store.ListChildren(ctx, cur.Node.ID)
			if err != nil {
				return nil, err
			}
			for _, c := range children {
				child := &TreeNode{Node: c}
				cur.Children = append(cur.Children, child)
				queue = append(queue, child)
			}
		}
	}
	return forest, nil
}

// validateCommissionSplit enforces parent% + sub% <= 100 when either set.
func validateCommissionSplit(parentPct, subPct decimal.Decimal) error {
	if parentPct.IsZero() && subPct.IsZero() {
		return nil
	}
	if parentPct.Add(subPct).GreaterThan(decimal.NewFromInt(100)) {
		return fmt.Errorf("%w: %s + %s", ErrInvalidCommissionSplit, parentPct, subPct)
	}
	return nil
}

// generateReferralCode builds PREFIX-SUFFIX from the node name and random
// hex. Regenerates the suffix on collision with an active code, up to
// referralCodeAttempts times.
func generateReferralCode(ctx context.Context, s Store, name string) (string, error) {
	prefix := codePrefix(name)
	for i := 0; i < referralCodeAttempts; i++ {
		suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		code := prefix + "-" + suffix
		exists, err := s.ReferralCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", ErrReferralCodeCollisionExhausted
}

// codePrefix keeps the first 4 alphanumerics of the name, uppercased.
func codePrefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() >= 4 {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "NODE"
	}
	return b.String()
}
