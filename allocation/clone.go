/*
clone.go - Template hierarchy cloning

PURPOSE:
  When a new event is created, the organizer's reusable template subtrees
  (global nodes with AutoAssignToNewEvents) are instantiated into the
  event: same shape, same roles and commission config, fresh referral
  codes, all counters zeroed.

IDEMPOTENCY:
  Each (event, template root) pair is cloned at most once. A clone-run row
  is recorded in the same transaction as the clones, so re-running for the
  same event skips templates that already landed.

TRAVERSAL:
  Iterative breadth-first over the parent-to-children index. Depth is
  bounded by MaxDepth by construction since templates respect the same
  bound. Parent pointers are rewired to the freshly created clones so the
  new subtree mirrors the template exactly.
*/
package allocation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Cloner instantiates template subtrees into events.
type Cloner struct {
	Store TxStore
	Now   func() time.Time
}

func NewCloner(store TxStore) *Cloner {
	return &Cloner{Store: store, Now: time.Now}
}

// CloneTemplateSubtree clones every active, auto-assigning template root
// of the organizer into the event. Returns the created nodes. Running it
// twice for the same event does not double-clone.
func (c *Cloner) CloneTemplateSubtree(ctx context.Context, organizerID, eventID string) ([]*Node, error) {
	var created []*Node
	err := c.Store.WithTx(ctx, func(s Store) error {
		roots, err := s.ListTemplateRoots(ctx, organizerID)
		if err != nil {
			return err
		}

		now := c.Now().UTC()
		for _, root := range roots {
			if !root.AutoAssignToNewEvents || !root.Active {
				continue
			}

			done, err := s.CloneRunExists(ctx, eventID, root.ID)
			if err != nil {
				return err
			}
			if done {
				continue
			}

			nodes, err := cloneSubtree(ctx, s, root, eventID, now)
			if err != nil {
				return err
			}
			created = append(created, nodes...)

			if err := s.RecordCloneRun(ctx, eventID, root.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// cloneSubtree walks one template root breadth-first, creating an
// event-scoped copy of every active node it reaches.
func cloneSubtree(ctx context.Context, s Store, root *Node, eventID string, now time.Time) ([]*Node, error) {
	type item struct {
		template    *Node
		cloneParent string // ID of the already-created clone of the template's parent
	}

	var created []*Node
	queue := []item{{template: root, cloneParent: ""}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		clone, err := cloneNode(ctx, s, cur.template, eventID, cur.cloneParent, now)
		if err != nil {
			return nil, err
		}
		if err := s.InsertNode(ctx, clone); err != nil {
			return nil, err
		}
		created = append(created, clone)

		children, err := s.ListChildren(ctx, cur.template.ID)
		if err != nil {
			return nil, err
		}
		for _, child := range children {
			queue = append(queue, item{template: child, cloneParent: clone.ID})
		}
	}
	return created, nil
}

// cloneNode copies role, commission config and assignment flags verbatim,
// zeroes every counter, and draws a fresh referral code.
func cloneNode(ctx context.Context, s Store, tpl *Node, eventID, parentID string, now time.Time) (*Node, error) {
	code, err := generateReferralCode(ctx, s, tpl.Name)
	if err != nil {
		return nil, err
	}
	return &Node{
		ID:                         uuid.NewString(),
		EventID:                    eventID,
		OrganizerID:                tpl.OrganizerID,
		OwnerUserID:                tpl.OwnerUserID,
		ParentID:                   parentID,
		Name:                       tpl.Name,
		Role:                       tpl.Role,
		AllocatedTickets:           0,
		SoldTickets:                0,
		CommissionType:             tpl.CommissionType,
		CommissionValue:            tpl.CommissionValue,
		ParentCommissionPercent:    tpl.ParentCommissionPercent,
		SubSellerCommissionPercent: tpl.SubSellerCommissionPercent,
		CommissionEarned:           decimal.Zero,
		CashCollected:              decimal.Zero,
		HierarchyLevel:             tpl.HierarchyLevel,
		CanAssignSubSellers:        tpl.CanAssignSubSellers,
		MaxSubSellers:              tpl.MaxSubSellers,
		AutoAssignToNewEvents:      tpl.AutoAssignToNewEvents,
		ReferralCode:               code,
		Active:                     true,
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}, nil
}
