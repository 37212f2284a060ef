/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Ticket prices travel as integer cents; commission amounts travel as
  decimal strings to avoid float rounding on the wire.

VALIDATION:
  Validation is done in handlers and the domain layer, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/stepperslife/ticket-engine/allocation"
	"github.com/stepperslife/ticket-engine/inventory"
)

// =============================================================================
// TIERS
// =============================================================================

// TierDTO represents a ticket tier in API responses.
type TierDTO struct {
	ID          string `json:"id"`
	EventID     string `json:"event_id"`
	Name        string `json:"name"`
	PriceCents  int64  `json:"price_cents"`
	Capacity    int    `json:"capacity"`
	Sold        int    `json:"sold"`
	Available   int    `json:"available"`
	Version     int64  `json:"version"`
	Active      bool   `json:"active"`
	FirstSaleAt string `json:"first_sale_at,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

func toTierDTO(t *inventory.Tier) TierDTO {
	dto := TierDTO{
		ID:         t.ID,
		EventID:    t.EventID,
		Name:       t.Name,
		PriceCents: t.PriceCents,
		Capacity:   t.Capacity,
		Sold:       t.Sold,
		Available:  t.Available(),
		Version:    t.Version,
		Active:     t.Active,
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
	}
	if t.FirstSaleAt != nil {
		dto.FirstSaleAt = t.FirstSaleAt.Format(time.RFC3339)
	}
	return dto
}

// CreateTierRequest is the request to create a tier.
type CreateTierRequest struct {
	EventID    string `json:"event_id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Capacity   int    `json:"capacity"`
}

// SaleRequest commits or releases a quantity against a tier.
type SaleRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateCapacityRequest changes a tier's capacity.
type UpdateCapacityRequest struct {
	Capacity int `json:"capacity"`
}

// =============================================================================
// NODES
// =============================================================================

// NodeDTO represents an allocation node in API responses.
type NodeDTO struct {
	ID                         string `json:"id"`
	EventID                    string `json:"event_id,omitempty"`
	OrganizerID                string `json:"organizer_id"`
	OwnerUserID                string `json:"owner_user_id,omitempty"`
	ParentID                   string `json:"parent_id,omitempty"`
	Name                       string `json:"name"`
	Role                       string `json:"role,omitempty"`
	AllocatedTickets           int    `json:"allocated_tickets"`
	SoldTickets                int    `json:"sold_tickets"`
	CommissionType             string `json:"commission_type"`
	CommissionValue            string `json:"commission_value"`
	ParentCommissionPercent    string `json:"parent_commission_percent,omitempty"`
	SubSellerCommissionPercent string `json:"sub_seller_commission_percent,omitempty"`
	CommissionEarned           string `json:"commission_earned"`
	CashCollected              string `json:"cash_collected"`
	HierarchyLevel             int    `json:"hierarchy_level"`
	CanAssignSubSellers        bool   `json:"can_assign_sub_sellers"`
	MaxSubSellers              *int   `json:"max_sub_sellers,omitempty"`
	AutoAssignToNewEvents      bool   `json:"auto_assign_to_new_events"`
	ReferralCode               string `json:"referral_code"`
	Active                     bool   `json:"active"`
	CreatedAt                  string `json:"created_at,omitempty"`
}

func toNodeDTO(n *allocation.Node) NodeDTO {
	return NodeDTO{
		ID:                         n.ID,
		EventID:                    n.EventID,
		OrganizerID:                n.OrganizerID,
		OwnerUserID:                n.OwnerUserID,
		ParentID:                   n.ParentID,
		Name:                       n.Name,
		Role:                       n.Role,
		AllocatedTickets:           n.AllocatedTickets,
		SoldTickets:                n.SoldTickets,
		CommissionType:             string(n.CommissionType),
		CommissionValue:            n.CommissionValue.String(),
		ParentCommissionPercent:    n.ParentCommissionPercent.String(),
		SubSellerCommissionPercent: n.SubSellerCommissionPercent.String(),
		CommissionEarned:           n.CommissionEarned.String(),
		CashCollected:              n.CashCollected.String(),
		HierarchyLevel:             n.HierarchyLevel,
		CanAssignSubSellers:        n.CanAssignSubSellers,
		MaxSubSellers:              n.MaxSubSellers,
		AutoAssignToNewEvents:      n.AutoAssignToNewEvents,
		ReferralCode:               n.ReferralCode,
		Active:                     n.Active,
		CreatedAt:                  n.CreatedAt.Format(time.RFC3339),
	}
}

// CreateNodeRequest is the request to create a node. Omit event_id for a
// reusable template node.
type CreateNodeRequest struct {
	EventID                    string `json:"event_id,omitempty"`
	OrganizerID                string `json:"organizer_id"`
	OwnerUserID                string `json:"owner_user_id"`
	ParentID                   string `json:"parent_id,omitempty"`
	Name                       string `json:"name"`
	Role                       string `json:"role,omitempty"`
	CommissionType             string `json:"commission_type"`
	CommissionValue            string `json:"commission_value"`
	ParentCommissionPercent    string `json:"parent_commission_percent,omitempty"`
	SubSellerCommissionPercent string `json:"sub_seller_commission_percent,omitempty"`
	CanAssignSubSellers        bool   `json:"can_assign_sub_sellers,omitempty"`
	MaxSubSellers              *int   `json:"max_sub_sellers,omitempty"`
	AutoAssignToNewEvents      bool   `json:"auto_assign_to_new_events,omitempty"`
}

// TopUpRequest adjusts a node's budget by delta (negative = claw-back).
type TopUpRequest struct {
	Delta int `json:"delta"`
}

// AutoAssignRequest toggles a template node's auto-assignment.
type AutoAssignRequest struct {
	AutoAssign bool `json:"auto_assign"`
}

// TreeNodeDTO is one entry of a hierarchy listing.
type TreeNodeDTO struct {
	Node     NodeDTO       `json:"node"`
	Children []TreeNodeDTO `json:"children"`
}

func toTreeDTO(nodes []*allocation.TreeNode) []TreeNodeDTO {
	out := make([]TreeNodeDTO, len(nodes))
	for i, tn := range nodes {
		out[i] = TreeNodeDTO{
			Node:     toNodeDTO(tn.Node),
			Children: toTreeDTO(tn.Children),
		}
	}
	return out
}

// CloneTemplatesRequest instantiates an organizer's templates into an event.
type CloneTemplatesRequest struct {
	OrganizerID string `json:"organizer_id"`
	EventID     string `json:"event_id"`
}

// =============================================================================
// TRANSFERS
// =============================================================================

// TransferDTO represents a transfer in API responses.
type TransferDTO struct {
	ID                string `json:"id"`
	EventID           string `json:"event_id"`
	FromNodeID        string `json:"from_node_id"`
	ToNodeID          string `json:"to_node_id"`
	Quantity          int    `json:"quantity"`
	Status            string `json:"status"`
	RejectionReason   string `json:"rejection_reason,omitempty"`
	RequestedAt       string `json:"requested_at"`
	ExpiresAt         string `json:"expires_at"`
	RespondedAt       string `json:"responded_at,omitempty"`
	FromBalanceBefore int    `json:"from_balance_before"`
	ToBalanceBefore   int    `json:"to_balance_before"`
	FromBalanceAfter  *int   `json:"from_balance_after,omitempty"`
	ToBalanceAfter    *int   `json:"to_balance_after,omitempty"`
}

func toTransferDTO(t *allocation.Transfer) TransferDTO {
	dto := TransferDTO{
		ID:                t.ID,
		EventID:           t.EventID,
		FromNodeID:        t.FromNodeID,
		ToNodeID:          t.ToNodeID,
		Quantity:          t.Quantity,
		Status:            string(t.Status),
		RejectionReason:   t.RejectionReason,
		RequestedAt:       t.RequestedAt.Format(time.RFC3339),
		ExpiresAt:         t.ExpiresAt.Format(time.RFC3339),
		FromBalanceBefore: t.FromBalanceBefore,
		ToBalanceBefore:   t.ToBalanceBefore,
		FromBalanceAfter:  t.FromBalanceAfter,
		ToBalanceAfter:    t.ToBalanceAfter,
	}
	if t.RespondedAt != nil {
		dto.RespondedAt = t.RespondedAt.Format(time.RFC3339)
	}
	return dto
}

// RequestTransferRequest creates a PENDING transfer between two nodes.
type RequestTransferRequest struct {
	FromNodeID string `json:"from_node_id"`
	ToNodeID   string `json:"to_node_id"`
	Quantity   int    `json:"quantity"`
}

// RejectTransferRequest carries the recipient's reason.
type RejectTransferRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SweepResponse reports how many stale transfers were expired.
type SweepResponse struct {
	Expired int `json:"expired"`
}

// =============================================================================
// COMMISSIONS
// =============================================================================

// CommissionRecordDTO represents one recorded sale fact.
type CommissionRecordDTO struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	NodeID         string `json:"node_id"`
	EventID        string `json:"event_id,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Commission     string `json:"commission"`
	PaymentMethod  string `json:"payment_method"`
	RecordedAt     string `json:"recorded_at"`
}

func toCommissionDTO(rec *allocation.CommissionRecord) CommissionRecordDTO {
	return CommissionRecordDTO{
		ID:             rec.ID,
		OrderID:        rec.OrderID,
		NodeID:         rec.NodeID,
		EventID:        rec.EventID,
		Quantity:       rec.Quantity,
		UnitPriceCents: rec.UnitPriceCents,
		Commission:     rec.Commission.String(),
		PaymentMethod:  string(rec.PaymentMethod),
		RecordedAt:     rec.RecordedAt.Format(time.RFC3339),
	}
}

// RecordSaleRequest records a commission-earning sale against a node.
type RecordSaleRequest struct {
	OrderID        string `json:"order_id"`
	NodeID         string `json:"node_id"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	PaymentMethod  string `json:"payment_method"`
}

// SettlementDTO is the net cash-vs-commission position of a node.
// Positive net: organizer owes the node. Negative: node owes organizer.
type SettlementDTO struct {
	NodeID           string `json:"node_id"`
	CommissionEarned string `json:"commission_earned"`
	CashCollected    string `json:"cash_collected"`
	Net              string `json:"net"`
	SoldTickets      int    `json:"sold_tickets"`
	RecordCount      int    `json:"record_count"`
}

func toSettlementDTO(sv *allocation.SettlementView) SettlementDTO {
	return SettlementDTO{
		NodeID:           sv.NodeID,
		CommissionEarned: sv.CommissionEarned.String(),
		CashCollected:    sv.CashCollected.String(),
		Net:              sv.Net.String(),
		SoldTickets:      sv.SoldTickets,
		RecordCount:      sv.RecordCount,
	}
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
