/*
handlers.go - HTTP API handlers for the ticket allocation engine

PURPOSE:
  Exposes the inventory ledger, allocation tree, transfer workflow and
  commission ledger via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Tiers:
    POST   /api/tiers                    Create tier
    GET    /api/tiers/{id}               Get tier
    GET    /api/tiers?event_id=...       List tiers for an event
    POST   /api/tiers/{id}/sales         Commit a sale
    POST   /api/tiers/{id}/releases      Release (refund/cancel)
    PUT    /api/tiers/{id}/capacity      Change capacity
    DELETE /api/tiers/{id}               Deactivate tier

  Nodes:
    POST   /api/nodes                    Create node (or template)
    GET    /api/nodes/{id}               Get node
    POST   /api/nodes/{id}/topup         Grant or claw back budget
    PUT    /api/nodes/{id}/auto-assign   Toggle template auto-assignment
    DELETE /api/nodes/{id}               Deactivate node
    GET    /api/referral/{code}          Resolve referral code
    GET    /api/hierarchy                Event hierarchy tree
    POST   /api/hierarchy/clone          Clone templates into an event

  Transfers:
    POST   /api/transfers                Request transfer
    GET    /api/transfers/{id}           Get transfer
    POST   /api/transfers/{id}/accept    Accept (recipient)
    POST   /api/transfers/{id}/reject    Reject (recipient)
    POST   /api/transfers/{id}/cancel    Cancel (sender)
    GET    /api/nodes/{id}/transfers/pending  Pending transfers for node

  Commissions:
    POST   /api/commissions              Record attributed sale
    GET    /api/nodes/{id}/commissions   Commission history
    GET    /api/nodes/{id}/settlement    Net settlement position

  Admin:
    POST   /api/admin/transfers/sweep    Expire stale transfers now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 403: Caller does not own the node
  - 404: Resource not found
  - 409: Conflict (oversell, insufficient allocation, duplicates,
         already-resolved transfers)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stepperslife/ticket-engine/allocation"
	"github.com/stepperslife/ticket-engine/inventory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Ledger      *inventory.Ledger
	Nodes       *allocation.NodeService
	Transfers   *allocation.TransferService
	Commissions *allocation.CommissionService
	Cloner      *allocation.Cloner
}

// NewHandler wires the handler from the two store facades.
func NewHandler(inv inventory.TxStore, alloc allocation.TxStore) *Handler {
	return &Handler{
		Ledger:      inventory.NewLedger(inv),
		Nodes:       allocation.NewNodeService(alloc),
		Transfers:   allocation.NewTransferService(alloc),
		Commissions: allocation.NewCommissionService(alloc),
		Cloner:      allocation.NewCloner(alloc),
	}
}

// =============================================================================
// TIER HANDLERS
// =============================================================================

// CreateTier creates a ticket tier.
func (h *Handler) CreateTier(w http.ResponseWriter, r *http.Request) {
	var req CreateTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EventID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "event_id and name are required", nil)
		return
	}
	if req.Capacity < 0 {
		writeError(w, http.StatusBadRequest, "capacity must be non-negative", nil)
		return
	}

	tier, err := h.Ledger.CreateTier(r.Context(), req.EventID, req.Name, req.PriceCents, req.Capacity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTierDTO(tier))
}

// GetTier returns a single tier.
func (h *Handler) GetTier(w http.ResponseWriter, r *http.Request) {
	tier, err := h.Ledger.GetTier(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(tier))
}

// ListTiers returns the tiers of an event.
func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("event_id")
	if eventID == "" {
		writeError(w, http.StatusBadRequest, "event_id query parameter is required", nil)
		return
	}
	tiers, err := h.Ledger.ListTiers(r.Context(), eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TierDTO, len(tiers))
	for i, t := range tiers {
		dtos[i] = toTierDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CommitSale records qty sold tickets against a tier.
func (h *Handler) CommitSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tier, err := h.Ledger.CommitSale(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(tier))
}

// ReleaseSale returns qty tickets to a tier (refund or cancellation).
func (h *Handler) ReleaseSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tier, err := h.Ledger.ReleaseSale(r.Context(), chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(tier))
}

// UpdateCapacity changes a tier's capacity. Reductions below sold fail.
func (h *Handler) UpdateCapacity(w http.ResponseWriter, r *http.Request) {
	var req UpdateCapacityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	tier, err := h.Ledger.UpdateCapacity(r.Context(), chi.URLParam(r, "id"), req.Capacity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTierDTO(tier))
}

// DeactivateTier soft-deletes a tier.
func (h *Handler) DeactivateTier(w http.ResponseWriter, r *http.Request) {
	if err := h.Ledger.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// NODE HANDLERS
// =============================================================================

// CreateNode places a new node in the allocation tree.
func (h *Handler) CreateNode(w http.ResponseWriter, r *http.Request) {
	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrganizerID == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "organizer_id and name are required", nil)
		return
	}

	commissionValue, err := parseDecimal(req.CommissionValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid commission_value", err)
		return
	}
	parentPct, err := parseDecimal(req.ParentCommissionPercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid parent_commission_percent", err)
		return
	}
	subPct, err := parseDecimal(req.SubSellerCommissionPercent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid sub_seller_commission_percent", err)
		return
	}

	node, err := h.Nodes.CreateNode(r.Context(), allocation.CreateNodeParams{
		EventID:                    req.EventID,
		OrganizerID:                req.OrganizerID,
		OwnerUserID:                req.OwnerUserID,
		ParentID:                   req.ParentID,
		Name:                       req.Name,
		Role:                       req.Role,
		CommissionType:             allocation.CommissionType(req.CommissionType),
		CommissionValue:            commissionValue,
		ParentCommissionPercent:    parentPct,
		SubSellerCommissionPercent: subPct,
		CanAssignSubSellers:        req.CanAssignSubSellers,
		MaxSubSellers:              req.MaxSubSellers,
		AutoAssignToNewEvents:      req.AutoAssignToNewEvents,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toNodeDTO(node))
}

// GetNode returns a single node.
func (h *Handler) GetNode(w http.ResponseWriter, r *http.Request) {
	node, err := h.Nodes.GetNode(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeDTO(node))
}

// TopUpNode grants (positive delta) or claws back (negative) budget.
func (h *Handler) TopUpNode(w http.ResponseWriter, r *http.Request) {
	var req TopUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	node, err := h.Nodes.TopUp(r.Context(), chi.URLParam(r, "id"), req.Delta)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeDTO(node))
}

// SetAutoAssign toggles a template node's auto-assignment flag.
func (h *Handler) SetAutoAssign(w http.ResponseWriter, r *http.Request) {
	var req AutoAssignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := h.Nodes.SetAutoAssign(r.Context(), chi.URLParam(r, "id"), req.AutoAssign); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeactivateNode soft-deletes a node, freeing its referral code.
func (h *Handler) DeactivateNode(w http.ResponseWriter, r *http.Request) {
	if err := h.Nodes.Deactivate(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResolveReferralCode maps a checkout referral code to its node.
func (h *Handler) ResolveReferralCode(w http.ResponseWriter, r *http.Request) {
	node, err := h.Nodes.FindByReferralCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toNodeDTO(node))
}

// GetHierarchy returns the event's allocation forest.
func (h *Handler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	organizerID := r.URL.Query().Get("organizer_id")
	eventID := r.URL.Query().Get("event_id")
	if organizerID == "" || eventID == "" {
		writeError(w, http.StatusBadRequest, "organizer_id and event_id query parameters are required", nil)
		return
	}
	forest, err := h.Nodes.HierarchyTree(r.Context(), organizerID, eventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTreeDTO(forest))
}

// CloneTemplates instantiates the organizer's auto-assign templates into
// an event. Safe to call more than once for the same event.
func (h *Handler) CloneTemplates(w http.ResponseWriter, r *http.Request) {
	var req CloneTemplatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrganizerID == "" || req.EventID == "" {
		writeError(w, http.StatusBadRequest, "organizer_id and event_id are required", nil)
		return
	}
	created, err := h.Cloner.CloneTemplateSubtree(r.Context(), req.OrganizerID, req.EventID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]NodeDTO, len(created))
	for i, n := range created {
		dtos[i] = toNodeDTO(n)
	}
	writeJSON(w, http.StatusCreated, dtos)
}

// =============================================================================
// TRANSFER HANDLERS
// =============================================================================

// RequestTransfer creates a PENDING transfer between two nodes.
func (h *Handler) RequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req RequestTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	transfer, err := h.Transfers.Request(r.Context(), ActorFromContext(r.Context()),
		req.FromNodeID, req.ToNodeID, req.Quantity)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransferDTO(transfer))
}

// GetTransfer returns a single transfer.
func (h *Handler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.Transfers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(transfer))
}

// AcceptTransfer resolves a transfer as the recipient, moving the tickets.
func (h *Handler) AcceptTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.Transfers.Accept(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(transfer))
}

// RejectTransfer resolves a transfer as the recipient without moving tickets.
func (h *Handler) RejectTransfer(w http.ResponseWriter, r *http.Request) {
	var req RejectTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	transfer, err := h.Transfers.Reject(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(transfer))
}

// CancelTransfer withdraws a transfer as the sender.
func (h *Handler) CancelTransfer(w http.ResponseWriter, r *http.Request) {
	transfer, err := h.Transfers.Cancel(r.Context(), ActorFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransferDTO(transfer))
}

// ListPendingTransfers returns a node's PENDING transfers, both directions.
func (h *Handler) ListPendingTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.Transfers.ListPending(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]TransferDTO, len(transfers))
	for i, t := range transfers {
		dtos[i] = toTransferDTO(t)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// SweepTransfers expires stale PENDING transfers immediately.
func (h *Handler) SweepTransfers(w http.ResponseWriter, r *http.Request) {
	n, err := h.Transfers.SweepExpired(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{Expired: n})
}

// =============================================================================
// COMMISSION HANDLERS
// =============================================================================

// RecordSale records an attributed sale. Retries of the same order are
// rejected with 409 and change nothing.
func (h *Handler) RecordSale(w http.ResponseWriter, r *http.Request) {
	var req RecordSaleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.OrderID == "" || req.NodeID == "" {
		writeError(w, http.StatusBadRequest, "order_id and node_id are required", nil)
		return
	}
	method := allocation.PaymentMethod(req.PaymentMethod)
	if method != allocation.PaymentOnline && method != allocation.PaymentCash {
		writeError(w, http.StatusBadRequest, "payment_method must be ONLINE or CASH", nil)
		return
	}

	rec, err := h.Commissions.RecordSale(r.Context(), req.OrderID, req.NodeID,
		req.Quantity, req.UnitPriceCents, method)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCommissionDTO(rec))
}

// ListCommissions returns a node's commission history, oldest first.
func (h *Handler) ListCommissions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Commissions.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]CommissionRecordDTO, len(records))
	for i, rec := range records {
		dtos[i] = toCommissionDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSettlement returns a node's net cash-vs-commission position.
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	view, err := h.Commissions.Settlement(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSettlementDTO(view))
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case inventory.IsNotFound(err) || allocation.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	case errors.Is(err, allocation.ErrUnauthorizedTransferAction):
		writeError(w, http.StatusForbidden, "Forbidden", err)
	case errors.Is(err, inventory.ErrCapacityExceeded),
		errors.Is(err, allocation.ErrInsufficientAllocation),
		errors.Is(err, allocation.ErrTransferAlreadyResolved),
		errors.Is(err, allocation.ErrTransferExpired),
		errors.Is(err, allocation.ErrDuplicateCommissionRecord):
		writeError(w, http.StatusConflict, "Conflict", err)
	case inventory.IsClientError(err) || allocation.IsClientError(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
