/*
Package memory provides an in-memory store implementation (tests/dev).

PURPOSE:
  Implements inventory.TxStore and allocation.TxStore over plain maps.
  A single mutex serializes every transaction, which gives WithTx exactly
  the semantics the domain layer relies on: reads and writes inside fn
  form one atomic, serialized unit.

ROLLBACK:
  WithTx snapshots the tables before running fn and restores them when fn
  returns an error. Commit is the absence of a restore.

USAGE:
  db := memory.New()
  ledger := inventory.NewLedger(db.Inventory())
  transfers := allocation.NewTransferService(db.Allocation())
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stepperslife/ticket-engine/allocation"
	"github.com/stepperslife/ticket-engine/inventory"
)

// DB is the shared in-memory database. Obtain typed store facades via
// Inventory() and Allocation().
type DB struct {
	mu sync.RWMutex

	tiers       map[string]inventory.Tier
	nodes       map[string]allocation.Node
	transfers   map[string]allocation.Transfer
	commissions []allocation.CommissionRecord
	saleKeys    map[saleKey]bool
	cloneRuns   map[cloneKey]time.Time

	// seq preserves insertion order for deterministic listings.
	seq     map[string]int64
	nextSeq int64
}

type saleKey struct{ OrderID, NodeID string }
type cloneKey struct{ EventID, TemplateRootID string }

func New() *DB {
	return &DB{
		tiers:     make(map[string]inventory.Tier),
		nodes:     make(map[string]allocation.Node),
		transfers: make(map[string]allocation.Transfer),
		saleKeys:  make(map[saleKey]bool),
		cloneRuns: make(map[cloneKey]time.Time),
		seq:       make(map[string]int64),
	}
}

// Inventory returns the tier store facade.
func (db *DB) Inventory() inventory.TxStore { return &inventoryStore{db: db} }

// Allocation returns the node/transfer/commission store facade.
func (db *DB) Allocation() allocation.TxStore { return &allocationStore{db: db} }

func (db *DB) touch(id string) {
	if _, ok := db.seq[id]; !ok {
		db.nextSeq++
		db.seq[id] = db.nextSeq
	}
}

func (db *DB) orderOf(id string) int64 { return db.seq[id] }

// =============================================================================
// INVENTORY FACADE
// =============================================================================

type inventoryStore struct {
	db *DB
}

func (s *inventoryStore) GetTier(_ context.Context, id string) (*inventory.Tier, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.getTierLocked(id), nil
}

func (s *inventoryStore) InsertTier(_ context.Context, t *inventory.Tier) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.insertTierLocked(t)
}

func (s *inventoryStore) UpdateTier(_ context.Context, t *inventory.Tier) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.updateTierLocked(t)
}

func (s *inventoryStore) ListTiersByEvent(_ context.Context, eventID string) ([]*inventory.Tier, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listTiersLocked(eventID), nil
}

// WithTx serializes against every other transaction via the DB mutex and
// rolls the tier table back if fn fails.
func (s *inventoryStore) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snapshot := copyTierTable(s.db.tiers)
	if err := fn(&inventoryTxView{db: s.db}); err != nil {
		s.db.tiers = snapshot
		return err
	}
	return nil
}

type inventoryTxView struct {
	db *DB
}

func (v *inventoryTxView) GetTier(_ context.Context, id string) (*inventory.Tier, error) {
	return v.db.getTierLocked(id), nil
}

func (v *inventoryTxView) InsertTier(_ context.Context, t *inventory.Tier) error {
	return v.db.insertTierLocked(t)
}

func (v *inventoryTxView) UpdateTier(_ context.Context, t *inventory.Tier) error {
	return v.db.updateTierLocked(t)
}

func (v *inventoryTxView) ListTiersByEvent(_ context.Context, eventID string) ([]*inventory.Tier, error) {
	return v.db.listTiersLocked(eventID), nil
}

func (db *DB) getTierLocked(id string) *inventory.Tier {
	t, ok := db.tiers[id]
	if !ok {
		return nil
	}
	cp := t
	return &cp
}

func (db *DB) insertTierLocked(t *inventory.Tier) error {
	db.tiers[t.ID] = *t
	db.touch(t.ID)
	return nil
}

func (db *DB) updateTierLocked(t *inventory.Tier) error {
	if _, ok := db.tiers[t.ID]; !ok {
		return inventory.ErrTierNotFound
	}
	db.tiers[t.ID] = *t
	return nil
}

func (db *DB) listTiersLocked(eventID string) []*inventory.Tier {
	var out []*inventory.Tier
	for _, t := range db.tiers {
		if t.EventID == eventID {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return db.orderOf(out[i].ID) < db.orderOf(out[j].ID)
	})
	return out
}

func copyTierTable(src map[string]inventory.Tier) map[string]inventory.Tier {
	dst := make(map[string]inventory.Tier, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// =============================================================================
// ALLOCATION FACADE
// =============================================================================

type allocationStore struct {
	db *DB
}

// WithTx snapshots every allocation table (nodes, transfers, commissions,
// clone runs) and restores all of them on error.
func (s *allocationStore) WithTx(ctx context.Context, fn func(allocation.Store) error) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	snap := s.db.snapshotAllocation()
	if err := fn(&allocationTxView{db: s.db}); err != nil {
		s.db.restoreAllocation(snap)
		return err
	}
	return nil
}

type allocationSnapshot struct {
	nodes       map[string]allocation.Node
	transfers   map[string]allocation.Transfer
	commissions []allocation.CommissionRecord
	saleKeys    map[saleKey]bool
	cloneRuns   map[cloneKey]time.Time
	seq         map[string]int64
	nextSeq     int64
}

func (db *DB) snapshotAllocation() allocationSnapshot {
	nodes := make(map[string]allocation.Node, len(db.nodes))
	for k, v := range db.nodes {
		nodes[k] = v
	}
	transfers := make(map[string]allocation.Transfer, len(db.transfers))
	for k, v := range db.transfers {
		transfers[k] = v
	}
	commissions := append([]allocation.CommissionRecord{}, db.commissions...)
	keys := make(map[saleKey]bool, len(db.saleKeys))
	for k, v := range db.saleKeys {
		keys[k] = v
	}
	runs := make(map[cloneKey]time.Time, len(db.cloneRuns))
	for k, v := range db.cloneRuns {
		runs[k] = v
	}
	seq := make(map[string]int64, len(db.seq))
	for k, v := range db.seq {
		seq[k] = v
	}
	return allocationSnapshot{
		nodes: nodes, transfers: transfers, commissions: commissions,
		saleKeys: keys, cloneRuns: runs, seq: seq, nextSeq: db.nextSeq,
	}
}

func (db *DB) restoreAllocation(s allocationSnapshot) {
	db.nodes = s.nodes
	db.transfers = s.transfers
	db.commissions = s.commissions
	db.saleKeys = s.saleKeys
	db.cloneRuns = s.cloneRuns
	db.seq = s.seq
	db.nextSeq = s.nextSeq
}

// The read-locked facade methods delegate to the same *Locked helpers the
// transaction view uses.

func (s *allocationStore) GetNode(_ context.Context, id string) (*allocation.Node, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.getNodeLocked(id), nil
}

func (s *allocationStore) InsertNode(_ context.Context, n *allocation.Node) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.insertNodeLocked(n)
}

func (s *allocationStore) UpdateNode(_ context.Context, n *allocation.Node) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.updateNodeLocked(n)
}

func (s *allocationStore) ListChildren(_ context.Context, parentID string) ([]*allocation.Node, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listChildrenLocked(parentID), nil
}

func (s *allocationStore) CountActiveChildren(_ context.Context, parentID string) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return len(s.db.listChildrenLocked(parentID)), nil
}

func (s *allocationStore) ListEventRoots(_ context.Context, organizerID, eventID string) ([]*allocation.Node, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listRootsLocked(organizerID, eventID), nil
}

func (s *allocationStore) ListTemplateRoots(_ context.Context, organizerID string) ([]*allocation.Node, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listRootsLocked(organizerID, ""), nil
}

func (s *allocationStore) ReferralCodeExists(_ context.Context, code string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.findByCodeLocked(code) != nil, nil
}

func (s *allocationStore) FindByReferralCode(_ context.Context, code string) (*allocation.Node, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.findByCodeLocked(code), nil
}

func (s *allocationStore) GetTransfer(_ context.Context, id string) (*allocation.Transfer, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.getTransferLocked(id), nil
}

func (s *allocationStore) InsertTransfer(_ context.Context, t *allocation.Transfer) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.insertTransferLocked(t)
}

func (s *allocationStore) UpdateTransfer(_ context.Context, t *allocation.Transfer) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.updateTransferLocked(t)
}

func (s *allocationStore) ListPendingByNode(_ context.Context, nodeID string) ([]*allocation.Transfer, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listPendingLocked(nodeID), nil
}

func (s *allocationStore) SumPendingOutgoing(_ context.Context, nodeID, excludeTransferID string) (int, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.sumPendingOutgoingLocked(nodeID, excludeTransferID), nil
}

func (s *allocationStore) ListExpiredPending(_ context.Context, now time.Time) ([]*allocation.Transfer, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listExpiredPendingLocked(now), nil
}

func (s *allocationStore) AppendCommission(_ context.Context, rec *allocation.CommissionRecord) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	return s.db.appendCommissionLocked(rec)
}

func (s *allocationStore) ListCommissionsByNode(_ context.Context, nodeID string) ([]*allocation.CommissionRecord, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	return s.db.listCommissionsLocked(nodeID), nil
}

func (s *allocationStore) CloneRunExists(_ context.Context, eventID, templateRootID string) (bool, error) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	_, ok := s.db.cloneRuns[cloneKey{EventID: eventID, TemplateRootID: templateRootID}]
	return ok, nil
}

func (s *allocationStore) RecordCloneRun(_ context.Context, eventID, templateRootID string, at time.Time) error {
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	s.db.cloneRuns[cloneKey{EventID: eventID, TemplateRootID: templateRootID}] = at
	return nil
}

// allocationTxView runs inside WithTx, where the mutex is already held.
type allocationTxView struct {
	db *DB
}

func (v *allocationTxView) GetNode(_ context.Context, id string) (*allocation.Node, error) {
	return v.db.getNodeLocked(id), nil
}

func (v *allocationTxView) InsertNode(_ context.Context, n *allocation.Node) error {
	return v.db.insertNodeLocked(n)
}

func (v *allocationTxView) UpdateNode(_ context.Context, n *allocation.Node) error {
	return v.db.updateNodeLocked(n)
}

func (v *allocationTxView) ListChildren(_ context.Context, parentID string) ([]*allocation.Node, error) {
	return v.db.listChildrenLocked(parentID), nil
}

func (v *allocationTxView) CountActiveChildren(_ context.Context, parentID string) (int, error) {
	return len(v.db.listChildrenLocked(parentID)), nil
}

func (v *allocationTxView) ListEventRoots(_ context.Context, organizerID, eventID string) ([]*allocation.Node, error) {
	return v.db.listRootsLocked(organizerID, eventID), nil
}

func (v *allocationTxView) ListTemplateRoots(_ context.Context, organizerID string) ([]*allocation.Node, error) {
	return v.db.listRootsLocked(organizerID, ""), nil
}

func (v *allocationTxView) ReferralCodeExists(_ context.Context, code string) (bool, error) {
	return v.db.findByCodeLocked(code) != nil, nil
}

func (v *allocationTxView) FindByReferralCode(_ context.Context, code string) (*allocation.Node, error) {
	return v.db.findByCodeLocked(code), nil
}

func (v *allocationTxView) GetTransfer(_ context.Context, id string) (*allocation.Transfer, error) {
	return v.db.getTransferLocked(id), nil
}

func (v *allocationTxView) InsertTransfer(_ context.Context, t *allocation.Transfer) error {
	return v.db.insertTransferLocked(t)
}

func (v *allocationTxView) UpdateTransfer(_ context.Context, t *allocation.Transfer) error {
	return v.db.updateTransferLocked(t)
}

func (v *allocationTxView) ListPendingByNode(_ context.Context, nodeID string) ([]*allocation.Transfer, error) {
	return v.db.listPendingLocked(nodeID), nil
}

func (v *allocationTxView) SumPendingOutgoing(_ context.Context, nodeID, excludeTransferID string) (int, error) {
	return v.db.sumPendingOutgoingLocked(nodeID, excludeTransferID), nil
}

func (v *allocationTxView) ListExpiredPending(_ context.Context, now time.Time) ([]*allocation.Transfer, error) {
	return v.db.listExpiredPendingLocked(now), nil
}

func (v *allocationTxView) AppendCommission(_ context.Context, rec *allocation.CommissionRecord) error {
	return v.db.appendCommissionLocked(rec)
}

func (v *allocationTxView) ListCommissionsByNode(_ context.Context, nodeID string) ([]*allocation.CommissionRecord, error) {
	return v.db.listCommissionsLocked(nodeID), nil
}

func (v *allocationTxView) CloneRunExists(_ context.Context, eventID, templateRootID string) (bool, error) {
	_, ok := v.db.cloneRuns[cloneKey{EventID: eventID, TemplateRootID: templateRootID}]
	return ok, nil
}

func (v *allocationTxView) RecordCloneRun(_ context.Context, eventID, templateRootID string, at time.Time) error {
	v.db.cloneRuns[cloneKey{EventID: eventID, TemplateRootID: templateRootID}] = at
	return nil
}

// =============================================================================
// ROW HELPERS (caller holds the mutex)
// =============================================================================

func (db *DB) getNodeLocked(id string) *allocation.Node {
	n, ok := db.nodes[id]
	if !ok {
		return nil
	}
	cp := n
	return &cp
}

func (db *DB) insertNodeLocked(n *allocation.Node) error {
	db.nodes[n.ID] = *n
	db.touch(n.ID)
	return nil
}

func (db *DB) updateNodeLocked(n *allocation.Node) error {
	if _, ok := db.nodes[n.ID]; !ok {
		return allocation.ErrNodeNotFound
	}
	db.nodes[n.ID] = *n
	return nil
}

func (db *DB) listChildrenLocked(parentID string) []*allocation.Node {
	var out []*allocation.Node
	for _, n := range db.nodes {
		if n.ParentID == parentID && n.Active {
			cp := n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return db.orderOf(out[i].ID) < db.orderOf(out[j].ID)
	})
	return out
}

func (db *DB) listRootsLocked(organizerID, eventID string) []*allocation.Node {
	var out []*allocation.Node
	for _, n := range db.nodes {
		if n.OrganizerID == organizerID && n.EventID == eventID && n.ParentID == "" && n.Active {
			cp := n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return db.orderOf(out[i].ID) < db.orderOf(out[j].ID)
	})
	return out
}

func (db *DB) findByCodeLocked(code string) *allocation.Node {
	for _, n := range db.nodes {
		if n.Active && n.ReferralCode == code {
			cp := n
			return &cp
		}
	}
	return nil
}

func (db *DB) getTransferLocked(id string) *allocation.Transfer {
	t, ok := db.transfers[id]
	if !ok {
		return nil
	}
	cp := t
	return &cp
}

func (db *DB) insertTransferLocked(t *allocation.Transfer) error {
	db.transfers[t.ID] = *t
	db.touch(t.ID)
	return nil
}

func (db *DB) updateTransferLocked(t *allocation.Transfer) error {
	if _, ok := db.transfers[t.ID]; !ok {
		return allocation.ErrTransferNotFound
	}
	db.transfers[t.ID] = *t
	return nil
}

func (db *DB) listPendingLocked(nodeID string) []*allocation.Transfer {
	var out []*allocation.Transfer
	for _, t := range db.transfers {
		if t.Status == allocation.TransferPending && (t.FromNodeID == nodeID || t.ToNodeID == nodeID) {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return db.orderOf(out[i].ID) < db.orderOf(out[j].ID)
	})
	return out
}

func (db *DB) sumPendingOutgoingLocked(nodeID, excludeTransferID string) int {
	sum := 0
	for _, t := range db.transfers {
		if t.Status == allocation.TransferPending && t.FromNodeID == nodeID && t.ID != excludeTransferID {
			sum += t.Quantity
		}
	}
	return sum
}

func (db *DB) listExpiredPendingLocked(now time.Time) []*allocation.Transfer {
	var out []*allocation.Transfer
	for _, t := range db.transfers {
		if t.Status == allocation.TransferPending && t.ExpiresAt.Before(now) {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return db.orderOf(out[i].ID) < db.orderOf(out[j].ID)
	})
	return out
}

func (db *DB) appendCommissionLocked(rec *allocation.CommissionRecord) error {
	k := saleKey{OrderID: rec.OrderID, NodeID: rec.NodeID}
	if db.saleKeys[k] {
		return allocation.ErrDuplicateCommissionRecord
	}
	db.saleKeys[k] = true
	db.commissions = append(db.commissions, *rec)
	return nil
}

func (db *DB) listCommissionsLocked(nodeID string) []*allocation.CommissionRecord {
	var out []*allocation.CommissionRecord
	for i := range db.commissions {
		if db.commissions[i].NodeID == nodeID {
			cp := db.commissions[i]
			out = append(out, &cp)
		}
	}
	return out
}
