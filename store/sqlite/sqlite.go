/*
Package sqlite provides the SQLite-backed store implementation.

PURPOSE:
  Implements inventory.TxStore and allocation.TxStore over a single
  SQLite database. In production, the same patterns apply to PostgreSQL -
  only minor SQL dialect differences.

TRANSACTION BOUNDARY:
  WithTx opens a database transaction and hands the domain layer a view
  bound to it. SQLite serializes writers, and a mutex guards the whole
  transaction so a read-validate-write inside fn can never interleave
  with another writer. That boundary is what makes the no-oversell and
  transfer-atomicity guarantees hold.

KEY TABLES:
  tiers:              capacity / sold / version counters
  allocation_nodes:   the staff tree (parent pointers, budgets, codes)
  transfers:          the transfer saga with balance snapshots
  commission_records: append-only sale facts
  clone_runs:         idempotency marks for template cloning

APPEND-ONLY ENFORCEMENT:
  commission_records has no UPDATE or DELETE path. The unique
  (order_id, node_id) index is the idempotency guard for checkout
  retries.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  db, err := sqlite.Open("./data/tickets.db")
  if err != nil {
      log.Fatal(err)
  }
  defer db.Close()

  ledger := inventory.NewLedger(db.Inventory())
  nodes := allocation.NewNodeService(db.Allocation())

MIGRATION:
  Schema is auto-migrated on Open(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - inventory/store.go, allocation/store.go: interface definitions
  - store/memory: in-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/stepperslife/ticket-engine/allocation"
	"github.com/stepperslife/ticket-engine/inventory"
)

// DB wraps the SQLite handle. Obtain typed store facades via Inventory()
// and Allocation().
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates the store, migrating the schema if needed.
// Use ":memory:" for an in-memory database.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *DB) Close() error { return s.db.Close() }

// Inventory returns the tier store facade.
func (s *DB) Inventory() inventory.TxStore { return &inventoryStore{s: s} }

// Allocation returns the node/transfer/commission store facade.
func (s *DB) Allocation() allocation.TxStore { return &allocationStore{s: s} }

// migrate creates the database schema.
func (s *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tiers (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		price_cents INTEGER NOT NULL,
		capacity INTEGER NOT NULL,
		sold INTEGER NOT NULL DEFAULT 0,
		version INTEGER NOT NULL DEFAULT 0,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		first_sale_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tiers_event ON tiers(event_id);

	CREATE TABLE IF NOT EXISTS allocation_nodes (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL DEFAULT '',
		organizer_id TEXT NOT NULL,
		owner_user_id TEXT NOT NULL DEFAULT '',
		parent_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		allocated_tickets INTEGER NOT NULL DEFAULT 0,
		sold_tickets INTEGER NOT NULL DEFAULT 0,
		commission_type TEXT NOT NULL,
		commission_value TEXT NOT NULL,
		parent_commission_pct TEXT NOT NULL DEFAULT '0',
		sub_seller_commission_pct TEXT NOT NULL DEFAULT '0',
		commission_earned TEXT NOT NULL DEFAULT '0',
		cash_collected TEXT NOT NULL DEFAULT '0',
		hierarchy_level INTEGER NOT NULL,
		can_assign_sub_sellers BOOLEAN NOT NULL DEFAULT FALSE,
		max_sub_sellers INTEGER,
		auto_assign BOOLEAN NOT NULL DEFAULT FALSE,
		referral_code TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_nodes_parent ON allocation_nodes(parent_id);
	CREATE INDEX IF NOT EXISTS idx_nodes_event ON allocation_nodes(organizer_id, event_id);
	-- Referral codes are unique among ACTIVE nodes only; deactivation
	-- frees the code for reuse.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_referral_code
		ON allocation_nodes(referral_code) WHERE active;

	CREATE TABLE IF NOT EXISTS transfers (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		from_node_id TEXT NOT NULL,
		to_node_id TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		rejection_reason TEXT NOT NULL DEFAULT '',
		requested_at TEXT NOT NULL,
		expires_at TEXT NOT NULL,
		responded_at TEXT,
		from_balance_before INTEGER NOT NULL,
		to_balance_before INTEGER NOT NULL,
		from_balance_after INTEGER,
		to_balance_after INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_from ON transfers(from_node_id, status);
	CREATE INDEX IF NOT EXISTS idx_transfers_to ON transfers(to_node_id, status);
	CREATE INDEX IF NOT EXISTS idx_transfers_expiry ON transfers(status, expires_at);

	-- Append-only: no UPDATE or DELETE statements exist for this table.
	CREATE TABLE IF NOT EXISTS commission_records (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		node_id TEXT NOT NULL,
		event_id TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		unit_price_cents INTEGER NOT NULL,
		commission TEXT NOT NULL,
		payment_method TEXT NOT NULL,
		recorded_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_commissions_order_node
		ON commission_records(order_id, node_id);
	CREATE INDEX IF NOT EXISTS idx_commissions_node ON commission_records(node_id);

	CREATE TABLE IF NOT EXISTS clone_runs (
		event_id TEXT NOT NULL,
		template_root_id TEXT NOT NULL,
		cloned_at TEXT NOT NULL,
		PRIMARY KEY (event_id, template_root_id)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// dbtx abstracts *sql.DB and *sql.Tx so the row helpers serve both the
// plain facade and the transactional view.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func scanDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// =============================================================================
// INVENTORY FACADE
// =============================================================================

type inventoryStore struct {
	s *DB
}

func (is *inventoryStore) WithTx(ctx context.Context, fn func(inventory.Store) error) error {
	is.s.mu.Lock()
	defer is.s.mu.Unlock()

	tx, err := is.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&inventoryView{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (is *inventoryStore) GetTier(ctx context.Context, id string) (*inventory.Tier, error) {
	return (&inventoryView{q: is.s.db}).GetTier(ctx, id)
}

func (is *inventoryStore) InsertTier(ctx context.Context, t *inventory.Tier) error {
	return (&inventoryView{q: is.s.db}).InsertTier(ctx, t)
}

func (is *inventoryStore) UpdateTier(ctx context.Context, t *inventory.Tier) error {
	return (&inventoryView{q: is.s.db}).UpdateTier(ctx, t)
}

func (is *inventoryStore) ListTiersByEvent(ctx context.Context, eventID string) ([]*inventory.Tier, error) {
	return (&inventoryView{q: is.s.db}).ListTiersByEvent(ctx, eventID)
}

// inventoryView serves both the plain facade (q = *sql.DB) and the
// transactional path (q = *sql.Tx).
type inventoryView struct {
	q dbtx
}

const tierColumns = `id, event_id, name, price_cents, capacity, sold, version, active, first_sale_at, created_at, updated_at`

func scanTier(row interface{ Scan(...any) error }) (*inventory.Tier, error) {
	var t inventory.Tier
	var firstSale sql.NullString
	var created, updated string
	err := row.Scan(&t.ID, &t.EventID, &t.Name, &t.PriceCents, &t.Capacity,
		&t.Sold, &t.Version, &t.Active, &firstSale, &created, &updated)
	if err != nil {
		return nil, err
	}
	if firstSale.Valid {
		ts := parseTime(firstSale.String)
		t.FirstSaleAt = &ts
	}
	t.CreatedAt = parseTime(created)
	t.UpdatedAt = parseTime(updated)
	return &t, nil
}

func (v *inventoryView) GetTier(ctx context.Context, id string) (*inventory.Tier, error) {
	row := v.q.QueryRowContext(ctx, `SELECT `+tierColumns+` FROM tiers WHERE id = ?`, id)
	t, err := scanTier(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (v *inventoryView) InsertTier(ctx context.Context, t *inventory.Tier) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO tiers (`+tierColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EventID, t.Name, t.PriceCents, t.Capacity, t.Sold, t.Version,
		t.Active, nullTime(t.FirstSaleAt), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert tier: %w", err)
	}
	return nil
}

func (v *inventoryView) UpdateTier(ctx context.Context, t *inventory.Tier) error {
	res, err := v.q.ExecContext(ctx, `
		UPDATE tiers SET name = ?, price_cents = ?, capacity = ?, sold = ?,
			version = ?, active = ?, first_sale_at = ?, updated_at = ?
		WHERE id = ?`,
		t.Name, t.PriceCents, t.Capacity, t.Sold, t.Version, t.Active,
		nullTime(t.FirstSaleAt), formatTime(t.UpdatedAt), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update tier: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return inventory.ErrTierNotFound
	}
	return nil
}

func (v *inventoryView) ListTiersByEvent(ctx context.Context, eventID string) ([]*inventory.Tier, error) {
	rows, err := v.q.QueryContext(ctx,
		`SELECT `+tierColumns+` FROM tiers WHERE event_id = ? ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*inventory.Tier
	for rows.Next() {
		t, err := scanTier(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// =============================================================================
// ALLOCATION FACADE
// =============================================================================

type allocationStore struct {
	s *DB
}

func (as *allocationStore) WithTx(ctx context.Context, fn func(allocation.Store) error) error {
	as.s.mu.Lock()
	defer as.s.mu.Unlock()

	tx, err := as.s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&allocationView{q: tx}); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (as *allocationStore) view() *allocationView { return &allocationView{q: as.s.db} }

func (as *allocationStore) GetNode(ctx context.Context, id string) (*allocation.Node, error) {
	return as.view().GetNode(ctx, id)
}
func (as *allocationStore) InsertNode(ctx context.Context, n *allocation.Node) error {
	return as.view().InsertNode(ctx, n)
}
func (as *allocationStore) UpdateNode(ctx context.Context, n *allocation.Node) error {
	return as.view().UpdateNode(ctx, n)
}
func (as *allocationStore) ListChildren(ctx context.Context, parentID string) ([]*allocation.Node, error) {
	return as.view().ListChildren(ctx, parentID)
}
func (as *allocationStore) CountActiveChildren(ctx context.Context, parentID string) (int, error) {
	return as.view().CountActiveChildren(ctx, parentID)
}
func (as *allocationStore) ListEventRoots(ctx context.Context, organizerID, eventID string) ([]*allocation.Node, error) {
	return as.view().ListEventRoots(ctx, organizerID, eventID)
}
func (as *allocationStore) ListTemplateRoots(ctx context.Context, organizerID string) ([]*allocation.Node, error) {
	return as.view().ListTemplateRoots(ctx, organizerID)
}
func (as *allocationStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	return as.view().ReferralCodeExists(ctx, code)
}
func (as *allocationStore) FindByReferralCode(ctx context.Context, code string) (*allocation.Node, error) {
	return as.view().FindByReferralCode(ctx, code)
}
func (as *allocationStore) GetTransfer(ctx context.Context, id string) (*allocation.Transfer, error) {
	return as.view().GetTransfer(ctx, id)
}
func (as *allocationStore) InsertTransfer(ctx context.Context, t *allocation.Transfer) error {
	return as.view().InsertTransfer(ctx, t)
}
func (as *allocationStore) UpdateTransfer(ctx context.Context, t *allocation.Transfer) error {
	return as.view().UpdateTransfer(ctx, t)
}
func (as *allocationStore) ListPendingByNode(ctx context.Context, nodeID string) ([]*allocation.Transfer, error) {
	return as.view().ListPendingByNode(ctx, nodeID)
}
func (as *allocationStore) SumPendingOutgoing(ctx context.Context, nodeID, excludeTransferID string) (int, error) {
	return as.view().SumPendingOutgoing(ctx, nodeID, excludeTransferID)
}
func (as *allocationStore) ListExpiredPending(ctx context.Context, now time.Time) ([]*allocation.Transfer, error) {
	return as.view().ListExpiredPending(ctx, now)
}
func (as *allocationStore) AppendCommission(ctx context.Context, rec *allocation.CommissionRecord) error {
	return as.view().AppendCommission(ctx, rec)
}
func (as *allocationStore) ListCommissionsByNode(ctx context.Context, nodeID string) ([]*allocation.CommissionRecord, error) {
	return as.view().ListCommissionsByNode(ctx, nodeID)
}
func (as *allocationStore) CloneRunExists(ctx context.Context, eventID, templateRootID string) (bool, error) {
	return as.view().CloneRunExists(ctx, eventID, templateRootID)
}
func (as *allocationStore) RecordCloneRun(ctx context.Context, eventID, templateRootID string, at time.Time) error {
	return as.view().RecordCloneRun(ctx, eventID, templateRootID, at)
}

type allocationView struct {
	q dbtx
}

const nodeColumns = `id, event_id, organizer_id, owner_user_id, parent_id, name, role,
	allocated_tickets, sold_tickets, commission_type, commission_value,
	parent_commission_pct, sub_seller_commission_pct, commission_earned, cash_collected,
	hierarchy_level, can_assign_sub_sellers, max_sub_sellers, auto_assign,
	referral_code, active, created_at, updated_at`

func scanNode(row interface{ Scan(...any) error }) (*allocation.Node, error) {
	var n allocation.Node
	var ctype, commissionValue, parentPct, subPct, earned, cash string
	var maxSub sql.NullInt64
	var created, updated string
	err := row.Scan(&n.ID, &n.EventID, &n.OrganizerID, &n.OwnerUserID, &n.ParentID,
		&n.Name, &n.Role, &n.AllocatedTickets, &n.SoldTickets, &ctype, &commissionValue,
		&parentPct, &subPct, &earned, &cash, &n.HierarchyLevel, &n.CanAssignSubSellers,
		&maxSub, &n.AutoAssignToNewEvents, &n.ReferralCode, &n.Active, &created, &updated)
	if err != nil {
		return nil, err
	}
	n.CommissionType = allocation.CommissionType(ctype)
	n.CommissionValue = scanDecimal(commissionValue)
	n.ParentCommissionPercent = scanDecimal(parentPct)
	n.SubSellerCommissionPercent = scanDecimal(subPct)
	n.CommissionEarned = scanDecimal(earned)
	n.CashCollected = scanDecimal(cash)
	if maxSub.Valid {
		v := int(maxSub.Int64)
		n.MaxSubSellers = &v
	}
	n.CreatedAt = parseTime(created)
	n.UpdatedAt = parseTime(updated)
	return &n, nil
}

func (v *allocationView) GetNode(ctx context.Context, id string) (*allocation.Node, error) {
	row := v.q.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM allocation_nodes WHERE id = ?`, id)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

func (v *allocationView) InsertNode(ctx context.Context, n *allocation.Node) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO allocation_nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.EventID, n.OrganizerID, n.OwnerUserID, n.ParentID, n.Name, n.Role,
		n.AllocatedTickets, n.SoldTickets, string(n.CommissionType), n.CommissionValue.String(),
		n.ParentCommissionPercent.String(), n.SubSellerCommissionPercent.String(),
		n.CommissionEarned.String(), n.CashCollected.String(),
		n.HierarchyLevel, n.CanAssignSubSellers, nullInt(n.MaxSubSellers), n.AutoAssignToNewEvents,
		n.ReferralCode, n.Active, formatTime(n.CreatedAt), formatTime(n.UpdatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("referral code taken: %w", err)
		}
		return fmt.Errorf("failed to insert node: %w", err)
	}
	return nil
}

func (v *allocationView) UpdateNode(ctx context.Context, n *allocation.Node) error {
	res, err := v.q.ExecContext(ctx, `
		UPDATE allocation_nodes SET
			allocated_tickets = ?, sold_tickets = ?, commission_earned = ?,
			cash_collected = ?, can_assign_sub_sellers = ?, max_sub_sellers = ?,
			auto_assign = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		n.AllocatedTickets, n.SoldTickets, n.CommissionEarned.String(),
		n.CashCollected.String(), n.CanAssignSubSellers, nullInt(n.MaxSubSellers),
		n.AutoAssignToNewEvents, n.Active, formatTime(n.UpdatedAt), n.ID)
	if err != nil {
		return fmt.Errorf("failed to update node: %w", err)
	}
	count, _ := res.RowsAffected()
	if count == 0 {
		return allocation.ErrNodeNotFound
	}
	return nil
}

func (v *allocationView) listNodes(ctx context.Context, where string, args ...any) ([]*allocation.Node, error) {
	rows, err := v.q.QueryContext(ctx,
		`SELECT `+nodeColumns+` FROM allocation_nodes WHERE `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*allocation.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (v *allocationView) ListChildren(ctx context.Context, parentID string) ([]*allocation.Node, error) {
	return v.listNodes(ctx, `parent_id = ? AND active`, parentID)
}

func (v *allocationView) CountActiveChildren(ctx context.Context, parentID string) (int, error) {
	var n int
	err := v.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM allocation_nodes WHERE parent_id = ? AND active`, parentID).Scan(&n)
	return n, err
}

func (v *allocationView) ListEventRoots(ctx context.Context, organizerID, eventID string) ([]*allocation.Node, error) {
	return v.listNodes(ctx, `organizer_id = ? AND event_id = ? AND parent_id = '' AND active`, organizerID, eventID)
}

func (v *allocationView) ListTemplateRoots(ctx context.Context, organizerID string) ([]*allocation.Node, error) {
	return v.listNodes(ctx, `organizer_id = ? AND event_id = '' AND parent_id = '' AND active`, organizerID)
}

func (v *allocationView) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	var n int
	err := v.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM allocation_nodes WHERE referral_code = ? AND active`, code).Scan(&n)
	return n > 0, err
}

func (v *allocationView) FindByReferralCode(ctx context.Context, code string) (*allocation.Node, error) {
	row := v.q.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM allocation_nodes WHERE referral_code = ? AND active`, code)
	n, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return n, err
}

const transferColumns = `id, event_id, from_node_id, to_node_id, quantity, status,
	rejection_reason, requested_at, expires_at, responded_at,
	from_balance_before, to_balance_before, from_balance_after, to_balance_after`

func scanTransfer(row interface{ Scan(...any) error }) (*allocation.Transfer, error) {
	var t allocation.Transfer
	var status, requested, expires string
	var responded sql.NullString
	var fromAfter, toAfter sql.NullInt64
	err := row.Scan(&t.ID, &t.EventID, &t.FromNodeID, &t.ToNodeID, &t.Quantity,
		&status, &t.RejectionReason, &requested, &expires, &responded,
		&t.FromBalanceBefore, &t.ToBalanceBefore, &fromAfter, &toAfter)
	if err != nil {
		return nil, err
	}
	t.Status = allocation.TransferStatus(status)
	t.RequestedAt = parseTime(requested)
	t.ExpiresAt = parseTime(expires)
	if responded.Valid {
		ts := parseTime(responded.String)
		t.RespondedAt = &ts
	}
	if fromAfter.Valid {
		n := int(fromAfter.Int64)
		t.FromBalanceAfter = &n
	}
	if toAfter.Valid {
		n := int(toAfter.Int64)
		t.ToBalanceAfter = &n
	}
	return &t, nil
}

func (v *allocationView) GetTransfer(ctx context.Context, id string) (*allocation.Transfer, error) {
	row := v.q.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = ?`, id)
	t, err := scanTransfer(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

func (v *allocationView) InsertTransfer(ctx context.Context, t *allocation.Transfer) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.EventID, t.FromNodeID, t.ToNodeID, t.Quantity, string(t.Status),
		t.RejectionReason, formatTime(t.RequestedAt), formatTime(t.ExpiresAt),
		nullTime(t.RespondedAt), t.FromBalanceBefore, t.ToBalanceBefore,
		nullInt(t.FromBalanceAfter), nullInt(t.ToBalanceAfter))
	if err != nil {
		return fmt.Errorf("failed to insert transfer: %w", err)
	}
	return nil
}

func (v *allocationView) UpdateTransfer(ctx context.Context, t *allocation.Transfer) error {
	res, err := v.q.ExecContext(ctx, `
		UPDATE transfers SET status = ?, rejection_reason = ?, responded_at = ?,
			from_balance_before = ?, to_balance_before = ?,
			from_balance_after = ?, to_balance_after = ?
		WHERE id = ?`,
		string(t.Status), t.RejectionReason, nullTime(t.RespondedAt),
		t.FromBalanceBefore, t.ToBalanceBefore,
		nullInt(t.FromBalanceAfter), nullInt(t.ToBalanceAfter), t.ID)
	if err != nil {
		return fmt.Errorf("failed to update transfer: %w", err)
	}
	count, _ := res.RowsAffected()
	if count == 0 {
		return allocation.ErrTransferNotFound
	}
	return nil
}

func (v *allocationView) listTransfers(ctx context.Context, where string, args ...any) ([]*allocation.Transfer, error) {
	rows, err := v.q.QueryContext(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE `+where+` ORDER BY requested_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*allocation.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (v *allocationView) ListPendingByNode(ctx context.Context, nodeID string) ([]*allocation.Transfer, error) {
	return v.listTransfers(ctx, `status = 'PENDING' AND (from_node_id = ? OR to_node_id = ?)`, nodeID, nodeID)
}

func (v *allocationView) SumPendingOutgoing(ctx context.Context, nodeID, excludeTransferID string) (int, error) {
	var sum sql.NullInt64
	err := v.q.QueryRowContext(ctx, `
		SELECT SUM(quantity) FROM transfers
		WHERE status = 'PENDING' AND from_node_id = ? AND id != ?`,
		nodeID, excludeTransferID).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return int(sum.Int64), nil
}

func (v *allocationView) ListExpiredPending(ctx context.Context, now time.Time) ([]*allocation.Transfer, error) {
	return v.listTransfers(ctx, `status = 'PENDING' AND expires_at < ?`, formatTime(now))
}

func (v *allocationView) AppendCommission(ctx context.Context, rec *allocation.CommissionRecord) error {
	_, err := v.q.ExecContext(ctx, `
		INSERT INTO commission_records
		(id, order_id, node_id, event_id, quantity, unit_price_cents, commission, payment_method, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OrderID, rec.NodeID, rec.EventID, rec.Quantity,
		rec.UnitPriceCents, rec.Commission.String(), string(rec.PaymentMethod),
		formatTime(rec.RecordedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return allocation.ErrDuplicateCommissionRecord
		}
		return fmt.Errorf("failed to append commission record: %w", err)
	}
	return nil
}

func (v *allocationView) ListCommissionsByNode(ctx context.Context, nodeID string) ([]*allocation.CommissionRecord, error) {
	rows, err := v.q.QueryContext(ctx, `
		SELECT id, order_id, node_id, event_id, quantity, unit_price_cents, commission, payment_method, recorded_at
		FROM commission_records WHERE node_id = ? ORDER BY recorded_at, id`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*allocation.CommissionRecord
	for rows.Next() {
		var rec allocation.CommissionRecord
		var commission, method, recorded string
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.NodeID, &rec.EventID,
			&rec.Quantity, &rec.UnitPriceCents, &commission, &method, &recorded); err != nil {
			return nil, err
		}
		rec.Commission = scanDecimal(commission)
		rec.PaymentMethod = allocation.PaymentMethod(method)
		rec.RecordedAt = parseTime(recorded)
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (v *allocationView) CloneRunExists(ctx context.Context, eventID, templateRootID string) (bool, error) {
	var n int
	err := v.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM clone_runs WHERE event_id = ? AND template_root_id = ?`,
		eventID, templateRootID).Scan(&n)
	return n > 0, err
}

func (v *allocationView) RecordCloneRun(ctx context.Context, eventID, templateRootID string, at time.Time) error {
	_, err := v.q.ExecContext(ctx,
		`INSERT INTO clone_runs (event_id, template_root_id, cloned_at) VALUES (?, ?, ?)`,
		eventID, templateRootID, formatTime(at))
	if err != nil {
		return fmt.Errorf("failed to record clone run: %w", err)
	}
	return nil
}
