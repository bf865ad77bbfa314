/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements every persistence contract of the incentive ledger (entry
  stream, balance counters, orders, sweep runs) in one database so a
  single transaction can cover an entry append and its counter move. The
  same patterns apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  ledger.Store / ledger.TxStore: Entries and balances
  ledger.RunStore:               Maturity sweep audit records
  order.Repository:              Order documents with embedded descriptors

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches the entries table, with one exception:
  SetPayoutStatus updates the status column of a PAYOUT row and nothing
  else. Corrections are EXPIRE entries.

IDEMPOTENCY GUARD:
  idx_entries_once_per_order enforces at most one LOCK, one MATURE and
  one EXPIRE per (subject, order, currency). A violated insert maps to
  ledger.ErrDuplicateEntry. This is the hard guard beneath the order
  descriptor flags and what makes racing sweeps lose cleanly.

CONCURRENCY:
  A sync.Mutex serializes write paths on top of WAL mode. Balance
  arithmetic is decimal maths done in Go; the mutex plus SQLite's single
  writer make the read-modify-write of a counter row atomic with the
  entry append in the surrounding transaction.

USAGE:
  store, err := sqlite.New("./data/incentive.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  led := ledger.New(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/order"
)

// Store implements the storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		order_id TEXT,
		kind TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		note TEXT,
		status TEXT NOT NULL DEFAULT 'completed',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_subject_currency
		ON entries(subject_id, currency, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_subject_order
		ON entries(subject_id, order_id);

	-- CRITICAL: the idempotency guard. At most one LOCK, one MATURE and
	-- one EXPIRE per (subject, order, currency). Re-fired transitions and
	-- concurrent sweeps hit this index and lose cleanly.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_entries_once_per_order
		ON entries(subject_id, order_id, kind, currency)
		WHERE kind IN ('lock', 'mature', 'expire');

	-- Balance counters (cached projection of the entry stream)
	CREATE TABLE IF NOT EXISTS balances (
		subject_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		locked TEXT NOT NULL DEFAULT '0',
		available TEXT NOT NULL DEFAULT '0',
		lifetime_earned TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (subject_id, currency)
	);

	-- Orders (collaborator documents with embedded descriptors)
	CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		status TEXT NOT NULL,
		agent_id TEXT,
		commission_rate TEXT NOT NULL DEFAULT '0',
		commission_amount TEXT NOT NULL DEFAULT '0',
		commission_locked BOOLEAN NOT NULL DEFAULT FALSE,
		reward_points TEXT NOT NULL DEFAULT '0',
		reward_locked BOOLEAN NOT NULL DEFAULT FALSE,
		redeemed_points TEXT NOT NULL DEFAULT '0',
		timeline_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_orders_customer ON orders(customer_id);
	CREATE INDEX IF NOT EXISTS idx_orders_agent ON orders(agent_id) WHERE agent_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);

	-- Maturity sweep runs (audit)
	CREATE TABLE IF NOT EXISTS sweep_runs (
		id TEXT PRIMARY KEY,
		subject_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		matured TEXT NOT NULL DEFAULT '0',
		entry_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sweep_runs_subject ON sweep_runs(subject_id, started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx so the same helpers serve
// standalone calls and WithTx bodies.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// ENTRY STREAM (ledger.Store interface)
// =============================================================================

// Append adds an entry to the ledger.
func (s *Store) Append(ctx context.Context, e ledger.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendEntry(ctx, s.db, e)
}

func (s *Store) appendEntry(ctx context.Context, db dbtx, e ledger.Entry) error {
	query := `
		INSERT INTO entries (id, subject_id, order_id, kind, amount, currency, note, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	status := e.Status
	if status == "" {
		status = ledger.StatusCompleted
	}

	_, err := db.ExecContext(ctx, query,
		string(e.ID),
		string(e.SubjectID),
		string(e.OrderID),
		string(e.Kind),
		e.Amount.Value.String(),
		string(e.Amount.Currency),
		e.Note,
		string(status),
		e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return &ledger.DuplicateEntryError{SubjectID: e.SubjectID, OrderID: e.OrderID, Kind: e.Kind}
		}
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

// SetPayoutStatus flips a PAYOUT entry's status. The sole entry mutation.
func (s *Store) SetPayoutStatus(ctx context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setPayoutStatus(ctx, s.db, id, status)
}

func (s *Store) setPayoutStatus(ctx context.Context, db dbtx, id ledger.EntryID, status ledger.EntryStatus) error {
	res, err := db.ExecContext(ctx,
		`UPDATE entries SET status = ? WHERE id = ? AND kind = 'payout'`,
		string(status), string(id),
	)
	if err != nil {
		return fmt.Errorf("failed to update payout status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("payout entry %s: %w", id, ledger.ErrNotFound)
	}
	return nil
}

func (s *Store) Entries(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency) ([]ledger.Entry, error) {
	return s.queryEntries(ctx, s.db, `
		SELECT id, subject_id, order_id, kind, amount, currency, note, status, created_at
		FROM entries
		WHERE subject_id = ? AND currency = ?
		ORDER BY created_at ASC, id ASC
	`, string(subject), string(currency))
}

func (s *Store) EntriesByOrder(ctx context.Context, subject ledger.SubjectID, orderID ledger.OrderID) ([]ledger.Entry, error) {
	return s.queryEntries(ctx, s.db, `
		SELECT id, subject_id, order_id, kind, amount, currency, note, status, created_at
		FROM entries
		WHERE subject_id = ? AND order_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(subject), string(orderID))
}

func (s *Store) HasEntry(ctx context.Context, subject ledger.SubjectID, orderID ledger.OrderID, kind ledger.EntryKind, currency ledger.Currency) (bool, error) {
	return s.hasEntry(ctx, s.db, subject, orderID, kind, currency)
}

func (s *Store) hasEntry(ctx context.Context, db dbtx, subject ledger.SubjectID, orderID ledger.OrderID, kind ledger.EntryKind, currency ledger.Currency) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM entries WHERE subject_id = ? AND order_id = ? AND kind = ? AND currency = ?`,
		string(subject), string(orderID), string(kind), string(currency),
	).Scan(&count)
	return count > 0, err
}

func (s *Store) queryEntries(ctx context.Context, db dbtx, query string, args ...any) ([]ledger.Entry, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (ledger.Entry, error) {
	var (
		e         ledger.Entry
		orderID   sql.NullString
		amount    string
		currency  string
		note      sql.NullString
		createdAt string
	)

	err := rows.Scan(&e.ID, &e.SubjectID, &orderID, &e.Kind, &amount, &currency, &note, &e.Status, &createdAt)
	if err != nil {
		return e, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.OrderID = ledger.OrderID(orderID.String)
	e.Amount = ledger.NewAmountFromDecimal(ledger.MustParseDecimal(amount), ledger.Currency(currency))
	e.Note = note.String
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

// =============================================================================
// BALANCE COUNTERS
// =============================================================================

func (s *Store) Balance(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency) (ledger.Balance, error) {
	return s.balance(ctx, s.db, subject, currency)
}

func (s *Store) balance(ctx context.Context, db dbtx, subject ledger.SubjectID, currency ledger.Currency) (ledger.Balance, error) {
	var locked, available, lifetime string
	err := db.QueryRowContext(ctx,
		`SELECT locked, available, lifetime_earned FROM balances WHERE subject_id = ? AND currency = ?`,
		string(subject), string(currency),
	).Scan(&locked, &available, &lifetime)

	if err == sql.ErrNoRows {
		// Balances are created lazily; absence is the zero balance.
		return ledger.NewBalance(subject, currency), nil
	}
	if err != nil {
		return ledger.Balance{}, fmt.Errorf("failed to load balance: %w", err)
	}

	return ledger.Balance{
		SubjectID:      subject,
		Currency:       currency,
		Locked:         ledger.NewAmountFromDecimal(ledger.MustParseDecimal(locked), currency),
		Available:      ledger.NewAmountFromDecimal(ledger.MustParseDecimal(available), currency),
		LifetimeEarned: ledger.NewAmountFromDecimal(ledger.MustParseDecimal(lifetime), currency),
	}, nil
}

// saveBalance upserts the counter row. Callers hold s.mu or run inside a
// WithTx, so the read-modify-write is serialized.
func (s *Store) saveBalance(ctx context.Context, db dbtx, b ledger.Balance) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO balances (subject_id, currency, locked, available, lifetime_earned, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, currency) DO UPDATE SET
			locked = excluded.locked,
			available = excluded.available,
			lifetime_earned = excluded.lifetime_earned,
			updated_at = excluded.updated_at
	`,
		string(b.SubjectID), string(b.Currency),
		b.Locked.Value.String(), b.Available.Value.String(), b.LifetimeEarned.Value.String(),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

func (s *Store) CreditLocked(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(ctx, s.db, subject, currency, amount)
}

func (s *Store) creditLocked(ctx context.Context, db dbtx, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	b, err := s.balance(ctx, db, subject, currency)
	if err != nil {
		return err
	}
	b.Locked = b.Locked.Add(amount)
	b.LifetimeEarned = b.LifetimeEarned.Add(amount)
	return s.saveBalance(ctx, db, b)
}

func (s *Store) MoveLockedToAvailable(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLockedToAvailable(ctx, s.db, subject, currency, amount)
}

func (s *Store) moveLockedToAvailable(ctx context.Context, db dbtx, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (bool, error) {
	b, err := s.balance(ctx, db, subject, currency)
	if err != nil {
		return false, err
	}
	clamped := b.Locked.LessThan(amount)
	b.Locked = b.Locked.Sub(amount.Min(b.Locked))
	b.Available = b.Available.Add(amount)
	return clamped, s.saveBalance(ctx, db, b)
}

func (s *Store) ReleaseLocked(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (ledger.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.releaseLocked(ctx, s.db, subject, currency, amount)
}

func (s *Store) releaseLocked(ctx context.Context, db dbtx, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (ledger.Amount, error) {
	b, err := s.balance(ctx, db, subject, currency)
	if err != nil {
		return ledger.Amount{}, err
	}
	released := amount.Min(b.Locked)
	b.Locked = b.Locked.Sub(released)
	if err := s.saveBalance(ctx, db, b); err != nil {
		return ledger.Amount{}, err
	}
	return released, nil
}

func (s *Store) DebitAvailable(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitAvailable(ctx, s.db, subject, currency, amount)
}

// debitAvailable is conditional: the decrement happens only when
// available covers the amount. The counter never goes negative.
func (s *Store) debitAvailable(ctx context.Context, db dbtx, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	b, err := s.balance(ctx, db, subject, currency)
	if err != nil {
		return err
	}
	if b.Available.LessThan(amount) {
		return &ledger.InsufficientBalanceError{
			SubjectID: subject,
			Currency:  currency,
			Available: b.Available,
			Requested: amount,
		}
	}
	b.Available = b.Available.Sub(amount)
	return s.saveBalance(ctx, db, b)
}

func (s *Store) CreditAvailable(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditAvailable(ctx, s.db, subject, currency, amount)
}

func (s *Store) creditAvailable(ctx context.Context, db dbtx, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	b, err := s.balance(ctx, db, subject, currency)
	if err != nil {
		return err
	}
	b.Available = b.Available.Add(amount)
	return s.saveBalance(ctx, db, b)
}

func (s *Store) Subjects(ctx context.Context, currency ledger.Currency) ([]ledger.SubjectID, error) {
	return s.subjects(ctx, s.db, currency)
}

func (s *Store) subjects(ctx context.Context, db dbtx, currency ledger.Currency) ([]ledger.SubjectID, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT subject_id FROM balances WHERE currency = ? ORDER BY subject_id`,
		string(currency),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	defer rows.Close()

	var subjects []ledger.SubjectID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		subjects = append(subjects, ledger.SubjectID(id))
	}
	return subjects, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (ledger.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction. The store
// mutex is held for the duration, so the tx view's helpers run unlocked.
func (s *Store) WithTx(ctx context.Context, fn func(store ledger.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	view := &txStore{tx: sqlTx, parent: s}
	if err := fn(view); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txStore routes every call through the open transaction using the
// parent's unlocked helpers.
type txStore struct {
	tx     *sql.Tx
	parent *Store
}

func (ts *txStore) Append(ctx context.Context, e ledger.Entry) error {
	return ts.parent.appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) SetPayoutStatus(ctx context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	return ts.parent.setPayoutStatus(ctx, ts.tx, id, status)
}

func (ts *txStore) Entries(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency) ([]ledger.Entry, error) {
	return ts.parent.queryEntries(ctx, ts.tx, `
		SELECT id, subject_id, order_id, kind, amount, currency, note, status, created_at
		FROM entries
		WHERE subject_id = ? AND currency = ?
		ORDER BY created_at ASC, id ASC
	`, string(subject), string(currency))
}

func (ts *txStore) EntriesByOrder(ctx context.Context, subject ledger.SubjectID, orderID ledger.OrderID) ([]ledger.Entry, error) {
	return ts.parent.queryEntries(ctx, ts.tx, `
		SELECT id, subject_id, order_id, kind, amount, currency, note, status, created_at
		FROM entries
		WHERE subject_id = ? AND order_id = ?
		ORDER BY created_at ASC, id ASC
	`, string(subject), string(orderID))
}

func (ts *txStore) HasEntry(ctx context.Context, subject ledger.SubjectID, orderID ledger.OrderID, kind ledger.EntryKind, currency ledger.Currency) (bool, error) {
	return ts.parent.hasEntry(ctx, ts.tx, subject, orderID, kind, currency)
}

func (ts *txStore) Balance(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency) (ledger.Balance, error) {
	return ts.parent.balance(ctx, ts.tx, subject, currency)
}

func (ts *txStore) CreditLocked(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	return ts.parent.creditLocked(ctx, ts.tx, subject, currency, amount)
}

func (ts *txStore) MoveLockedToAvailable(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (bool, error) {
	return ts.parent.moveLockedToAvailable(ctx, ts.tx, subject, currency, amount)
}

func (ts *txStore) ReleaseLocked(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (ledger.Amount, error) {
	return ts.parent.releaseLocked(ctx, ts.tx, subject, currency, amount)
}

func (ts *txStore) DebitAvailable(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	return ts.parent.debitAvailable(ctx, ts.tx, subject, currency, amount)
}

func (ts *txStore) CreditAvailable(ctx context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	return ts.parent.creditAvailable(ctx, ts.tx, subject, currency, amount)
}

func (ts *txStore) Subjects(ctx context.Context, currency ledger.Currency) ([]ledger.SubjectID, error) {
	return ts.parent.subjects(ctx, ts.tx, currency)
}

// =============================================================================
// ORDER REPOSITORY (order.Repository interface)
// =============================================================================

func (s *Store) FindByID(ctx context.Context, id ledger.OrderID) (*order.Order, error) {
	var (
		o                order.Order
		subtotal         string
		agentID          sql.NullString
		commissionRate   string
		commissionAmount string
		rewardPoints     string
		redeemedPoints   string
		timelineJSON     sql.NullString
		createdAt        string
		updatedAt        string
	)

	err := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, subtotal, status, agent_id,
		       commission_rate, commission_amount, commission_locked,
		       reward_points, reward_locked, redeemed_points,
		       timeline_json, created_at, updated_at
		FROM orders WHERE id = ?
	`, string(id)).Scan(
		&o.ID, &o.CustomerID, &subtotal, &o.Status, &agentID,
		&commissionRate, &commissionAmount, &o.Commission.Locked,
		&rewardPoints, &o.Reward.Locked, &redeemedPoints,
		&timelineJSON, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}

	o.Subtotal = ledger.MustParseDecimal(subtotal)
	o.Commission.AgentID = ledger.SubjectID(agentID.String)
	o.Commission.Rate = ledger.MustParseDecimal(commissionRate)
	o.Commission.Amount = ledger.MustParseDecimal(commissionAmount)
	o.Reward.Points = ledger.MustParseDecimal(rewardPoints)
	o.RedeemedPoints = ledger.MustParseDecimal(redeemedPoints)
	o.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	o.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)

	if timelineJSON.Valid && timelineJSON.String != "" {
		if err := json.Unmarshal([]byte(timelineJSON.String), &o.Timeline); err != nil {
			return nil, fmt.Errorf("failed to decode order timeline: %w", err)
		}
	}

	return &o, nil
}

// Save upserts the order document. Status, descriptor flags and timeline
// persist in one statement.
func (s *Store) Save(ctx context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	timelineJSON, err := json.Marshal(o.Timeline)
	if err != nil {
		return fmt.Errorf("failed to encode order timeline: %w", err)
	}

	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, subtotal, status, agent_id,
			commission_rate, commission_amount, commission_locked,
			reward_points, reward_locked, redeemed_points,
			timeline_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			commission_rate = excluded.commission_rate,
			commission_amount = excluded.commission_amount,
			commission_locked = excluded.commission_locked,
			reward_points = excluded.reward_points,
			reward_locked = excluded.reward_locked,
			redeemed_points = excluded.redeemed_points,
			timeline_json = excluded.timeline_json,
			updated_at = excluded.updated_at
	`,
		string(o.ID), string(o.CustomerID), o.Subtotal.String(), string(o.Status),
		nullString(string(o.Commission.AgentID)),
		o.Commission.Rate.String(), o.Commission.Amount.String(), o.Commission.Locked,
		o.Reward.Points.String(), o.Reward.Locked, o.RedeemedPoints.String(),
		string(timelineJSON),
		o.CreatedAt.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save order: %w", err)
	}
	return nil
}

// =============================================================================
// SWEEP RUNS (ledger.RunStore interface)
// =============================================================================

func (s *Store) SaveSweepRun(ctx context.Context, run ledger.SweepRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sweep_runs (id, subject_id, currency, matured, entry_count, status, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			matured = excluded.matured,
			entry_count = excluded.entry_count,
			status = excluded.status,
			error = excluded.error,
			completed_at = excluded.completed_at
	`,
		run.ID, string(run.SubjectID), string(run.Currency),
		run.Matured.Value.String(), run.EntryCount, run.Status, run.Error,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.CompletedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save sweep run: %w", err)
	}
	return nil
}

func (s *Store) ListSweepRuns(ctx context.Context, subject ledger.SubjectID) ([]ledger.SweepRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, currency, matured, entry_count, status, error, started_at, completed_at
		FROM sweep_runs WHERE subject_id = ? ORDER BY started_at DESC
	`, string(subject))
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep runs: %w", err)
	}
	defer rows.Close()

	var runs []ledger.SweepRun
	for rows.Next() {
		var (
			run       ledger.SweepRun
			matured   string
			errText   sql.NullString
			startedAt string
			completed string
		)
		if err := rows.Scan(&run.ID, &run.SubjectID, &run.Currency, &matured,
			&run.EntryCount, &run.Status, &errText, &startedAt, &completed); err != nil {
			return nil, err
		}
		run.Matured = ledger.NewAmountFromDecimal(ledger.MustParseDecimal(matured), run.Currency)
		run.Error = errText.String
		run.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
		run.CompletedAt, _ = time.Parse(time.RFC3339Nano, completed)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
