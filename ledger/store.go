/*
store.go - Persistence interface for entries and balances

PURPOSE:
  Defines the interface between the ledger engine and the database. The
  Store owns both sides of the ledger: the append-only entry stream and the
  cached balance counters. Both must change together, which is why every
  combined mutation runs through TxStore.WithTx.

KEY INTERFACES:
  Store:   Entry persistence plus atomic balance counter mutations
  TxStore: Transactional wrapper (atomic multi-write operations)

APPEND-ONLY CONTRACT:
  Entries have no Update or Delete. The single exception is
  SetPayoutStatus, which flips a PAYOUT entry PENDING→COMPLETED and touches
  nothing else. Corrections are modeled as EXPIRE entries, never edits.

IDEMPOTENCY:
  Append enforces the (subject, order, kind, currency) uniqueness invariant
  for LOCK/MATURE/EXPIRE and returns ErrDuplicateEntry on conflict. This is
  the hard guard under the order-level boolean flags: even if two concurrent
  transitions both observe an unset flag, only one Append can win.

CONDITIONAL UPDATES:
  DebitAvailable is a conditional decrement (available -= x only when
  available >= x), not a read-then-write. This is what lets redemption and
  payout stay correct under concurrent order submissions.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests

SEE ALSO:
  - ledger.go: Higher-level operations built on Store
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// STORE - Entry stream + balance counters
// =============================================================================

// Store handles persistence of ledger entries and balance counters.
type Store interface {
	// Append persists an entry. Returns ErrDuplicateEntry when the
	// (subject, order, kind, currency) invariant would be violated.
	// This is the only way an entry is created.
	Append(ctx context.Context, e Entry) error

	// SetPayoutStatus flips a PAYOUT entry's status. The sole permitted
	// entry mutation. Returns ErrNotFound for unknown ids and
	// ErrInvalidAmount when the entry is not a payout.
	SetPayoutStatus(ctx context.Context, id EntryID, status EntryStatus) error

	// Entries returns all entries for subject+currency, oldest first.
	Entries(ctx context.Context, subject SubjectID, currency Currency) ([]Entry, error)

	// EntriesByOrder returns the entries a single order produced for a
	// subject, oldest first.
	EntriesByOrder(ctx context.Context, subject SubjectID, order OrderID) ([]Entry, error)

	// HasEntry checks the idempotency key.
	HasEntry(ctx context.Context, subject SubjectID, order OrderID, kind EntryKind, currency Currency) (bool, error)

	// Balance returns the cached counters, or the zero balance when the
	// subject has no record yet (balances are created lazily).
	Balance(ctx context.Context, subject SubjectID, currency Currency) (Balance, error)

	// CreditLocked adds to locked and lifetime-earned.
	CreditLocked(ctx context.Context, subject SubjectID, currency Currency, amount Amount) error

	// MoveLockedToAvailable implements maturity:
	//   locked -= min(locked, amount); available += amount
	// Returns clamped=true when locked was insufficient (the
	// ErrInconsistentState path; the caller logs it).
	MoveLockedToAvailable(ctx context.Context, subject SubjectID, currency Currency, amount Amount) (clamped bool, err error)

	// ReleaseLocked subtracts min(locked, amount) from locked without
	// crediting available. Used by cancellation expiry. Returns the amount
	// actually released.
	ReleaseLocked(ctx context.Context, subject SubjectID, currency Currency, amount Amount) (Amount, error)

	// DebitAvailable conditionally decrements available. Returns
	// ErrInsufficientBalance (no write) when available < amount.
	DebitAvailable(ctx context.Context, subject SubjectID, currency Currency, amount Amount) error

	// CreditAvailable adds back to available (payout completion rollback
	// path is not modeled; this exists for administrative adjustments).
	CreditAvailable(ctx context.Context, subject SubjectID, currency Currency, amount Amount) error

	// Subjects lists every subject holding a balance in the currency.
	// Used by the periodic maturity sweep.
	Subjects(ctx context.Context, currency Currency) ([]SubjectID, error)
}

// =============================================================================
// TRANSACTIONAL STORE - Atomic multi-write operations
// =============================================================================

// TxStore wraps Store with transaction support. Every ledger operation that
// writes an entry and moves a counter runs through WithTx: either both
// commit or neither does.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// SWEEP RUNS - Audit records for maturity reconciliation
// =============================================================================

// SweepRun records one reconciler pass over a subject, for audit and for
// the admin UI. Runs are written by the maturity package.
type SweepRun struct {
	ID          string
	SubjectID   SubjectID
	Currency    Currency
	Matured     Amount
	EntryCount  int
	Status      string // "completed" or "failed"
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// RunStore persists sweep run records. Optional: stores that do not
// implement it simply skip run auditing.
type RunStore interface {
	SaveSweepRun(ctx context.Context, run SweepRun) error
	ListSweepRuns(ctx context.Context, subject SubjectID) ([]SweepRun, error)
}
