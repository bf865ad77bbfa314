/*
ledger.go - Atomic ledger operations

PURPOSE:
  The Ledger is the single write path for incentive value. Every engine
  (commission, reward, redemption, maturity) funnels its balance mutations
  through here so the two sides of the ledger - the append-only entry
  stream and the cached counters - always move together.

CRITICAL INVARIANTS:
  1. One LOCK, one MATURE, one EXPIRE per (subject, order, currency). EVER.
  2. Entry + counter mutation commit in one store transaction.
  3. Balances never go negative; redemption and payout are conditional.
  4. Re-applying an operation returns ErrAlreadyProcessed, not a second write.

WHY A SINGLE WRITE PATH?
  The system this replaces kept two independently-evolving mechanisms over
  the same purchaser balance (an embedded history array and a separate
  transaction collection), updated from different call sites. They drifted.
  Here the entry stream is the one source of truth and Audit() can prove
  the counters agree with it at any time.

CORRECTIONS:
  Mistakes and cancellations are not edits. An EXPIRE entry reverses a
  locked amount; the original LOCK remains in the stream. The only field
  mutation allowed anywhere is a PAYOUT entry's PENDING→COMPLETED status.

SEE ALSO:
  - store.go: Persistence interface
  - maturity/: Time-based promotion of LOCK entries
*/
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER
// =============================================================================

// Ledger performs atomic balance operations on a TxStore.
//
// The zero value is not usable; construct with New. Now is injectable for
// tests and defaults to time.Now.
type Ledger struct {
	store TxStore
	now   func() time.Time
}

func New(store TxStore) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// NewWithClock creates a ledger with an injected clock. Tests use this to
// place LOCK entries in the past.
func NewWithClock(store TxStore, now func() time.Time) *Ledger {
	return &Ledger{store: store, now: now}
}

// Store exposes the underlying store for read-side collaborators.
func (l *Ledger) Store() TxStore { return l.store }

// =============================================================================
// WRITE OPERATIONS
// =============================================================================

// Lock records newly earned value as owed-but-not-spendable.
// Returns ErrAlreadyProcessed when a LOCK for this (subject, order,
// currency) already exists.
func (l *Ledger) Lock(ctx context.Context, subject SubjectID, order OrderID, amount Amount, note string) error {
	if err := validatePositive(amount); err != nil {
		return err
	}

	return l.store.WithTx(ctx, func(s Store) error {
		exists, err := s.HasEntry(ctx, subject, order, KindLock, amount.Currency)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyProcessed
		}

		if err := s.Append(ctx, l.newEntry(subject, order, KindLock, amount, note)); err != nil {
			return err
		}
		return s.CreditLocked(ctx, subject, amount.Currency, amount)
	})
}

// Mature promotes a previously locked amount to available. The amount must
// match the LOCK it settles; the (subject, order) MATURE uniqueness makes
// repeated confirmation a no-op.
//
// Returns clamped=true when the locked counter held less than the entry
// stream implies (ErrInconsistentState territory - the caller logs it, the
// operation still succeeds).
func (l *Ledger) Mature(ctx context.Context, subject SubjectID, order OrderID, amount Amount, note string) (clamped bool, err error) {
	if err := validatePositive(amount); err != nil {
		return false, err
	}

	err = l.store.WithTx(ctx, func(s Store) error {
		exists, err := s.HasEntry(ctx, subject, order, KindMature, amount.Currency)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyProcessed
		}

		if err := s.Append(ctx, l.newEntry(subject, order, KindMature, amount, note)); err != nil {
			return err
		}
		clamped, err = s.MoveLockedToAvailable(ctx, subject, amount.Currency, amount)
		return err
	})
	return clamped, err
}

// Expire reverses a still-locked amount after cancellation. The EXPIRE
// entry carries the negative amount; only min(locked, amount) is actually
// released so an out-of-band drift can never drive locked below zero.
// Idempotent per (subject, order, currency).
func (l *Ledger) Expire(ctx context.Context, subject SubjectID, order OrderID, amount Amount, note string) error {
	if err := validatePositive(amount); err != nil {
		return err
	}

	return l.store.WithTx(ctx, func(s Store) error {
		exists, err := s.HasEntry(ctx, subject, order, KindExpire, amount.Currency)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyProcessed
		}

		// Value that already matured left the return window; it is not
		// clawed back.
		matured, err := s.HasEntry(ctx, subject, order, KindMature, amount.Currency)
		if err != nil {
			return err
		}
		if matured {
			return ErrAlreadyProcessed
		}

		released, err := s.ReleaseLocked(ctx, subject, amount.Currency, amount)
		if err != nil {
			return err
		}
		if released.IsZero() {
			// Nothing was locked anymore (already matured); record nothing.
			return ErrAlreadyProcessed
		}
		return s.Append(ctx, l.newEntry(subject, order, KindExpire, released.Neg(), note))
	})
}

// Redeem spends available value against a consuming order. The caller has
// already clamped amount to the available balance; the conditional debit
// is the backstop against concurrent spends.
func (l *Ledger) Redeem(ctx context.Context, subject SubjectID, consumingOrder OrderID, amount Amount, note string) error {
	if err := validatePositive(amount); err != nil {
		return err
	}

	return l.store.WithTx(ctx, func(s Store) error {
		if err := s.DebitAvailable(ctx, subject, amount.Currency, amount); err != nil {
			return err
		}
		return s.Append(ctx, l.newEntry(subject, consumingOrder, KindRedeem, amount.Neg(), note))
	})
}

// RequestPayout withdraws available commission. Strict: a request above the
// available balance is ErrInsufficientBalance, no write. The PAYOUT entry
// starts PENDING and is the one entry whose status may later change.
func (l *Ledger) RequestPayout(ctx context.Context, subject SubjectID, amount Amount, note string) (EntryID, error) {
	if err := validatePositive(amount); err != nil {
		return "", err
	}

	entry := l.newEntry(subject, "", KindPayout, amount.Neg(), note)
	entry.Status = StatusPending

	err := l.store.WithTx(ctx, func(s Store) error {
		bal, err := s.Balance(ctx, subject, amount.Currency)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(amount) {
			return &InsufficientBalanceError{
				SubjectID: subject,
				Currency:  amount.Currency,
				Available: bal.Available,
				Requested: amount,
			}
		}
		if err := s.DebitAvailable(ctx, subject, amount.Currency, amount); err != nil {
			return err
		}
		return s.Append(ctx, entry)
	})
	if err != nil {
		return "", err
	}
	return entry.ID, nil
}

// CompletePayout marks a pending payout as settled.
func (l *Ledger) CompletePayout(ctx context.Context, id EntryID) error {
	return l.store.SetPayoutStatus(ctx, id, StatusCompleted)
}

// MatureBatch promotes a set of LOCK entries in ONE store transaction: one
// MATURE entry per lock, then a single balance move for the summed amount.
// The full eligible set commits together so a concurrent reader can never
// observe a partial-maturity state mid-sweep.
//
// Locks that already gained a MATURE entry (a racing sweep, or a
// status-gated confirm) are skipped, not failed. Returns the total amount
// actually matured and whether the locked counter had to be clamped.
func (l *Ledger) MatureBatch(ctx context.Context, subject SubjectID, currency Currency, locks []Entry, note string) (total Amount, clamped bool, err error) {
	total = NewAmountFromInt(0, currency)

	err = l.store.WithTx(ctx, func(s Store) error {
		for _, lock := range locks {
			exists, err := s.HasEntry(ctx, subject, lock.OrderID, KindMature, currency)
			if err != nil {
				return err
			}
			if exists {
				continue
			}
			if err := s.Append(ctx, l.newEntry(subject, lock.OrderID, KindMature, lock.Amount, note)); err != nil {
				return err
			}
			total = total.Add(lock.Amount)
		}

		if total.IsZero() {
			return nil
		}
		var moveErr error
		clamped, moveErr = s.MoveLockedToAvailable(ctx, subject, currency, total)
		return moveErr
	})
	if err != nil {
		return NewAmountFromInt(0, currency), false, err
	}
	return total, clamped, nil
}

// =============================================================================
// READ OPERATIONS
// =============================================================================

// Statement returns the full entry history for a subject, oldest first.
func (l *Ledger) Statement(ctx context.Context, subject SubjectID, currency Currency) ([]Entry, error) {
	return l.store.Entries(ctx, subject, currency)
}

// Balance returns the cached counters.
func (l *Ledger) Balance(ctx context.Context, subject SubjectID, currency Currency) (Balance, error) {
	return l.store.Balance(ctx, subject, currency)
}

// UnmaturedLocks returns LOCK entries created at or before cutoff that have
// no MATURE or EXPIRE entry for the same order yet. This is the eligible
// set the maturity reconciler promotes.
func (l *Ledger) UnmaturedLocks(ctx context.Context, subject SubjectID, currency Currency, cutoff time.Time) ([]Entry, error) {
	entries, err := l.store.Entries(ctx, subject, currency)
	if err != nil {
		return nil, err
	}

	settled := make(map[OrderID]bool)
	for _, e := range entries {
		if e.Kind == KindMature || e.Kind == KindExpire {
			settled[e.OrderID] = true
		}
	}

	var eligible []Entry
	for _, e := range entries {
		if e.Kind != KindLock || settled[e.OrderID] {
			continue
		}
		if e.CreatedAt.After(cutoff) {
			continue
		}
		eligible = append(eligible, e)
	}
	return eligible, nil
}

// =============================================================================
// CONSERVATION AUDIT
// =============================================================================

// AuditReport compares the cached counters against the entry stream.
type AuditReport struct {
	SubjectID SubjectID
	Currency  Currency
	Balance   Balance

	// Sums over the entry stream (MATURE counted once as a lifecycle move,
	// not as new value).
	Locked    Amount // sum(LOCK) - sum(MATURE) + sum(EXPIRE, negative)
	Available Amount // sum(MATURE) + sum(REDEEM) + sum(PAYOUT), signed

	Consistent bool
}

// Audit verifies conservation: for any subject,
//
//	sum(LOCK) = locked + available + spent + expired
//
// where spent and expired are the absolute REDEEM/PAYOUT/EXPIRE totals.
// A false Consistent flag means the counters drifted from the stream.
func (l *Ledger) Audit(ctx context.Context, subject SubjectID, currency Currency) (AuditReport, error) {
	entries, err := l.store.Entries(ctx, subject, currency)
	if err != nil {
		return AuditReport{}, err
	}
	bal, err := l.store.Balance(ctx, subject, currency)
	if err != nil {
		return AuditReport{}, err
	}

	zero := NewAmountFromInt(0, currency)
	locked, available := zero, zero
	for _, e := range entries {
		switch e.Kind {
		case KindLock:
			locked = locked.Add(e.Amount)
		case KindMature:
			locked = locked.Sub(e.Amount)
			available = available.Add(e.Amount)
		case KindExpire:
			locked = locked.Add(e.Amount) // negative amount
		case KindRedeem, KindPayout:
			available = available.Add(e.Amount) // negative amounts
		}
	}

	report := AuditReport{
		SubjectID: subject,
		Currency:  currency,
		Balance:   bal,
		Locked:    locked,
		Available: available,
	}
	report.Consistent = bal.Locked.Equal(locked) && bal.Available.Equal(available)
	return report, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (l *Ledger) newEntry(subject SubjectID, order OrderID, kind EntryKind, amount Amount, note string) Entry {
	return Entry{
		ID:        EntryID(uuid.NewString()),
		SubjectID: subject,
		OrderID:   order,
		Kind:      kind,
		Amount:    amount,
		Note:      note,
		Status:    StatusCompleted,
		CreatedAt: l.now(),
	}
}

func validatePositive(a Amount) error {
	if !a.IsPositive() {
		return fmt.Errorf("%w: %v %s", ErrInvalidAmount, a.Value, a.Currency)
	}
	return nil
}
