/*
Package ledger provides the core incentive ledger engine.

PURPOSE:
  This package contains the types and invariants shared by every engine that
  touches purchaser reward points or agent commissions. Both currencies flow
  through the same locked→available lifecycle: value is locked when an order
  becomes funds-eligible, and matures to available either on order completion
  (commission) or after a fixed holding period (rewards).

KEY CONCEPTS IN THIS FILE (types.go):
  - Amount: A decimal quantity with a currency (points or money)
  - Entry: An immutable ledger record of one balance-affecting event
  - Balance: Locked/available counters, a projection of the entry stream
  - Subject/Order IDs: Type-safe identifiers

DESIGN PRINCIPLES:
  1. Immutability: Entries are never modified once written (the single
     exception is a PAYOUT entry's status, PENDING→COMPLETED)
  2. Precision: Uses decimal.Decimal to avoid floating-point errors
  3. Single source of truth: the entry stream; balances are cached projections
  4. Idempotency: at most one LOCK and one MATURE per (subject, order, currency)

USAGE:
  amount := ledger.NewAmount(50, ledger.CurrencyMoney)
  entry := ledger.Entry{
      SubjectID: "agent-7",
      OrderID:   "order-123",
      Kind:      ledger.KindLock,
      Amount:    amount,
  }

SEE ALSO:
  - store.go: Persistence interface
  - ledger.go: Atomic balance operations built on the store
  - errors.go: Sentinel and structured errors
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// AMOUNT - Decimal quantity with a currency
// =============================================================================

// Currency distinguishes the two value streams. A subject holds one balance
// per currency; points and money are never mixed in a single balance.
type Currency string

const (
	// CurrencyPoints is the purchaser reward currency (whole points).
	CurrencyPoints Currency = "points"

	// CurrencyMoney is the agent commission currency.
	CurrencyMoney Currency = "money"
)

type Amount struct {
	Value    decimal.Decimal
	Currency Currency
}

func NewAmount(value float64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromFloat(value), Currency: currency}
}

func NewAmountFromInt(value int64, currency Currency) Amount {
	return Amount{Value: decimal.NewFromInt(value), Currency: currency}
}

func NewAmountFromDecimal(value decimal.Decimal, currency Currency) Amount {
	return Amount{Value: value, Currency: currency}
}

func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func (a Amount) Zero() Amount                 { return Amount{Value: decimal.Zero, Currency: a.Currency} }
func (a Amount) Add(b Amount) Amount          { return Amount{Value: a.Value.Add(b.Value), Currency: a.Currency} }
func (a Amount) Sub(b Amount) Amount          { return Amount{Value: a.Value.Sub(b.Value), Currency: a.Currency} }
func (a Amount) Mul(s decimal.Decimal) Amount { return Amount{Value: a.Value.Mul(s), Currency: a.Currency} }
func (a Amount) Neg() Amount                  { return Amount{Value: a.Value.Neg(), Currency: a.Currency} }
func (a Amount) Abs() Amount                  { return Amount{Value: a.Value.Abs(), Currency: a.Currency} }
func (a Amount) IsNegative() bool             { return a.Value.IsNegative() }
func (a Amount) IsZero() bool                 { return a.Value.IsZero() }
func (a Amount) IsPositive() bool             { return a.Value.IsPositive() }
func (a Amount) GreaterThan(b Amount) bool    { return a.Value.GreaterThan(b.Value) }
func (a Amount) LessThan(b Amount) bool       { return a.Value.LessThan(b.Value) }
func (a Amount) Equal(b Amount) bool          { return a.Value.Equal(b.Value) }
func (a Amount) Min(b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

// SubjectID identifies a party holding a balance: a payee (agent) or a
// rewardee (purchaser).
type SubjectID string

// OrderID identifies the order an entry was earned or spent against.
type OrderID string

type EntryID string

// =============================================================================
// ENTRY - Immutable audit record of one balance-affecting event
// =============================================================================

type EntryKind string

const (
	KindLock   EntryKind = "lock"   // Value earned, owed but not yet spendable (positive)
	KindMature EntryKind = "mature" // Locked value promoted to available (positive)
	KindRedeem EntryKind = "redeem" // Available points spent against a new order (negative)
	KindExpire EntryKind = "expire" // Locked value reversed on cancellation (negative)
	KindPayout EntryKind = "payout" // Available commission withdrawn by an agent (negative)
)

// EntryStatus applies to PAYOUT entries only. All other kinds are written as
// StatusCompleted and never change.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusCompleted EntryStatus = "completed"
)

// Entry is an append-only audit record.
//
// INVARIANTS:
//   - Never mutated once written, except a PAYOUT entry's Status field.
//   - For a given (subject, order, currency) at most one LOCK, one MATURE and
//     one EXPIRE entry may exist. This uniqueness is the idempotency key the
//     maturity reconciler and the order status driver rely on.
//   - LOCK and MATURE amounts are positive; REDEEM, EXPIRE and PAYOUT are
//     negative.
type Entry struct {
	ID        EntryID
	SubjectID SubjectID
	OrderID   OrderID // Empty for payouts (not tied to an order)
	Kind      EntryKind
	Amount    Amount // Signed
	Note      string
	Status    EntryStatus
	CreatedAt time.Time
}

// UniquePerOrder reports whether this kind participates in the
// (subject, order, kind, currency) uniqueness invariant.
func (k EntryKind) UniquePerOrder() bool {
	return k == KindLock || k == KindMature || k == KindExpire
}

// =============================================================================
// BALANCE - Cached projection of the entry stream
// =============================================================================

// Balance holds the per-subject aggregate counters for one currency.
//
// INVARIANTS:
//   - Locked >= 0 and Available >= 0 at all times.
//   - Locked + Available never decreases except via redemption, payout or
//     expiry, and only increases via a matching ledger entry.
type Balance struct {
	SubjectID SubjectID
	Currency  Currency
	Locked    Amount
	Available Amount

	// LifetimeEarned accumulates every LOCK; it is never reduced.
	LifetimeEarned Amount
}

// NewBalance returns the lazily-created zero balance for a subject. A balance
// record exists only once the subject first earns or redeems.
func NewBalance(subject SubjectID, currency Currency) Balance {
	zero := NewAmountFromInt(0, currency)
	return Balance{
		SubjectID:      subject,
		Currency:       currency,
		Locked:         zero,
		Available:      zero,
		LifetimeEarned: zero,
	}
}

func (b Balance) Total() Amount { return b.Locked.Add(b.Available) }
