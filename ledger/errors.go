/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Engine packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Lookup errors - Missing subjects or orders
  2. Validation errors - Bad amounts, over-redemption
  3. Idempotency errors - Duplicate entries, already-processed guards

PROPAGATION POLICY:
  ErrAlreadyProcessed is success, not failure: transition handlers are
  retriable and a re-fired status transition must be a no-op. The order
  status driver checks errors.Is(err, ErrAlreadyProcessed) and carries on.

  ErrInconsistentState marks the clamp path: the maturity sweep
  found less locked balance than the entry stream implies. The balance is
  clamped, the condition is logged, and the caller never crashes.

SEE ALSO:
  - ledger.go: Uses these errors
  - store.go: Store implementations map uniqueness violations to ErrDuplicateEntry
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced subject, order or entry does
	// not exist. Propagated to the caller with no partial mutation.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned for non-positive or non-finite amounts.
	// Rejected before any write.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInsufficientBalance is returned when a payout exceeds the available
	// balance. Redemption clamps instead (see redemption package).
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyProcessed is returned when an idempotency guard is already
	// set. Callers treat it as success so retried transitions stay simple.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrDuplicateEntry is returned by stores when the (subject, order, kind)
	// uniqueness invariant would be violated.
	ErrDuplicateEntry = errors.New("duplicate ledger entry")

	// ErrInconsistentState is returned when the locked balance is smaller
	// than the amount the entry stream says should mature. The mutation is
	// clamped; this error is logged, never fatal.
	ErrInconsistentState = errors.New("inconsistent balance state")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	SubjectID SubjectID
	Currency  Currency
	Available Amount
	Requested Amount
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %v, requested %v",
		e.SubjectID, e.Available.Value, e.Requested.Value)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// SubjectNotFoundError identifies which subject lookup failed.
type SubjectNotFoundError struct {
	SubjectID SubjectID
}

func (e *SubjectNotFoundError) Error() string {
	return fmt.Sprintf("subject not found: %s", e.SubjectID)
}

func (e *SubjectNotFoundError) Unwrap() error { return ErrNotFound }

// DuplicateEntryError identifies the conflicting idempotency key.
type DuplicateEntryError struct {
	SubjectID SubjectID
	OrderID   OrderID
	Kind      EntryKind
}

func (e *DuplicateEntryError) Error() string {
	return fmt.Sprintf("duplicate %s entry for subject=%s order=%s", e.Kind, e.SubjectID, e.OrderID)
}

func (e *DuplicateEntryError) Unwrap() error { return ErrDuplicateEntry }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInconsistentState)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientBalance)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsIdempotentSkip returns true if the error means the work was already done.
// Callers treat it as success.
func IsIdempotentSkip(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrDuplicateEntry)
}
