/*
Package order owns the order-side view of the incentive ledger: the order
document with its embedded commission/reward descriptors, the status state
machine, and the driver that decides which ledger engines fire on each
transition.

PURPOSE:
  The ledger is a library invoked in-process; orders are the collaborator
  objects it consumes. This package defines exactly the contract the ledger
  depends on (id, customer, agent, subtotal, status, the two descriptors)
  and nothing else - catalog, payment and shipping concerns live elsewhere.

IDEMPOTENCY MODEL:
  The two Locked flags on the descriptors are the order-side idempotency
  guard: a re-fired status transition sees the flag and skips the credit.
  Underneath them the ledger's (subject, order, kind) entry uniqueness is
  the hard guard, so even two racing transitions that both read an unset
  flag cannot double-credit.

SEE ALSO:
  - driver.go: The status transition state machine
  - notify.go: Fire-and-forget notification sink
*/
package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-ledger/ledger"
)

// =============================================================================
// STATUS - Order lifecycle states
// =============================================================================

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// transitions is the legal-move table. CANCELLED and REFUNDED are reachable
// from any non-terminal state; the four terminal states allow nothing.
var transitions = map[Status][]Status{
	StatusPending:    {StatusPaid, StatusProcessing, StatusCancelled, StatusRefunded},
	StatusPaid:       {StatusProcessing, StatusShipped, StatusCancelled, StatusRefunded},
	StatusProcessing: {StatusShipped, StatusCancelled, StatusRefunded},
	StatusShipped:    {StatusDelivered, StatusCompleted, StatusCancelled, StatusRefunded},
}

// CanTransition reports whether from→to is a legal move.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// FundsEligible reports whether entering this state locks commission and
// reward value.
func (s Status) FundsEligible() bool {
	return s == StatusPaid || s == StatusProcessing
}

// TerminalSuccess reports whether entering this state confirms the
// commission lock. Rewards stay locked here; they mature on time, not on
// status.
func (s Status) TerminalSuccess() bool {
	return s == StatusDelivered || s == StatusCompleted
}

// Reversal reports whether entering this state reverses still-locked value.
func (s Status) Reversal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

// =============================================================================
// ORDER - The collaborator document the ledger reads and writes
// =============================================================================

// CommissionTerms is the commission descriptor embedded in an order.
// AgentID empty means no referring agent is attached.
type CommissionTerms struct {
	AgentID ledger.SubjectID
	Rate    decimal.Decimal // Resolved band rate, recorded at lock time
	Amount  decimal.Decimal // Subtotal × rate, recorded at lock time
	Locked  bool
}

// RewardTerms is the reward descriptor embedded in an order.
type RewardTerms struct {
	Points decimal.Decimal // Recorded at lock time
	Locked bool
}

// TimelineNote is a human-readable line in the order history, appended on
// every transition.
type TimelineNote struct {
	At      time.Time
	Status  Status
	Message string
}

type Order struct {
	ID         ledger.OrderID
	CustomerID ledger.SubjectID
	Subtotal   decimal.Decimal
	Status     Status

	Commission CommissionTerms
	Reward     RewardTerms

	// Points redeemed against this order at creation time, already
	// subtracted from the payable total.
	RedeemedPoints decimal.Decimal

	Timeline []TimelineNote

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasAgent reports whether a referring agent is attached.
func (o *Order) HasAgent() bool { return o.Commission.AgentID != "" }

// AppendNote adds a timeline line. Called inside the driver's critical
// section, before the order is saved.
func (o *Order) AppendNote(at time.Time, status Status, message string) {
	o.Timeline = append(o.Timeline, TimelineNote{At: at, Status: status, Message: message})
}

// =============================================================================
// REPOSITORY - Order persistence contract
// =============================================================================

// Repository is the order provider the driver depends on. Save must be
// atomic: the status, timeline and descriptor flags persist together.
type Repository interface {
	FindByID(ctx context.Context, id ledger.OrderID) (*Order, error)
	Save(ctx context.Context, o *Order) error
}

// =============================================================================
// ENGINE CONTRACTS - Implemented by commission/ and reward/
// =============================================================================

// CommissionEngine locks and confirms agent commission for an order.
// Implementations are constructor-injected into the Driver; the driver
// never resolves engines ad hoc.
type CommissionEngine interface {
	// LockForOrder is a no-op success when no agent is attached or the
	// descriptor flag is already set.
	LockForOrder(ctx context.Context, o *Order) error

	// Confirm moves the locked commission to available. Skips when already
	// confirmed.
	Confirm(ctx context.Context, o *Order) error

	// Cancel reverses a still-locked commission. Value already matured is
	// left alone.
	Cancel(ctx context.Context, o *Order) error
}

// RewardEngine locks purchaser reward points for an order. Confirm is a
// deliberate no-op: points mature on time via the maturity reconciler.
type RewardEngine interface {
	LockForOrder(ctx context.Context, o *Order) error
	Confirm(ctx context.Context, o *Order) error
	Cancel(ctx context.Context, o *Order) error
}
