/*
driver.go - Order status driver (state machine)

PURPOSE:
  Receives status transition requests from the surrounding backend and
  decides which ledger engines fire, in which sequence:

    | Entering state       | Ledger effect                                  |
    |----------------------|------------------------------------------------|
    | PAID, PROCESSING     | lock commission, lock reward (idempotent)      |
    | DELIVERED, COMPLETED | confirm commission; reward stays locked        |
    | CANCELLED, REFUNDED  | expire still-locked value; notify agent        |
    | any                  | timeline note; purchaser notification          |

ATOMICITY:
  A transition is one logical unit. The engines run first; if any ledger
  step fails the order is NOT saved, the caller sees the error and the
  order remains in its prior status. Only after every effect succeeds are
  the new status, the descriptor flags and the timeline note persisted in
  a single Repository.Save.

CONCURRENCY:
  Transitions on the same order serialize on a per-order mutex. Two racing
  transitions that both pass the flag check still cannot double-credit:
  the store's (subject, order, kind) uniqueness rejects the second append
  and the engine treats that as already-processed.

SEE ALSO:
  - types.go: Transition legality table
  - commission/, reward/: Engine implementations
*/
package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/warp/incentive-ledger/ledger"
)

// ErrIllegalTransition is returned for moves the state machine forbids.
var ErrIllegalTransition = errors.New("illegal status transition")

// =============================================================================
// DRIVER
// =============================================================================

// Driver applies status transitions and their ledger effects. All
// dependencies are constructor-injected; there are no process-wide
// singletons behind it.
type Driver struct {
	orders     Repository
	commission CommissionEngine
	reward     RewardEngine
	notifier   Notifier
	now        func() time.Time

	mu    sync.Mutex
	locks map[ledger.OrderID]*sync.Mutex
}

func NewDriver(orders Repository, commission CommissionEngine, reward RewardEngine, notifier Notifier) *Driver {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Driver{
		orders:     orders,
		commission: commission,
		reward:     reward,
		notifier:   notifier,
		now:        time.Now,
		locks:      make(map[ledger.OrderID]*sync.Mutex),
	}
}

// SetClock overrides the driver's clock. Tests only.
func (d *Driver) SetClock(now func() time.Time) { d.now = now }

// Transition moves an order to a new status and applies the ledger effects
// for the state being entered. Safe to call repeatedly with the same
// target: the engines' idempotency guards turn the replay into a no-op,
// though the move itself must still be legal from the current status.
func (d *Driver) Transition(ctx context.Context, id ledger.OrderID, to Status) (*Order, error) {
	lock := d.orderLock(id)
	lock.Lock()
	defer lock.Unlock()

	o, err := d.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if o == nil {
		return nil, fmt.Errorf("order %s: %w", id, ledger.ErrNotFound)
	}

	if !CanTransition(o.Status, to) {
		return nil, fmt.Errorf("%w: %s → %s", ErrIllegalTransition, o.Status, to)
	}

	if err := d.applyEffects(ctx, o, to); err != nil {
		// Order not saved: the status stays where it was and the caller
		// surfaces the error.
		return nil, err
	}

	prior := o.Status
	o.Status = to
	o.UpdatedAt = d.now()
	o.AppendNote(o.UpdatedAt, to, fmt.Sprintf("status changed from %s to %s", prior, to))

	if err := d.orders.Save(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to save order %s: %w", id, err)
	}

	d.notify(ctx, o, to)
	return o, nil
}

func (d *Driver) applyEffects(ctx context.Context, o *Order, to Status) error {
	switch {
	case to.FundsEligible():
		if err := d.commission.LockForOrder(ctx, o); err != nil && !ledger.IsIdempotentSkip(err) {
			if ledger.IsNotFound(err) {
				// A missing agent is reported, not fatal to the transition.
				log.Printf("[Driver] order %s: commission skipped: %v", o.ID, err)
			} else {
				return fmt.Errorf("commission lock for order %s: %w", o.ID, err)
			}
		}
		if err := d.reward.LockForOrder(ctx, o); err != nil && !ledger.IsIdempotentSkip(err) {
			return fmt.Errorf("reward lock for order %s: %w", o.ID, err)
		}

	case to.TerminalSuccess():
		if err := d.commission.Confirm(ctx, o); err != nil && !ledger.IsIdempotentSkip(err) {
			return fmt.Errorf("commission confirm for order %s: %w", o.ID, err)
		}
		// Reward confirm does nothing; points only mature with time.
		if err := d.reward.Confirm(ctx, o); err != nil && !ledger.IsIdempotentSkip(err) {
			return fmt.Errorf("reward confirm for order %s: %w", o.ID, err)
		}

	case to.Reversal():
		if err := d.commission.Cancel(ctx, o); err != nil && !ledger.IsIdempotentSkip(err) {
			return fmt.Errorf("commission reversal for order %s: %w", o.ID, err)
		}
		if err := d.reward.Cancel(ctx, o); err != nil && !ledger.IsIdempotentSkip(err) {
			return fmt.Errorf("reward reversal for order %s: %w", o.ID, err)
		}
	}
	return nil
}

// notify fires after the transition is committed. Sink failures are the
// sink's problem: implementations never propagate errors back here.
func (d *Driver) notify(ctx context.Context, o *Order, to Status) {
	d.notifier.Notify(ctx, o.CustomerID, RoleCustomer,
		"Order update",
		fmt.Sprintf("Your order %s is now %s", o.ID, to),
		CategoryOrderStatus)

	if to.Reversal() && o.HasAgent() {
		d.notifier.Notify(ctx, o.Commission.AgentID, RoleAgent,
			"Order cancelled",
			fmt.Sprintf("Order %s was %s; pending commission was reversed", o.ID, to),
			CategoryCommission)
	}
}

func (d *Driver) orderLock(id ledger.OrderID) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	if l, ok := d.locks[id]; ok {
		return l
	}
	l := &sync.Mutex{}
	d.locks[id] = l
	return l
}
