/*
engine.go - Commission lock/confirm/cancel and agent payouts

IDEMPOTENCY:
  LockForOrder is safe to call on every status transition. Three layered
  guards make the replay a no-op:
    1. No agent attached → nothing to do, success.
    2. The order's Commission.Locked flag is set → success.
    3. The ledger's (agent, order, LOCK) uniqueness rejects a second
       append even when two racing callers both saw the flag unset.

PAYOUTS:
  Unlike redemption (which clamps), payout requests are strict: asking for
  more than the available balance is ErrInsufficientBalance with no write.
  The PAYOUT entry starts PENDING and is completed by the settlement side.
*/
package commission

import (
	"context"
	"fmt"
	"log"

	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/order"
)

// Engine implements order.CommissionEngine on top of the ledger.
type Engine struct {
	ledger *ledger.Ledger
	rates  RateSchedule
}

func NewEngine(l *ledger.Ledger, rates RateSchedule) *Engine {
	return &Engine{ledger: l, rates: rates}
}

var _ order.CommissionEngine = (*Engine)(nil)

// LockForOrder resolves the agent's band rate, records one LOCK entry and
// credits the agent's locked commission balance. No-op success when no
// agent is attached or the descriptor flag is already set.
func (e *Engine) LockForOrder(ctx context.Context, o *order.Order) error {
	if !o.HasAgent() || o.Commission.Locked {
		return nil
	}

	rate := e.rates.RateFor(o.Subtotal)
	amount := o.Subtotal.Mul(rate).Div(hundred)

	if !amount.IsPositive() {
		// Zero-value commission: set the guard so the transition is not
		// re-evaluated, but write nothing.
		o.Commission.Rate = rate
		o.Commission.Amount = amount
		o.Commission.Locked = true
		return nil
	}

	err := e.ledger.Lock(ctx, o.Commission.AgentID, o.ID,
		ledger.NewAmountFromDecimal(amount, ledger.CurrencyMoney),
		fmt.Sprintf("commission for order %s at %s%%", o.ID, rate))
	if err != nil && !ledger.IsIdempotentSkip(err) {
		return err
	}

	o.Commission.Rate = rate
	o.Commission.Amount = amount
	o.Commission.Locked = true
	return nil
}

// Confirm moves the locked commission to available. Status-gated maturity:
// fires when the order reaches a terminal success state. Skips when a
// MATURE entry for this order already exists.
func (e *Engine) Confirm(ctx context.Context, o *order.Order) error {
	if !o.HasAgent() || !o.Commission.Locked || !o.Commission.Amount.IsPositive() {
		return nil
	}

	clamped, err := e.ledger.Mature(ctx, o.Commission.AgentID, o.ID,
		ledger.NewAmountFromDecimal(o.Commission.Amount, ledger.CurrencyMoney),
		fmt.Sprintf("commission cleared for order %s", o.ID))
	if err != nil {
		if ledger.IsIdempotentSkip(err) {
			return nil
		}
		return err
	}
	if clamped {
		log.Printf("[Commission] %s: locked balance short during confirm of order %s: %v",
			o.Commission.AgentID, o.ID, ledger.ErrInconsistentState)
	}
	return nil
}

// Cancel reverses the still-locked commission with an EXPIRE entry.
// Commission already matured to available is not clawed back.
func (e *Engine) Cancel(ctx context.Context, o *order.Order) error {
	if !o.HasAgent() || !o.Commission.Locked || !o.Commission.Amount.IsPositive() {
		return nil
	}

	err := e.ledger.Expire(ctx, o.Commission.AgentID, o.ID,
		ledger.NewAmountFromDecimal(o.Commission.Amount, ledger.CurrencyMoney),
		fmt.Sprintf("commission reversed for order %s", o.ID))
	if err != nil && !ledger.IsIdempotentSkip(err) {
		return err
	}
	return nil
}

// =============================================================================
// PAYOUTS
// =============================================================================

// RequestPayout withdraws available commission for an agent. Strict
// balance check; see package comment.
func (e *Engine) RequestPayout(ctx context.Context, agent ledger.SubjectID, amount ledger.Amount) (ledger.EntryID, error) {
	if amount.Currency != ledger.CurrencyMoney {
		return "", fmt.Errorf("%w: payout currency must be money", ledger.ErrInvalidAmount)
	}
	return e.ledger.RequestPayout(ctx, agent, amount, "agent payout request")
}

// CompletePayout settles a pending payout entry.
func (e *Engine) CompletePayout(ctx context.Context, id ledger.EntryID) error {
	return e.ledger.CompletePayout(ctx, id)
}

var hundred = ledger.MustParseDecimal("100")
