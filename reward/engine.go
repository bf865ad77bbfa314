/*
Package reward locks purchaser reward points when an order becomes
funds-eligible.

PURPOSE:
  Points are a flat function of the order subtotal: one point per
  PointsDivisor currency subunits, floor-rounded (the default divisor of
  100 gives one point per major currency unit; an order subtotal of 500
  earns 5 points).

THE ASYMMETRY (intentional, must be preserved):
  Commission matures on STATUS - it clears the moment the order completes.
  Reward matures on TIME - Confirm at order completion is a deliberate
  no-op and the points stay locked until the maturity reconciler promotes
  them after the holding period. This models a cooling-off/return period
  for purchasers that agents do not get.

SEE ALSO:
  - maturity/: The reconciler that promotes locked points after 90 days
  - commission/: The status-gated counterpart
*/
package reward

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/order"
)

// DefaultPointsDivisor earns one point per 100 currency subunits.
var DefaultPointsDivisor = decimal.NewFromInt(100)

// Engine implements order.RewardEngine on top of the ledger.
type Engine struct {
	ledger  *ledger.Ledger
	divisor decimal.Decimal
}

func NewEngine(l *ledger.Ledger) *Engine {
	return &Engine{ledger: l, divisor: DefaultPointsDivisor}
}

// NewEngineWithDivisor overrides the subtotal-to-points divisor.
func NewEngineWithDivisor(l *ledger.Ledger, divisor decimal.Decimal) *Engine {
	return &Engine{ledger: l, divisor: divisor}
}

var _ order.RewardEngine = (*Engine)(nil)

// PointsForSubtotal returns floor(subtotal / divisor).
func (e *Engine) PointsForSubtotal(subtotal decimal.Decimal) decimal.Decimal {
	if !subtotal.IsPositive() {
		return decimal.Zero
	}
	return subtotal.Div(e.divisor).Floor()
}

// LockForOrder computes the flat reward and locks it against the
// purchaser. Idempotent via the descriptor flag and the ledger's
// (customer, order, LOCK) uniqueness underneath it.
func (e *Engine) LockForOrder(ctx context.Context, o *order.Order) error {
	if o.Reward.Locked {
		return nil
	}

	points := e.PointsForSubtotal(o.Subtotal)
	if !points.IsPositive() {
		o.Reward.Points = points
		o.Reward.Locked = true
		return nil
	}

	err := e.ledger.Lock(ctx, o.CustomerID, o.ID,
		ledger.NewAmountFromDecimal(points, ledger.CurrencyPoints),
		fmt.Sprintf("reward points for order %s", o.ID))
	if err != nil && !ledger.IsIdempotentSkip(err) {
		return err
	}

	o.Reward.Points = points
	o.Reward.Locked = true
	return nil
}

// Confirm does nothing. Rewards remain locked after order completion and
// become available only through time-based maturity.
func (e *Engine) Confirm(ctx context.Context, o *order.Order) error {
	return nil
}

// Cancel reverses still-locked points with an EXPIRE entry. Points that
// already matured stay with the purchaser.
func (e *Engine) Cancel(ctx context.Context, o *order.Order) error {
	if !o.Reward.Locked || !o.Reward.Points.IsPositive() {
		return nil
	}

	err := e.ledger.Expire(ctx, o.CustomerID, o.ID,
		ledger.NewAmountFromDecimal(o.Reward.Points, ledger.CurrencyPoints),
		fmt.Sprintf("reward points reversed for order %s", o.ID))
	if err != nil && !ledger.IsIdempotentSkip(err) {
		return err
	}
	return nil
}
