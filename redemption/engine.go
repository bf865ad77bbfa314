/*
Package redemption spends a purchaser's available points as a discount
against a new order.

POLICY:
  Redemption CLAMPS, uniformly, at every call site:

    amountUsed = min(requested, available, newOrderSubtotal)

  A request above the available balance is not an error here - the caller
  gets back what was actually used and reduces the order total by it. The
  codebase this replaces had two call sites with different strictness (one
  clamped silently, one hard-failed); one policy now applies everywhere.
  The strict-failure behavior survives only in agent payouts, where
  over-requesting is a genuine client error.

  Redemption never touches the locked balance, and the available decrement
  is a conditional update in the store, so concurrent order submissions
  for the same purchaser cannot overspend.
*/
package redemption

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-ledger/ledger"
)

// Engine spends available reward points.
type Engine struct {
	ledger *ledger.Ledger
}

func NewEngine(l *ledger.Ledger) *Engine {
	return &Engine{ledger: l}
}

// Redeem consumes up to requested points from the subject's available
// balance as a discount on the order being created. Returns the points
// actually used (possibly zero) so the caller can reduce the final total.
//
// Invoked synchronously during new-order creation, before the consuming
// order is persisted; the REDEEM entry is tagged with that order's id.
func (e *Engine) Redeem(ctx context.Context, subject ledger.SubjectID, consumingOrder ledger.OrderID, requested, newOrderSubtotal decimal.Decimal) (decimal.Decimal, error) {
	if !requested.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: requested %v points", ledger.ErrInvalidAmount, requested)
	}

	bal, err := e.ledger.Balance(ctx, subject, ledger.CurrencyPoints)
	if err != nil {
		return decimal.Zero, err
	}

	used := decimal.Min(requested, bal.Available.Value, newOrderSubtotal)
	if !used.IsPositive() {
		return decimal.Zero, nil
	}

	err = e.ledger.Redeem(ctx, subject, consumingOrder,
		ledger.NewAmountFromDecimal(used, ledger.CurrencyPoints),
		fmt.Sprintf("points redeemed against order %s", consumingOrder))
	if err != nil {
		return decimal.Zero, err
	}
	return used, nil
}
