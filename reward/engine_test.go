package reward_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-ledger/ledger"
	lstore "github.com/warp/incentive-ledger/ledger/store"
	"github.com/warp/incentive-ledger/order"
	"github.com/warp/incentive-ledger/reward"
)

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

func newTestEngine() (*reward.Engine, *ledger.Ledger) {
	led := ledger.New(lstore.NewTxMemory())
	return reward.NewEngine(led), led
}

func rewardOrder(id, customer, subtotal string) *order.Order {
	return &order.Order{
		ID:         ledger.OrderID(id),
		CustomerID: ledger.SubjectID(customer),
		Subtotal:   dec(subtotal),
		Status:     order.StatusPaid,
	}
}

// =============================================================================
// POINT COMPUTATION
// =============================================================================

func TestEngine_PointsForSubtotal_FloorsFractions(t *testing.T) {
	e, _ := newTestEngine()

	cases := []struct {
		subtotal string
		want     string
	}{
		{"500", "5"},
		{"950", "9"},   // 9.5 floors to 9
		{"999", "9"},   // 9.99 floors to 9
		{"99", "0"},    // below one point
		{"100", "1"},   // exact boundary
		{"0", "0"},
	}
	for _, c := range cases {
		got := e.PointsForSubtotal(dec(c.subtotal))
		if !got.Equal(dec(c.want)) {
			t.Errorf("PointsForSubtotal(%s) = %s, want %s", c.subtotal, got, c.want)
		}
	}
}

func TestEngine_CustomDivisor(t *testing.T) {
	led := ledger.New(lstore.NewTxMemory())
	e := reward.NewEngineWithDivisor(led, dec("50"))

	if got := e.PointsForSubtotal(dec("500")); !got.Equal(dec("10")) {
		t.Errorf("PointsForSubtotal(500) with divisor 50 = %s, want 10", got)
	}
}

// =============================================================================
// LOCK AND LIFECYCLE
// =============================================================================

func TestEngine_LockForOrder_LocksPoints(t *testing.T) {
	e, led := newTestEngine()
	ctx := context.Background()

	o := rewardOrder("o-1", "cust-1", "500")
	if err := e.LockForOrder(ctx, o); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if !o.Reward.Locked {
		t.Error("descriptor flag should be set")
	}
	if !o.Reward.Points.Equal(dec("5")) {
		t.Errorf("points = %s, want 5", o.Reward.Points)
	}

	b, _ := led.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	if !b.Locked.Value.Equal(dec("5")) {
		t.Errorf("locked = %s, want 5", b.Locked.Value)
	}
}

func TestEngine_LockForOrder_ZeroPoints_FlagWithoutEntry(t *testing.T) {
	// A 99 subtotal earns nothing, but the flag still flips so the
	// transition is not re-evaluated forever.

	e, led := newTestEngine()
	ctx := context.Background()

	o := rewardOrder("o-1", "cust-1", "99")
	if err := e.LockForOrder(ctx, o); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if !o.Reward.Locked {
		t.Error("flag should be set even for zero points")
	}

	entries, _ := led.Statement(ctx, "cust-1", ledger.CurrencyPoints)
	if len(entries) != 0 {
		t.Errorf("no entries expected for zero points, got %d", len(entries))
	}
}

func TestEngine_Confirm_KeepsPointsLocked(t *testing.T) {
	// Order completion does not mature points; only the holding period
	// does.

	e, led := newTestEngine()
	ctx := context.Background()

	o := rewardOrder("o-1", "cust-1", "500")
	if err := e.LockForOrder(ctx, o); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.Confirm(ctx, o); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	b, _ := led.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	if !b.Locked.Value.Equal(dec("5")) {
		t.Errorf("locked = %s, want 5 after confirm", b.Locked.Value)
	}
	if !b.Available.Value.IsZero() {
		t.Errorf("available = %s, want 0 after confirm", b.Available.Value)
	}
}

func TestEngine_Cancel_ReleasesLockedPoints(t *testing.T) {
	e, led := newTestEngine()
	ctx := context.Background()

	o := rewardOrder("o-1", "cust-1", "500")
	if err := e.LockForOrder(ctx, o); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := e.Cancel(ctx, o); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	b, _ := led.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	if !b.Locked.Value.IsZero() {
		t.Errorf("locked = %s, want 0 after cancel", b.Locked.Value)
	}
}
