package redemption_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-ledger/ledger"
	lstore "github.com/warp/incentive-ledger/ledger/store"
	"github.com/warp/incentive-ledger/redemption"
)

func dec(s string) decimal.Decimal { return ledger.MustParseDecimal(s) }

// newTestEngine returns an engine over a customer holding the given
// available points balance.
func newTestEngine(t *testing.T, available string) (*redemption.Engine, *ledger.Ledger) {
	t.Helper()
	led := ledger.New(lstore.NewTxMemory())
	ctx := context.Background()

	amt := ledger.NewAmountFromDecimal(dec(available), ledger.CurrencyPoints)
	if err := led.Lock(ctx, "cust-1", "earn-order", amt, "reward"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}
	if _, err := led.Mature(ctx, "cust-1", "earn-order", amt, "holding period over"); err != nil {
		t.Fatalf("seed mature: %v", err)
	}
	return redemption.NewEngine(led), led
}

func TestEngine_Redeem_ClampsToSmallestBound(t *testing.T) {
	// Requested 1000, available 300, order subtotal 250: exactly 250 is
	// consumed and 50 remains available.

	e, led := newTestEngine(t, "300")
	ctx := context.Background()

	used, err := e.Redeem(ctx, "cust-1", "o-2", dec("1000"), dec("250"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !used.Equal(dec("250")) {
		t.Errorf("used = %s, want 250", used)
	}

	b, _ := led.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	if !b.Available.Value.Equal(dec("50")) {
		t.Errorf("available = %s, want 50", b.Available.Value)
	}

	// Exactly one negative REDEEM entry for the clamped amount.
	entries, _ := led.Statement(ctx, "cust-1", ledger.CurrencyPoints)
	var redeems int
	for _, entry := range entries {
		if entry.Kind == ledger.KindRedeem {
			redeems++
			if !entry.Amount.Value.Equal(dec("-250")) {
				t.Errorf("redeem entry amount = %s, want -250", entry.Amount.Value)
			}
		}
	}
	if redeems != 1 {
		t.Errorf("redeem entries = %d, want 1", redeems)
	}
}

func TestEngine_Redeem_ClampsToAvailable(t *testing.T) {
	e, _ := newTestEngine(t, "300")

	used, err := e.Redeem(context.Background(), "cust-1", "o-2", dec("500"), dec("5000"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !used.Equal(dec("300")) {
		t.Errorf("used = %s, want 300 (whole available balance)", used)
	}
}

func TestEngine_Redeem_ZeroAvailable_NoEntry(t *testing.T) {
	led := ledger.New(lstore.NewTxMemory())
	e := redemption.NewEngine(led)
	ctx := context.Background()

	used, err := e.Redeem(ctx, "cust-1", "o-1", dec("100"), dec("500"))
	if err != nil {
		t.Fatalf("redeem with empty balance should clamp to zero, got %v", err)
	}
	if !used.IsZero() {
		t.Errorf("used = %s, want 0", used)
	}

	entries, _ := led.Statement(ctx, "cust-1", ledger.CurrencyPoints)
	if len(entries) != 0 {
		t.Errorf("no entries expected, got %d", len(entries))
	}
}

func TestEngine_Redeem_NonPositiveRequest_Rejected(t *testing.T) {
	e, _ := newTestEngine(t, "300")

	_, err := e.Redeem(context.Background(), "cust-1", "o-2", dec("0"), dec("500"))
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for zero request, got %v", err)
	}

	_, err = e.Redeem(context.Background(), "cust-1", "o-2", dec("-10"), dec("500"))
	if !errors.Is(err, ledger.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for negative request, got %v", err)
	}
}

func TestEngine_Redeem_LockedPointsNotSpendable(t *testing.T) {
	led := ledger.New(lstore.NewTxMemory())
	e := redemption.NewEngine(led)
	ctx := context.Background()

	amt := ledger.NewAmountFromDecimal(dec("300"), ledger.CurrencyPoints)
	if err := led.Lock(ctx, "cust-1", "earn-order", amt, "reward"); err != nil {
		t.Fatalf("seed lock: %v", err)
	}

	used, err := e.Redeem(ctx, "cust-1", "o-2", dec("100"), dec("500"))
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !used.IsZero() {
		t.Errorf("used = %s, want 0: locked points are not spendable", used)
	}
}
