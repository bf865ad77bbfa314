package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-ledger/ledger"
	"github.com/warp/incentive-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestLedger(t *testing.T) *ledger.Ledger {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return ledger.New(store)
}

func money(s string) ledger.Amount {
	return ledger.NewAmountFromDecimal(ledger.MustParseDecimal(s), ledger.CurrencyMoney)
}

func points(s string) ledger.Amount {
	return ledger.NewAmountFromDecimal(ledger.MustParseDecimal(s), ledger.CurrencyPoints)
}

// =============================================================================
// LOCK TESTS
// =============================================================================

func TestLedger_Lock_CreditsLockedAndLifetime(t *testing.T) {
	// GIVEN: An empty ledger
	// WHEN: 50 is locked for an order
	// THEN: Locked and lifetime earned rise, available stays zero

	l := newTestLedger(t)
	ctx := context.Background()

	err := l.Lock(ctx, "agent-1", "order-1", money("50"), "commission")
	require.NoError(t, err)

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Locked.Equal(money("50")), "locked should be 50, got %s", b.Locked.Value)
	assert.True(t, b.Available.IsZero(), "available should be zero before maturity")
	assert.True(t, b.LifetimeEarned.Equal(money("50")), "lifetime earned should be 50")
}

func TestLedger_Lock_SameOrderTwice_Rejected(t *testing.T) {
	// GIVEN: A lock already recorded for (subject, order)
	// WHEN: The same lock is replayed
	// THEN: ErrAlreadyProcessed, and the balance is unchanged

	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))

	err := l.Lock(ctx, "agent-1", "order-1", money("50"), "commission")
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Locked.Equal(money("50")), "replay must not double-credit")
}

func TestLedger_Lock_NonPositiveAmount_Rejected(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	err := l.Lock(ctx, "agent-1", "order-1", money("0"), "zero")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	err = l.Lock(ctx, "agent-1", "order-1", money("-5"), "negative")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

// =============================================================================
// MATURITY TESTS
// =============================================================================

func TestLedger_Mature_MovesLockedToAvailable(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))

	clamped, err := l.Mature(ctx, "agent-1", "order-1", money("50"), "cleared")
	require.NoError(t, err)
	assert.False(t, clamped)

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Locked.IsZero(), "locked should drain on maturity")
	assert.True(t, b.Available.Equal(money("50")), "available should receive the matured value")
	assert.True(t, b.LifetimeEarned.Equal(money("50")), "maturity is a move, not new value")
}

func TestLedger_Mature_SameOrderTwice_Rejected(t *testing.T) {
	// Two racing sweeps confirm the same order. The second must not
	// double-credit available.

	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))
	_, err := l.Mature(ctx, "agent-1", "order-1", money("50"), "cleared")
	require.NoError(t, err)

	_, err = l.Mature(ctx, "agent-1", "order-1", money("50"), "cleared")
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(money("50")))
}

// =============================================================================
// EXPIRE TESTS
// =============================================================================

func TestLedger_Expire_ReleasesLockedValue(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "cust-1", "order-1", points("5"), "reward"))

	err := l.Expire(ctx, "cust-1", "order-1", points("5"), "order cancelled")
	require.NoError(t, err)

	b, err := l.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	require.NoError(t, err)
	assert.True(t, b.Locked.IsZero(), "cancellation should release the locked value")
	assert.True(t, b.Available.IsZero())

	// The reversal is visible in the stream as a negative EXPIRE entry.
	entries, err := l.Statement(ctx, "cust-1", ledger.CurrencyPoints)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ledger.KindExpire, entries[1].Kind)
	assert.True(t, entries[1].Amount.Value.IsNegative(), "EXPIRE entries are negative")
}

func TestLedger_Expire_AfterMature_Rejected(t *testing.T) {
	// GIVEN: A lock that already matured to available
	// WHEN: A late cancellation tries to expire it
	// THEN: Rejected; matured value is never clawed back

	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))
	_, err := l.Mature(ctx, "agent-1", "order-1", money("50"), "cleared")
	require.NoError(t, err)

	err = l.Expire(ctx, "agent-1", "order-1", money("50"), "late cancellation")
	assert.ErrorIs(t, err, ledger.ErrAlreadyProcessed)

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(money("50")), "matured value stays available")
}

func TestLedger_Expire_OnlyTargetOrderReleased(t *testing.T) {
	// A subject with two locked orders cancels one. The other order's
	// locked value must survive.

	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))
	require.NoError(t, l.Lock(ctx, "agent-1", "order-2", money("30"), "commission"))

	require.NoError(t, l.Expire(ctx, "agent-1", "order-1", money("50"), "cancelled"))

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Locked.Equal(money("30")), "order-2 lock must survive, got %s", b.Locked.Value)
}

// =============================================================================
// REDEEM TESTS
// =============================================================================

func TestLedger_Redeem_DebitsAvailable(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "cust-1", "order-1", points("300"), "reward"))
	_, err := l.Mature(ctx, "cust-1", "order-1", points("300"), "holding period over")
	require.NoError(t, err)

	err = l.Redeem(ctx, "cust-1", "order-2", points("250"), "spent")
	require.NoError(t, err)

	b, err := l.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(points("50")))
}

func TestLedger_Redeem_InsufficientAvailable_Rejected(t *testing.T) {
	// Locked points are not spendable.

	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "cust-1", "order-1", points("300"), "reward"))

	err := l.Redeem(ctx, "cust-1", "order-2", points("10"), "spent")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	b, err := l.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	require.NoError(t, err)
	assert.True(t, b.Locked.Equal(points("300")), "failed redeem must not touch locked")
}

// =============================================================================
// PAYOUT TESTS
// =============================================================================

func TestLedger_RequestPayout_StrictBalanceCheck(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))
	_, err := l.Mature(ctx, "agent-1", "order-1", money("50"), "cleared")
	require.NoError(t, err)

	// Over-withdrawal fails with no write.
	_, err = l.RequestPayout(ctx, "agent-1", money("80"), "payout")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(money("50")), "failed payout must not debit")
}

func TestLedger_Payout_PendingThenCompleted(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "agent-1", "order-1", money("50"), "commission"))
	_, err := l.Mature(ctx, "agent-1", "order-1", money("50"), "cleared")
	require.NoError(t, err)

	id, err := l.RequestPayout(ctx, "agent-1", money("40"), "payout")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// The debit happens at request time, while the entry stays pending.
	b, err := l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(money("10")))

	entries, err := l.Statement(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	last := entries[len(entries)-1]
	assert.Equal(t, ledger.KindPayout, last.Kind)
	assert.Equal(t, ledger.StatusPending, last.Status)

	require.NoError(t, l.CompletePayout(ctx, id))

	entries, err = l.Statement(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	last = entries[len(entries)-1]
	assert.Equal(t, ledger.StatusCompleted, last.Status)

	// Completion does not debit again.
	b, err = l.Balance(ctx, "agent-1", ledger.CurrencyMoney)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(money("10")))
}

// =============================================================================
// CONSERVATION AND AUDIT
// =============================================================================

func TestLedger_Audit_ConsistentThroughLifecycle(t *testing.T) {
	// Replay of the entry stream must match the cached counters after a
	// full lock→mature→redeem sequence.

	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "cust-1", "order-1", points("5"), "reward"))
	require.NoError(t, l.Lock(ctx, "cust-1", "order-2", points("7"), "reward"))
	_, err := l.Mature(ctx, "cust-1", "order-1", points("5"), "holding period over")
	require.NoError(t, err)
	require.NoError(t, l.Redeem(ctx, "cust-1", "order-3", points("3"), "spent"))

	report, err := l.Audit(ctx, "cust-1", ledger.CurrencyPoints)
	require.NoError(t, err)
	assert.True(t, report.Consistent, "cached balance must equal the stream replay")
	assert.True(t, report.Balance.Locked.Equal(points("7")))
	assert.True(t, report.Balance.Available.Equal(points("2")))
}

func TestLedger_UnmaturedLocks_TimeCutoff(t *testing.T) {
	// Only locks created at or before the cutoff and not yet matured or
	// expired are eligible.

	base := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	l := ledger.NewWithClock(store, func() time.Time { return clock })
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "cust-1", "order-old", points("5"), "reward"))

	clock = base.Add(60 * 24 * time.Hour)
	require.NoError(t, l.Lock(ctx, "cust-1", "order-new", points("7"), "reward"))

	// Cutoff at +30 days: only the old lock qualifies.
	locks, err := l.UnmaturedLocks(ctx, "cust-1", ledger.CurrencyPoints, base.Add(30*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, locks, 1)
	assert.Equal(t, ledger.OrderID("order-old"), locks[0].OrderID)

	// After the old lock matures it drops out of the eligible set.
	_, err = l.Mature(ctx, "cust-1", "order-old", points("5"), "holding period over")
	require.NoError(t, err)

	locks, err = l.UnmaturedLocks(ctx, "cust-1", ledger.CurrencyPoints, base.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestLedger_MatureBatch_SkipsAlreadyMatured(t *testing.T) {
	l := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Lock(ctx, "cust-1", "order-1", points("5"), "reward"))
	require.NoError(t, l.Lock(ctx, "cust-1", "order-2", points("7"), "reward"))
	_, err := l.Mature(ctx, "cust-1", "order-1", points("5"), "early")
	require.NoError(t, err)

	locks, err := l.UnmaturedLocks(ctx, "cust-1", ledger.CurrencyPoints, time.Now().Add(time.Hour))
	require.NoError(t, err)

	total, clamped, err := l.MatureBatch(ctx, "cust-1", ledger.CurrencyPoints, locks, "sweep")
	require.NoError(t, err)
	assert.False(t, clamped)
	assert.True(t, total.Equal(points("7")), "only order-2 should mature, got %s", total.Value)

	b, err := l.Balance(ctx, "cust-1", ledger.CurrencyPoints)
	require.NoError(t, err)
	assert.True(t, b.Available.Equal(points("12")))
	assert.True(t, b.Locked.IsZero())
}
