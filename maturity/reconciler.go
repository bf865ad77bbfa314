/*
Package maturity promotes locked reward points to available once their
holding period has elapsed.

PURPOSE:
  Reward points lock when an order becomes funds-eligible and stay locked
  through order completion (the cooling-off window). This package is the
  time-driven half of the lifecycle: a sweep that finds LOCK entries past
  the holding period with no MATURE entry yet, and promotes each exactly
  once.

ALGORITHM (per subject):
  1. cutoff = now − holding period (90 days by default)
  2. Select LOCK entries with CreatedAt ≤ cutoff lacking a MATURE or
     EXPIRE for the same (subject, order)
  3. One MATURE entry per eligible lock, carrying the same amount
  4. One atomic balance move: locked -= min(locked, total); available += total

  Step 3 and 4 commit in a single store transaction (ledger.MatureBatch),
  so no reader observes a half-swept balance. The min clamp in step 4
  guards against locked having been reduced out-of-band and is logged as
  an inconsistency when it fires.

CONCURRENCY:
  Reconcile self-serializes per subject on an advisory mutex; under it the
  store's (subject, order, MATURE) uniqueness makes a racing out-of-process
  sweep lose cleanly instead of double-maturing.

INVOCATION:
  Lazily before a profile read (api package), or periodically for all
  subjects (scheduler.go). Idempotent: an immediate second call matures
  nothing and moves nothing.
*/
package maturity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/incentive-ledger/ledger"
)

// DefaultHoldingPeriod is the fixed delay before locked reward points
// become available.
const DefaultHoldingPeriod = 90 * 24 * time.Hour

// Result summarizes one reconciliation pass.
type Result struct {
	SubjectID ledger.SubjectID
	Matured   ledger.Amount
	Entries   int
	Clamped   bool
}

// Reconciler promotes matured LOCK entries. Construct with NewReconciler;
// the clock is injectable for the time-gating tests.
type Reconciler struct {
	ledger        *ledger.Ledger
	HoldingPeriod time.Duration
	now           func() time.Time

	mu    sync.Mutex
	locks map[ledger.SubjectID]*sync.Mutex
}

func NewReconciler(l *ledger.Ledger) *Reconciler {
	return &Reconciler{
		ledger:        l,
		HoldingPeriod: DefaultHoldingPeriod,
		now:           time.Now,
		locks:         make(map[ledger.SubjectID]*sync.Mutex),
	}
}

// SetClock overrides the reconciler's clock. Tests only.
func (r *Reconciler) SetClock(now func() time.Time) { r.now = now }

// Reconcile promotes every locked point entry for the subject whose
// holding period has elapsed. Idempotent, safe to call arbitrarily often.
func (r *Reconciler) Reconcile(ctx context.Context, subject ledger.SubjectID) (Result, error) {
	lock := r.subjectLock(subject)
	lock.Lock()
	defer lock.Unlock()

	zero := ledger.NewAmountFromInt(0, ledger.CurrencyPoints)
	cutoff := r.now().Add(-r.HoldingPeriod)

	eligible, err := r.ledger.UnmaturedLocks(ctx, subject, ledger.CurrencyPoints, cutoff)
	if err != nil {
		return Result{SubjectID: subject, Matured: zero}, err
	}
	if len(eligible) == 0 {
		return Result{SubjectID: subject, Matured: zero}, nil
	}

	total, clamped, err := r.ledger.MatureBatch(ctx, subject, ledger.CurrencyPoints, eligible,
		"reward points matured after holding period")
	if err != nil {
		return Result{SubjectID: subject, Matured: zero}, err
	}
	if clamped {
		log.Printf("[Maturity] %s: locked balance short during sweep: %v",
			subject, ledger.ErrInconsistentState)
	}

	return Result{
		SubjectID: subject,
		Matured:   total,
		Entries:   len(eligible),
		Clamped:   clamped,
	}, nil
}

func (r *Reconciler) subjectLock(subject ledger.SubjectID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.locks[subject]; ok {
		return l
	}
	l := &sync.Mutex{}
	r.locks[subject] = l
	return l
}
