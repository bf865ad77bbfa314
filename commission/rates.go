/*
Package commission computes and settles referral agent commissions.

PURPOSE:
  When an order with a referring agent becomes funds-eligible, the engine
  resolves the agent's rate from a tiered band schedule, locks the earned
  amount against the agent, and later - when the order reaches a terminal
  success state - confirms the lock, moving the money to available.
  Commission maturity is status-gated, not time-gated: it models the return
  window being logically over at order completion.

BAND SEMANTICS:
  A band is {MinSubtotal, Rate}. The highest-qualifying band wins; ties
  break toward the largest MinSubtotal. Rates are percentages:
  Rate 8 on subtotal 1000 earns 80.

  The schedule is a small, infrequently-updated shared table. Readers may
  see a stale band mid-transaction; that is acceptable and lookups are not
  serialized against schedule writers.

SEE ALSO:
  - engine.go: Lock/confirm/cancel and agent payouts
  - reward/: The time-gated counterpart for purchaser points
*/
package commission

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE SCHEDULE
// =============================================================================

// Band maps a subtotal floor to a commission percentage.
type Band struct {
	MinSubtotal decimal.Decimal
	Rate        decimal.Decimal // Percent: 5 means 5%
}

// RateSchedule resolves the commission rate for an order subtotal.
type RateSchedule interface {
	// RateFor returns the best-matching band rate, or the default rate
	// when no band qualifies.
	RateFor(subtotal decimal.Decimal) decimal.Decimal
}

// StaticSchedule is an in-memory RateSchedule with replaceable bands.
type StaticSchedule struct {
	mu          sync.RWMutex
	bands       []Band
	defaultRate decimal.Decimal
}

// NewSchedule creates a schedule. Bands may arrive in any order; they are
// kept sorted by MinSubtotal ascending.
func NewSchedule(defaultRate decimal.Decimal, bands ...Band) *StaticSchedule {
	s := &StaticSchedule{defaultRate: defaultRate}
	s.SetBands(bands)
	return s
}

// SetBands replaces the band table. Safe for concurrent use with readers;
// in-flight lookups may still observe the previous table.
func (s *StaticSchedule) SetBands(bands []Band) {
	sorted := append([]Band{}, bands...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].MinSubtotal.LessThan(sorted[j].MinSubtotal)
	})

	s.mu.Lock()
	s.bands = sorted
	s.mu.Unlock()
}

// Bands returns a copy of the current band table, sorted by MinSubtotal.
func (s *StaticSchedule) Bands() []Band {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Band{}, s.bands...)
}

func (s *StaticSchedule) RateFor(subtotal decimal.Decimal) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rate := s.defaultRate
	// Bands are sorted ascending, so the last qualifying band is both the
	// highest floor and the tie-break winner.
	for _, b := range s.bands {
		if subtotal.GreaterThanOrEqual(b.MinSubtotal) {
			rate = b.Rate
		}
	}
	return rate
}
