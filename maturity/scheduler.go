/*
scheduler.go - Periodic maturity sweep

PURPOSE:
  Runs the reconciler over every point-holding subject on a fixed
  interval, independent of any user action. The lazy reconcile on profile
  read keeps a single user's view fresh; this sweep keeps everyone else's
  balances moving even if they never log in.

DESIGN:
  - Background goroutine with a configurable check interval
  - Runs once immediately on Start
  - Records a sweep run per subject (when the store supports it) for
    audit and the admin UI
  - Safe to trigger manually with RunNow

USAGE:
  scheduler := maturity.NewScheduler(reconciler, store)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package maturity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/warp/incentive-ledger/ledger"
)

// Scheduler sweeps all subjects periodically.
type Scheduler struct {
	Reconciler    *Reconciler
	Store         ledger.Store
	Runs          ledger.RunStore // nil disables run auditing
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewScheduler creates a scheduler. The store's RunStore side is used for
// audit records when it implements one.
func NewScheduler(reconciler *Reconciler, store ledger.Store) *Scheduler {
	s := &Scheduler{
		Reconciler:    reconciler,
		Store:         store,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
	if rs, ok := store.(ledger.RunStore); ok {
		s.Runs = rs
	}
	return s
}

// Start begins the background sweep.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled {
		log.Println("[Maturity] Scheduler disabled, not starting")
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.wg.Add(1)
	go s.run()

	log.Printf("[Maturity] Scheduler started with check interval: %v", s.CheckInterval)
}

// Stop stops the background sweep and waits for an in-flight pass.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		log.Println("[Maturity] Scheduler stopped")
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Run immediately on start
	s.sweep()

	for {
		select {
		case <-s.ticker.C:
			s.sweep()
		case <-s.stop:
			return
		}
	}
}

// RunNow triggers an immediate sweep (for admin endpoints and tests).
func (s *Scheduler) RunNow() {
	s.sweep()
}

func (s *Scheduler) sweep() {
	ctx := context.Background()

	subjects, err := s.Store.Subjects(ctx, ledger.CurrencyPoints)
	if err != nil {
		log.Printf("[Maturity] Error listing subjects: %v", err)
		return
	}

	maturedCount := 0
	for _, subject := range subjects {
		started := time.Now()
		result, err := s.Reconciler.Reconcile(ctx, subject)

		run := ledger.SweepRun{
			ID:          uuid.NewString(),
			SubjectID:   subject,
			Currency:    ledger.CurrencyPoints,
			Matured:     result.Matured,
			EntryCount:  result.Entries,
			Status:      "completed",
			StartedAt:   started,
			CompletedAt: time.Now(),
		}
		if err != nil {
			log.Printf("[Maturity] Error reconciling %s: %v", subject, err)
			run.Status = "failed"
			run.Error = err.Error()
		} else if result.Entries > 0 {
			maturedCount++
		}

		// Run records are best-effort audit; skip silently-disabled stores
		// but log real failures.
		if s.Runs != nil && (err != nil || result.Entries > 0) {
			if saveErr := s.Runs.SaveSweepRun(ctx, run); saveErr != nil {
				log.Printf("[Maturity] Error saving sweep run for %s: %v", subject, saveErr)
			}
		}
	}

	if maturedCount > 0 {
		log.Printf("[Maturity] Sweep completed: %d of %d subjects matured", maturedCount, len(subjects))
	}
}
