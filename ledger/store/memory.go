// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/incentive-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu       sync.RWMutex
	entries  map[ledger.SubjectID][]ledger.Entry
	balances map[balanceKey]ledger.Balance
	unique   map[uniqueKey]bool
	runs     map[ledger.SubjectID][]ledger.SweepRun
}

type balanceKey struct {
	Subject  ledger.SubjectID
	Currency ledger.Currency
}

type uniqueKey struct {
	Subject  ledger.SubjectID
	Order    ledger.OrderID
	Kind     ledger.EntryKind
	Currency ledger.Currency
}

func NewMemory() *Memory {
	return &Memory{
		entries:  make(map[ledger.SubjectID][]ledger.Entry),
		balances: make(map[balanceKey]ledger.Balance),
		unique:   make(map[uniqueKey]bool),
		runs:     make(map[ledger.SubjectID][]ledger.SweepRun),
	}
}

// Append adds a single entry. Append-only.
func (m *Memory) Append(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLocked(e)
}

func (m *Memory) appendLocked(e ledger.Entry) error {
	if e.Kind.UniquePerOrder() {
		k := uniqueKey{Subject: e.SubjectID, Order: e.OrderID, Kind: e.Kind, Currency: e.Amount.Currency}
		if m.unique[k] {
			return &ledger.DuplicateEntryError{SubjectID: e.SubjectID, OrderID: e.OrderID, Kind: e.Kind}
		}
		m.unique[k] = true
	}

	txs := m.entries[e.SubjectID]

	// Binary search keeps the slice ordered by CreatedAt with O(log n)
	// comparisons instead of a full re-sort on each append.
	i := sort.Search(len(txs), func(i int) bool {
		return txs[i].CreatedAt.After(e.CreatedAt)
	})
	txs = append(txs, ledger.Entry{})
	copy(txs[i+1:], txs[i:])
	txs[i] = e
	m.entries[e.SubjectID] = txs
	return nil
}

func (m *Memory) SetPayoutStatus(_ context.Context, id ledger.EntryID, status ledger.EntryStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for subject, txs := range m.entries {
		for i, e := range txs {
			if e.ID != id {
				continue
			}
			if e.Kind != ledger.KindPayout {
				return ledger.ErrNotFound
			}
			txs[i].Status = status
			m.entries[subject] = txs
			return nil
		}
	}
	return ledger.ErrNotFound
}

func (m *Memory) Entries(_ context.Context, subject ledger.SubjectID, currency ledger.Currency) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries[subject] {
		if e.Amount.Currency == currency {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) EntriesByOrder(_ context.Context, subject ledger.SubjectID, order ledger.OrderID) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for _, e := range m.entries[subject] {
		if e.OrderID == order {
			result = append(result, e)
		}
	}
	return result, nil
}

func (m *Memory) HasEntry(_ context.Context, subject ledger.SubjectID, order ledger.OrderID, kind ledger.EntryKind, currency ledger.Currency) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.unique[uniqueKey{Subject: subject, Order: order, Kind: kind, Currency: currency}], nil
}

func (m *Memory) Balance(_ context.Context, subject ledger.SubjectID, currency ledger.Currency) (ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(subject, currency), nil
}

func (m *Memory) balanceLocked(subject ledger.SubjectID, currency ledger.Currency) ledger.Balance {
	k := balanceKey{Subject: subject, Currency: currency}
	if b, ok := m.balances[k]; ok {
		return b
	}
	return ledger.NewBalance(subject, currency)
}

func (m *Memory) CreditLocked(_ context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(subject, currency)
	b.Locked = b.Locked.Add(amount)
	b.LifetimeEarned = b.LifetimeEarned.Add(amount)
	m.balances[balanceKey{Subject: subject, Currency: currency}] = b
	return nil
}

func (m *Memory) MoveLockedToAvailable(_ context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(subject, currency)
	clamped := b.Locked.LessThan(amount)
	b.Locked = b.Locked.Sub(amount.Min(b.Locked))
	b.Available = b.Available.Add(amount)
	m.balances[balanceKey{Subject: subject, Currency: currency}] = b
	return clamped, nil
}

func (m *Memory) ReleaseLocked(_ context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) (ledger.Amount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(subject, currency)
	released := amount.Min(b.Locked)
	b.Locked = b.Locked.Sub(released)
	m.balances[balanceKey{Subject: subject, Currency: currency}] = b
	return released, nil
}

func (m *Memory) DebitAvailable(_ context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(subject, currency)
	if b.Available.LessThan(amount) {
		return &ledger.InsufficientBalanceError{
			SubjectID: subject,
			Currency:  currency,
			Available: b.Available,
			Requested: amount,
		}
	}
	b.Available = b.Available.Sub(amount)
	m.balances[balanceKey{Subject: subject, Currency: currency}] = b
	return nil
}

func (m *Memory) CreditAvailable(_ context.Context, subject ledger.SubjectID, currency ledger.Currency, amount ledger.Amount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := m.balanceLocked(subject, currency)
	b.Available = b.Available.Add(amount)
	m.balances[balanceKey{Subject: subject, Currency: currency}] = b
	return nil
}

func (m *Memory) Subjects(_ context.Context, currency ledger.Currency) ([]ledger.SubjectID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subjects []ledger.SubjectID
	for k := range m.balances {
		if k.Currency == currency {
			subjects = append(subjects, k.Subject)
		}
	}
	sort.Slice(subjects, func(i, j int) bool { return subjects[i] < subjects[j] })
	return subjects, nil
}

// =============================================================================
// SWEEP RUN RECORDS (ledger.RunStore)
// =============================================================================

func (m *Memory) SaveSweepRun(_ context.Context, run ledger.SweepRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	runs := m.runs[run.SubjectID]
	for i, r := range runs {
		if r.ID == run.ID {
			runs[i] = run
			m.runs[run.SubjectID] = runs
			return nil
		}
	}
	m.runs[run.SubjectID] = append(runs, run)
	return nil
}

func (m *Memory) ListSweepRuns(_ context.Context, subject ledger.SubjectID) ([]ledger.SweepRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.SweepRun, len(m.runs[subject]))
	copy(result, m.runs[subject])
	return result, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
	txMu sync.Mutex
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction, simulated with a snapshot and a
// rollback on error. Transactions are serialized; the memory store has no
// MVCC.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	tm.txMu.Lock()
	defer tm.txMu.Unlock()

	snapshot := tm.snapshot()
	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	entries := make(map[ledger.SubjectID][]ledger.Entry, len(tm.entries))
	for k, v := range tm.entries {
		entries[k] = append([]ledger.Entry{}, v...)
	}
	balances := make(map[balanceKey]ledger.Balance, len(tm.balances))
	for k, v := range tm.balances {
		balances[k] = v
	}
	unique := make(map[uniqueKey]bool, len(tm.unique))
	for k, v := range tm.unique {
		unique[k] = v
	}
	return memorySnapshot{entries: entries, balances: balances, unique: unique}
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.entries = s.entries
	tm.balances = s.balances
	tm.unique = s.unique
}

type memorySnapshot struct {
	entries  map[ledger.SubjectID][]ledger.Entry
	balances map[balanceKey]ledger.Balance
	unique   map[uniqueKey]bool
}
