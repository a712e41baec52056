// Package store provides an in-memory ledger.Store for tests and dev.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mydairy/settlement-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	entries      map[ledger.CustomerID][]ledger.CollectionEntry
	payments     map[ledger.CustomerID][]ledger.Payment
	utilizations map[ledger.CustomerID][]ledger.AdvanceUtilization
	advances     map[ledger.AdvanceID]ledger.Advance
	rules        map[ledger.RuleID]ledger.RateRule
}

func NewMemory() *Memory {
	return &Memory{
		entries:      make(map[ledger.CustomerID][]ledger.CollectionEntry),
		payments:     make(map[ledger.CustomerID][]ledger.Payment),
		utilizations: make(map[ledger.CustomerID][]ledger.AdvanceUtilization),
		advances:     make(map[ledger.AdvanceID]ledger.Advance),
		rules:        make(map[ledger.RuleID]ledger.RateRule),
	}
}

// -----------------------------------------------------------------------------
// Collection entries (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) AppendEntry(_ context.Context, e ledger.CollectionEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.CustomerID] = append(m.entries[e.CustomerID], e)
	return nil
}

func (m *Memory) EntriesInRange(_ context.Context, customerID ledger.CustomerID, from, to ledger.Date) ([]ledger.CollectionEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.CollectionEntry
	for _, e := range m.entries[customerID] {
		if inRange(e.Date, from, to) {
			result = append(result, e)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Payments (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) AppendPayment(_ context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[p.CustomerID] = append(m.payments[p.CustomerID], p)
	return nil
}

func (m *Memory) PaymentsInRange(_ context.Context, customerID ledger.CustomerID, from, to ledger.Date) ([]ledger.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Payment
	for _, p := range m.payments[customerID] {
		if inRange(p.Date, from, to) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Advances (mutable, single writer: AdvanceBook)
// -----------------------------------------------------------------------------

func (m *Memory) SaveAdvance(_ context.Context, a ledger.Advance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advances[a.ID] = a
	return nil
}

func (m *Memory) Advance(_ context.Context, id ledger.AdvanceID) (ledger.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.advances[id]
	if !ok {
		return ledger.Advance{}, ledger.ErrAdvanceNotFound
	}
	return a, nil
}

func (m *Memory) AdvancesByCustomer(_ context.Context, customerID ledger.CustomerID) ([]ledger.Advance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Advance
	for _, a := range m.advances {
		if a.CustomerID == customerID {
			result = append(result, a)
		}
	}
	// FIFO draw order: oldest issued first, ID as the same-day tiebreak.
	sort.Slice(result, func(i, j int) bool {
		if !result[i].IssuedDate.Equal(result[j].IssuedDate) {
			return result[i].IssuedDate.Before(result[j].IssuedDate)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Utilizations (append-only)
// -----------------------------------------------------------------------------

func (m *Memory) AppendUtilization(_ context.Context, u ledger.AdvanceUtilization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utilizations[u.CustomerID] = append(m.utilizations[u.CustomerID], u)
	return nil
}

// CommitDraw applies a staged draw under one lock; readers never observe a
// partially applied draw.
func (m *Memory) CommitDraw(_ context.Context, advances []ledger.Advance, utilizations []ledger.AdvanceUtilization) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range advances {
		m.advances[a.ID] = a
	}
	for _, u := range utilizations {
		m.utilizations[u.CustomerID] = append(m.utilizations[u.CustomerID], u)
	}
	return nil
}

func (m *Memory) UtilizationsInRange(_ context.Context, customerID ledger.CustomerID, from, to ledger.Date) ([]ledger.AdvanceUtilization, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.AdvanceUtilization
	for _, u := range m.utilizations[customerID] {
		if inRange(u.Date, from, to) {
			result = append(result, u)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// -----------------------------------------------------------------------------
// Rate rules
// -----------------------------------------------------------------------------

func (m *Memory) SaveRateRule(_ context.Context, r ledger.RateRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[r.ID] = r
	return nil
}

func (m *Memory) RateRule(_ context.Context, id ledger.RuleID) (ledger.RateRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rules[id]
	if !ok {
		return ledger.RateRule{}, ledger.ErrNoMatchingRateRule
	}
	return r, nil
}

func (m *Memory) ActiveRateRules(_ context.Context) ([]ledger.RateRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.RateRule
	for _, r := range m.rules {
		if r.Active {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func inRange(d, from, to ledger.Date) bool {
	return d.AfterOrEqual(from) && d.BeforeOrEqual(to)
}
