/*
advance.go - Advance issuance and FIFO utilization

PURPOSE:
  Tracks pre-paid advances per customer and the accounting discipline that
  lets a principal be progressively consumed by later settlements without
  double counting.

FIFO DRAW:
  Utilize draws from the oldest active advance first, splitting across
  advances when the oldest alone cannot cover the amount. Each advance
  touched produces one AdvanceUtilization event, so the passbook shows
  exactly which advance funded a settlement. An advance flips to exhausted
  at the moment utilized reaches principal, never beyond it.

NO PARTIAL DRAW:
  If the requested amount exceeds the customer's available balance the
  whole utilization is rejected; nothing is drawn. The caller resolves the
  conflict (e.g. offers a smaller draw).

CANCELLATION:
  Cancel is terminal. It removes remaining capacity only; already-utilized
  amounts are not reversed. A cancelled advance is skipped by FIFO and
  contributes nothing to the available balance.

CONCURRENCY:
  Two concurrent settlements must not both read the same available balance
  and each believe they own it - the one place a race causes real
  financial error. AdvanceBook holds a per-customer mutex across every
  read-then-write sequence (Issue, Utilize, Cancel).

SEE ALSO:
  - types.go:   Advance invariants and the draw transition
  - compile.go: Utilization events appear in the statement as credits
*/
package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ADVANCE BOOK
// =============================================================================

// AdvanceBook is the single writer for advances and utilization events.
type AdvanceBook struct {
	store Store

	mu    sync.Mutex
	locks map[CustomerID]*sync.Mutex
}

func NewAdvanceBook(store Store) *AdvanceBook {
	return &AdvanceBook{
		store: store,
		locks: make(map[CustomerID]*sync.Mutex),
	}
}

// customerLock serializes advance writes per customer.
func (b *AdvanceBook) customerLock(id CustomerID) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[id]
	if !ok {
		l = &sync.Mutex{}
		b.locks[id] = l
	}
	return l
}

// Issue disburses a new advance. Fails with ErrInvalidAmount before any
// state change if the principal is not positive.
func (b *AdvanceBook) Issue(ctx context.Context, customerID CustomerID, principal decimal.Decimal, date Date, note string) (Advance, error) {
	adv, err := NewAdvance(AdvanceID(uuid.NewString()), customerID, principal, date, note)
	if err != nil {
		return Advance{}, err
	}

	l := b.customerLock(customerID)
	l.Lock()
	defer l.Unlock()

	if err := b.store.SaveAdvance(ctx, adv); err != nil {
		return Advance{}, fmt.Errorf("issue advance: %w", err)
	}
	return adv, nil
}

// AvailableBalance sums principal minus utilized over the customer's
// non-cancelled advances.
func (b *AdvanceBook) AvailableBalance(ctx context.Context, customerID CustomerID) (decimal.Decimal, error) {
	advances, err := b.store.AdvancesByCustomer(ctx, customerID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range advances {
		total = total.Add(a.Available())
	}
	return total, nil
}

// Utilize draws the amount from the customer's advances, oldest first.
// Returns one utilization record per advance touched. Fails with
// ErrInvalidAmount for non-positive amounts and with an
// InsufficientAdvanceError when the amount exceeds the available balance;
// in both cases nothing is drawn.
func (b *AdvanceBook) Utilize(ctx context.Context, customerID CustomerID, amount decimal.Decimal, date Date) ([]AdvanceUtilization, error) {
	if !amount.IsPositive() {
		return nil, ErrInvalidAmount
	}
	if date.Before(MinDate()) {
		return nil, ErrDateTooEarly
	}

	l := b.customerLock(customerID)
	l.Lock()
	defer l.Unlock()

	advances, err := b.store.AdvancesByCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	for _, a := range advances {
		available = available.Add(a.Available())
	}
	if amount.GreaterThan(available) {
		return nil, &InsufficientAdvanceError{
			CustomerID: customerID,
			Available:  available,
			Requested:  amount,
		}
	}

	// Capacity confirmed: stage the FIFO draw. AdvancesByCustomer is ordered
	// oldest first, and cancelled/exhausted advances contribute zero. Nothing
	// is persisted until the whole draw is staged, so a storage failure can
	// never consume capacity the passbook does not show.
	var (
		updates []Advance
		events  []AdvanceUtilization
	)
	remaining := amount
	for _, a := range advances {
		if !remaining.IsPositive() {
			break
		}
		room := a.Available()
		if !room.IsPositive() {
			continue
		}
		draw := decimal.Min(room, remaining)

		updates = append(updates, a.draw(draw))
		events = append(events, AdvanceUtilization{
			ID:         UtilizationID(uuid.NewString()),
			AdvanceID:  a.ID,
			CustomerID: customerID,
			Date:       date,
			Amount:     draw,
		})
		remaining = remaining.Sub(draw)
	}

	if err := b.store.CommitDraw(ctx, updates, events); err != nil {
		return nil, fmt.Errorf("commit draw for %s: %w", customerID, err)
	}
	return events, nil
}

// Cancel freezes the advance's remaining capacity. Terminal: a cancelled
// advance is rejected for further utilization with ErrAdvanceCancelled, and
// cancelling twice is an error for the same reason.
func (b *AdvanceBook) Cancel(ctx context.Context, advanceID AdvanceID) (Advance, error) {
	adv, err := b.store.Advance(ctx, advanceID)
	if err != nil {
		return Advance{}, err
	}

	l := b.customerLock(adv.CustomerID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock; a concurrent Utilize may have advanced it.
	adv, err = b.store.Advance(ctx, advanceID)
	if err != nil {
		return Advance{}, err
	}
	if adv.Status == AdvanceCancelled {
		return Advance{}, ErrAdvanceCancelled
	}

	adv.Status = AdvanceCancelled
	if err := b.store.SaveAdvance(ctx, adv); err != nil {
		return Advance{}, fmt.Errorf("cancel advance %s: %w", advanceID, err)
	}
	return adv, nil
}
