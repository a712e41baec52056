/*
compile.go - Statement compilation: records -> passbook

PURPOSE:
  Merges a customer's three record streams (collection entries, payments,
  advance utilizations) into one time-ordered statement with a correct
  running balance for an arbitrary window, reconciling against all-time
  history.

OPENING BALANCE:
  The fold over everything strictly before the window start, seeded at
  zero. The ledger has no concept of a balance before the customer's first
  transaction, so a window starting at MinDate opens at zero by
  construction.

ORDERING:
  Records sort by (date, kind priority, record ID). Kind priority exists
  only to make same-day order deterministic: milk entries before payments
  before advance utilizations, then ascending record ID. Running balance
  depends on this order, so it is fixed here and covered by tests.

CHAINING CONTRACT:
  For any from <= mid <= to, compiling [from, mid] then [mid+1, to] and
  chaining (closing of the first = opening of the second) equals compiling
  [from, to] directly. This is the core correctness property.

EMPTY WINDOWS:
  A window with no records returns {opening, no lines, closing == opening}.
  Never an error.

SEE ALSO:
  - types.go:  Sign convention and LedgerLine
  - window.go: Window selection
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// =============================================================================
// COMPILER
// =============================================================================

// Compiler produces statements from a consistent read of the store. It is
// read-only: compilation never writes, and may run concurrently with writes
// under snapshot isolation.
type Compiler struct {
	store Store
}

func NewCompiler(store Store) *Compiler {
	return &Compiler{store: store}
}

// Compile builds the passbook for one customer over the window.
func (c *Compiler) Compile(ctx context.Context, customerID CustomerID, w Window) (Statement, error) {
	opening, err := c.openingBalance(ctx, customerID, w.From)
	if err != nil {
		return Statement{}, err
	}

	events, err := c.collect(ctx, customerID, w.From, w.To)
	if err != nil {
		return Statement{}, err
	}
	sortEvents(events)

	stmt := Statement{
		CustomerID:     customerID,
		Window:         w,
		OpeningBalance: opening,
		ClosingBalance: opening,
	}

	running := opening
	for _, ev := range events {
		running = running.Add(ev.debit).Sub(ev.credit)
		stmt.Lines = append(stmt.Lines, LedgerLine{
			Date:        ev.date,
			Kind:        ev.kind,
			RecordID:    ev.recordID,
			Description: ev.description,
			Debit:       ev.debit,
			Credit:      ev.credit,
			Running:     running,
		})

		switch ev.kind {
		case LineMilk:
			stmt.Totals.MilkQuantity = stmt.Totals.MilkQuantity.Add(ev.quantity)
			stmt.Totals.MilkValue = stmt.Totals.MilkValue.Add(ev.debit)
		case LinePayment:
			stmt.Totals.Payments = stmt.Totals.Payments.Add(ev.credit)
		case LineAdvanceUtilization:
			stmt.Totals.AdvanceDraws = stmt.Totals.AdvanceDraws.Add(ev.credit)
		}
	}
	stmt.ClosingBalance = running

	return stmt, nil
}

// openingBalance folds the sign convention over all records strictly before
// the window start, seeded at zero.
func (c *Compiler) openingBalance(ctx context.Context, customerID CustomerID, from Date) (decimal.Decimal, error) {
	if from.BeforeOrEqual(MinDate()) {
		return decimal.Zero, nil
	}

	events, err := c.collect(ctx, customerID, MinDate(), from.AddDays(-1))
	if err != nil {
		return decimal.Zero, err
	}

	// Order within the prior history doesn't change the sum, but folding in
	// statement order keeps this path identical to the window fold.
	sortEvents(events)

	balance := decimal.Zero
	for _, ev := range events {
		balance = balance.Add(ev.debit).Sub(ev.credit)
	}
	return balance, nil
}

// =============================================================================
// EVENT UNION - The three record streams, normalized for the fold
// =============================================================================

type event struct {
	date        Date
	kind        LineKind
	recordID    string
	description string
	debit       decimal.Decimal
	credit      decimal.Decimal
	quantity    decimal.Decimal // litres, milk lines only
}

func (c *Compiler) collect(ctx context.Context, customerID CustomerID, from, to Date) ([]event, error) {
	entries, err := c.store.EntriesInRange(ctx, customerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load entries: %w", err)
	}
	payments, err := c.store.PaymentsInRange(ctx, customerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load payments: %w", err)
	}
	draws, err := c.store.UtilizationsInRange(ctx, customerID, from, to)
	if err != nil {
		return nil, fmt.Errorf("load utilizations: %w", err)
	}

	events := make([]event, 0, len(entries)+len(payments)+len(draws))
	for _, e := range entries {
		events = append(events, event{
			date:        e.Date,
			kind:        LineMilk,
			recordID:    string(e.ID),
			description: fmt.Sprintf("%s %s %sL", e.Shift, e.MilkType, e.Quantity),
			debit:       e.Amount,
			quantity:    e.Quantity,
		})
	}
	for _, p := range payments {
		desc := p.Mode + " payment"
		if p.Reference != "" {
			desc += " (" + p.Reference + ")"
		}
		events = append(events, event{
			date:        p.Date,
			kind:        LinePayment,
			recordID:    string(p.ID),
			description: desc,
			credit:      p.Amount,
		})
	}
	for _, u := range draws {
		events = append(events, event{
			date:        u.Date,
			kind:        LineAdvanceUtilization,
			recordID:    string(u.ID),
			description: "advance draw (" + string(u.AdvanceID) + ")",
			credit:      u.Amount,
		})
	}
	return events, nil
}

// sortEvents fixes the statement order: (date, kind priority, record ID).
func sortEvents(events []event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.date.Equal(b.date) {
			return a.date.Before(b.date)
		}
		if a.kind.priority() != b.kind.priority() {
			return a.kind.priority() < b.kind.priority()
		}
		return a.recordID < b.recordID
	})
}
