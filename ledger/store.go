/*
store.go - Persistence contract between the engine and the record store

PURPOSE:
  Defines the interface the engine reads and writes records through.
  Implementations may use SQLite, PostgreSQL, or in-memory storage; the
  engine only needs a consistent snapshot of the relevant date range.

APPEND-ONLY RECORDS:
  Entries, payments, and utilizations have Append methods and no update or
  delete. Corrections are compensating records dated appropriately, so
  statement compilation stays a pure fold over immutable facts.

THE ONE MUTABLE RECORD:
  Advances update in place (utilized amount, status), but only through
  AdvanceBook, which enforces monotonic utilization and terminal
  cancellation. SaveAdvance is an upsert for that reason.

CONCURRENCY CONTRACT:
  Issue and Utilize for the same customer must be serialized; AdvanceBook
  holds a per-customer lock across its read-then-write sequence. Reads may
  run concurrently with writes to other customers, and with writes to the
  same customer under snapshot isolation: a slightly stale view is
  acceptable, a corrupted one is not.

RANGE QUERIES:
  All list methods take an inclusive [from, to] day range. "Everything
  before d" is the range [MinDate(), d.AddDays(-1)]; "all time" is
  [MinDate(), Today()].

IMPLEMENTATIONS:
  - ledger/store/memory.go: in-memory, for tests and dev
  - store/sqlite:           production SQLite

SEE ALSO:
  - compile.go: Reads all three record streams
  - advance.go: Reads and writes advances and utilizations
*/
package ledger

import "context"

// Store persists the settlement records.
type Store interface {
	// AppendEntry persists a priced collection entry. Append-only.
	AppendEntry(ctx context.Context, e CollectionEntry) error

	// EntriesInRange returns a customer's entries with from <= date <= to,
	// ordered by (date, ID).
	EntriesInRange(ctx context.Context, customerID CustomerID, from, to Date) ([]CollectionEntry, error)

	// AppendPayment persists an external cash payment. Append-only.
	AppendPayment(ctx context.Context, p Payment) error

	// PaymentsInRange returns a customer's payments in [from, to],
	// ordered by (date, ID).
	PaymentsInRange(ctx context.Context, customerID CustomerID, from, to Date) ([]Payment, error)

	// SaveAdvance inserts or updates an advance. Only AdvanceBook calls this.
	SaveAdvance(ctx context.Context, a Advance) error

	// Advance returns one advance by ID, or ErrAdvanceNotFound.
	Advance(ctx context.Context, id AdvanceID) (Advance, error)

	// AdvancesByCustomer returns all of a customer's advances ordered by
	// (issued date, ID) ascending - the FIFO draw order.
	AdvancesByCustomer(ctx context.Context, customerID CustomerID) ([]Advance, error)

	// AppendUtilization persists an advance draw-down event. Append-only.
	AppendUtilization(ctx context.Context, u AdvanceUtilization) error

	// CommitDraw persists a FIFO draw atomically: every updated advance and
	// every utilization event it produced, or none of them. A draw that
	// half-lands would consume advance capacity the passbook never shows, so
	// implementations must back this with a real transaction (or equivalent).
	CommitDraw(ctx context.Context, advances []Advance, utilizations []AdvanceUtilization) error

	// UtilizationsInRange returns a customer's utilizations in [from, to],
	// ordered by (date, ID).
	UtilizationsInRange(ctx context.Context, customerID CustomerID, from, to Date) ([]AdvanceUtilization, error)
}

// RuleStore persists rate rules. The engine only ever reads active rules at
// resolution time; creation and deactivation belong to the rate
// administration collaborator.
type RuleStore interface {
	SaveRateRule(ctx context.Context, r RateRule) error
	RateRule(ctx context.Context, id RuleID) (RateRule, error)
	ActiveRateRules(ctx context.Context) ([]RateRule, error)
}
