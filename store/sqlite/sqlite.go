/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store and ledger.RuleStore plus the customer directory
  using SQLite. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  milk_entries, payments, and advance_utilizations have INSERT and SELECT
  only - no UPDATE or DELETE statements exist for them. Corrections are
  compensating records. advances is the one mutable table; it is written
  exclusively through ledger.AdvanceBook, which enforces monotonic
  utilization and terminal cancellation.

KEY TABLES:
  customers:            Directory, including the external AMCU machine ID
  rate_rules:           Banded pricing rules (deactivated, never deleted)
  milk_entries:         Immutable priced collections
  payments:             External cash settlements
  advances:             Pre-paid principals with utilization progress
  advance_utilizations: Draw-down events (first-class ledger credits)

INDEXES:
  Statement compilation reads per-customer date ranges from three tables;
  each has a (customer_id, date) index for that hot path. Advances index
  on (customer_id, issued_date) for the FIFO draw order.

WAL MODE:
  SQLite is opened with WAL for better concurrency: readers don't block,
  a single writer at a time, better crash recovery. Reads under WAL see a
  consistent snapshot - the staleness the engine's concurrency contract
  allows.

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper migration
  tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - ledger/store.go:        Interface definitions and concurrency contract
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/mydairy/settlement-engine/ledger"
)

// Store implements the ledger storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS customers (
		id TEXT PRIMARY KEY,
		external_id TEXT UNIQUE,
		name TEXT NOT NULL,
		phone TEXT,
		default_milk_type TEXT NOT NULL DEFAULT 'cow',
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS rate_rules (
		id TEXT PRIMARY KEY,
		milk_type TEXT NOT NULL,
		fat_min TEXT,
		fat_max TEXT,
		snf_min TEXT,
		snf_max TEXT,
		price_per_litre TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1
	);

	-- Immutable priced collections. No UPDATE or DELETE, ever.
	CREATE TABLE IF NOT EXISTS milk_entries (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		date TEXT NOT NULL,
		shift TEXT NOT NULL,
		milk_type TEXT NOT NULL,
		quantity TEXT NOT NULL,
		fat TEXT NOT NULL,
		snf TEXT NOT NULL,
		price_per_litre TEXT NOT NULL,
		amount TEXT NOT NULL,
		rule_id TEXT,
		needs_review INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_entries_customer_date
		ON milk_entries(customer_id, date);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		date TEXT NOT NULL,
		amount TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'CASH',
		reference TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_payments_customer_date
		ON payments(customer_id, date);

	-- The one mutable table: utilized/status progress via AdvanceBook only.
	CREATE TABLE IF NOT EXISTS advances (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL REFERENCES customers(id),
		issued_date TEXT NOT NULL,
		principal TEXT NOT NULL,
		utilized TEXT NOT NULL,
		status TEXT NOT NULL,
		note TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_advances_customer_issued
		ON advances(customer_id, issued_date);

	CREATE TABLE IF NOT EXISTS advance_utilizations (
		id TEXT PRIMARY KEY,
		advance_id TEXT NOT NULL REFERENCES advances(id),
		customer_id TEXT NOT NULL REFERENCES customers(id),
		date TEXT NOT NULL,
		amount TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_utilizations_customer_date
		ON advance_utilizations(customer_id, date);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// COLLECTION ENTRIES (append-only)
// =============================================================================

func (s *Store) AppendEntry(ctx context.Context, e ledger.CollectionEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO milk_entries
		(id, customer_id, date, shift, milk_type, quantity, fat, snf,
		 price_per_litre, amount, rule_id, needs_review)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CustomerID, e.Date.String(), e.Shift, e.MilkType,
		e.Quantity.String(), e.Fat.String(), e.SNF.String(),
		e.PricePerLitre.String(), e.Amount.String(),
		nullString(string(e.RuleID)), boolToInt(e.NeedsReview),
	)
	if err != nil {
		return fmt.Errorf("failed to append entry: %w", err)
	}
	return nil
}

func (s *Store) EntriesInRange(ctx context.Context, customerID ledger.CustomerID, from, to ledger.Date) ([]ledger.CollectionEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, date, shift, milk_type, quantity, fat, snf,
		       price_per_litre, amount, rule_id, needs_review
		FROM milk_entries
		WHERE customer_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC`,
		customerID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.CollectionEntry
	for rows.Next() {
		var (
			e                                  ledger.CollectionEntry
			date, qty, fat, snf, price, amount string
			ruleID                             sql.NullString
			needsReview                        int
		)
		if err := rows.Scan(&e.ID, &e.CustomerID, &date, &e.Shift, &e.MilkType,
			&qty, &fat, &snf, &price, &amount, &ruleID, &needsReview); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if e.Date, err = ledger.ParseDate(date); err != nil {
			return nil, err
		}
		if err := scanDecimals(map[*decimal.Decimal]string{
			&e.Quantity: qty, &e.Fat: fat, &e.SNF: snf,
			&e.PricePerLitre: price, &e.Amount: amount,
		}); err != nil {
			return nil, err
		}
		e.RuleID = ledger.RuleID(ruleID.String)
		e.NeedsReview = needsReview != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PAYMENTS (append-only)
// =============================================================================

func (s *Store) AppendPayment(ctx context.Context, p ledger.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, customer_id, date, amount, mode, reference)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.CustomerID, p.Date.String(), p.Amount.String(), p.Mode,
		nullString(p.Reference),
	)
	if err != nil {
		return fmt.Errorf("failed to append payment: %w", err)
	}
	return nil
}

func (s *Store) PaymentsInRange(ctx context.Context, customerID ledger.CustomerID, from, to ledger.Date) ([]ledger.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, date, amount, mode, reference
		FROM payments
		WHERE customer_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC`,
		customerID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}
	defer rows.Close()

	var payments []ledger.Payment
	for rows.Next() {
		var (
			p            ledger.Payment
			date, amount string
			reference    sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.CustomerID, &date, &amount, &p.Mode, &reference); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		if p.Date, err = ledger.ParseDate(date); err != nil {
			return nil, err
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amount, err)
		}
		p.Reference = reference.String
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// =============================================================================
// ADVANCES (mutable, single writer: AdvanceBook)
// =============================================================================

func (s *Store) SaveAdvance(ctx context.Context, a ledger.Advance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO advances (id, customer_id, issued_date, principal, utilized, status, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			utilized = excluded.utilized,
			status = excluded.status,
			note = excluded.note`,
		a.ID, a.CustomerID, a.IssuedDate.String(), a.Principal.String(),
		a.Utilized.String(), a.Status, nullString(a.Note),
	)
	if err != nil {
		return fmt.Errorf("failed to save advance: %w", err)
	}
	return nil
}

func (s *Store) Advance(ctx context.Context, id ledger.AdvanceID) (ledger.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, issued_date, principal, utilized, status, note
		FROM advances WHERE id = ?`, id)

	adv, err := scanAdvance(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Advance{}, ledger.ErrAdvanceNotFound
	}
	return adv, err
}

func (s *Store) AdvancesByCustomer(ctx context.Context, customerID ledger.CustomerID) ([]ledger.Advance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, issued_date, principal, utilized, status, note
		FROM advances
		WHERE customer_id = ?
		ORDER BY issued_date ASC, id ASC`,
		customerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query advances: %w", err)
	}
	defer rows.Close()

	var advances []ledger.Advance
	for rows.Next() {
		adv, err := scanAdvance(rows.Scan)
		if err != nil {
			return nil, err
		}
		advances = append(advances, adv)
	}
	return advances, rows.Err()
}

func scanAdvance(scan func(dest ...any) error) (ledger.Advance, error) {
	var (
		a                           ledger.Advance
		issued, principal, utilized string
		note                        sql.NullString
	)
	if err := scan(&a.ID, &a.CustomerID, &issued, &principal, &utilized, &a.Status, &note); err != nil {
		return ledger.Advance{}, err
	}
	var err error
	if a.IssuedDate, err = ledger.ParseDate(issued); err != nil {
		return ledger.Advance{}, err
	}
	if err := scanDecimals(map[*decimal.Decimal]string{
		&a.Principal: principal, &a.Utilized: utilized,
	}); err != nil {
		return ledger.Advance{}, err
	}
	a.Note = note.String
	return a, nil
}

// CommitDraw lands the staged advance updates and utilization events in one
// SQL transaction. A half-landed draw would consume capacity the passbook
// never shows, so any failure rolls the whole draw back.
func (s *Store) CommitDraw(ctx context.Context, advances []ledger.Advance, utilizations []ledger.AdvanceUtilization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin draw: %w", err)
	}
	defer tx.Rollback()

	for _, a := range advances {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO advances (id, customer_id, issued_date, principal, utilized, status, note)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				utilized = excluded.utilized,
				status = excluded.status,
				note = excluded.note`,
			a.ID, a.CustomerID, a.IssuedDate.String(), a.Principal.String(),
			a.Utilized.String(), a.Status, nullString(a.Note),
		); err != nil {
			return fmt.Errorf("failed to save advance %s: %w", a.ID, err)
		}
	}
	for _, u := range utilizations {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO advance_utilizations (id, advance_id, customer_id, date, amount)
			VALUES (?, ?, ?, ?, ?)`,
			u.ID, u.AdvanceID, u.CustomerID, u.Date.String(), u.Amount.String(),
		); err != nil {
			return fmt.Errorf("failed to append utilization %s: %w", u.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit draw: %w", err)
	}
	return nil
}

// =============================================================================
// UTILIZATIONS (append-only)
// =============================================================================

func (s *Store) AppendUtilization(ctx context.Context, u ledger.AdvanceUtilization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO advance_utilizations (id, advance_id, customer_id, date, amount)
		VALUES (?, ?, ?, ?, ?)`,
		u.ID, u.AdvanceID, u.CustomerID, u.Date.String(), u.Amount.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to append utilization: %w", err)
	}
	return nil
}

func (s *Store) UtilizationsInRange(ctx context.Context, customerID ledger.CustomerID, from, to ledger.Date) ([]ledger.AdvanceUtilization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, advance_id, customer_id, date, amount
		FROM advance_utilizations
		WHERE customer_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC, id ASC`,
		customerID, from.String(), to.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query utilizations: %w", err)
	}
	defer rows.Close()

	var utilizations []ledger.AdvanceUtilization
	for rows.Next() {
		var (
			u            ledger.AdvanceUtilization
			date, amount string
		)
		if err := rows.Scan(&u.ID, &u.AdvanceID, &u.CustomerID, &date, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan utilization: %w", err)
		}
		if u.Date, err = ledger.ParseDate(date); err != nil {
			return nil, err
		}
		if u.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bad amount %q: %w", amount, err)
		}
		utilizations = append(utilizations, u)
	}
	return utilizations, rows.Err()
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanDecimals parses a batch of stored decimal strings into their targets.
func scanDecimals(fields map[*decimal.Decimal]string) error {
	for dst, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("bad decimal %q: %w", raw, err)
		}
		*dst = d
	}
	return nil
}
