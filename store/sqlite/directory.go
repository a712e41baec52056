/*
directory.go - Rate rule and customer persistence

PURPOSE:
  Collaborator-owned records around the core ledger: the rate card
  administered by the operator, and the customer directory that maps the
  collection machine's external ID to an internal customer.

RATE RULES:
  Deactivated, never deleted while referenced - priced entries keep their
  rule_id for traceability. The engine only reads active rules at
  resolution time.

SEE ALSO:
  - ledger/rates.go: Resolution over active rules
  - ingest:          Looks customers up by external ID for AMCU packets
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mydairy/settlement-engine/ledger"
)

// =============================================================================
// RATE RULES
// =============================================================================

func (s *Store) SaveRateRule(ctx context.Context, r ledger.RateRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_rules (id, milk_type, fat_min, fat_max, snf_min, snf_max, price_per_litre, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			milk_type = excluded.milk_type,
			fat_min = excluded.fat_min,
			fat_max = excluded.fat_max,
			snf_min = excluded.snf_min,
			snf_max = excluded.snf_max,
			price_per_litre = excluded.price_per_litre,
			active = excluded.active`,
		r.ID, r.MilkType,
		nullDecimal(r.FatMin), nullDecimal(r.FatMax),
		nullDecimal(r.SNFMin), nullDecimal(r.SNFMax),
		r.PricePerLitre.String(), boolToInt(r.Active),
	)
	if err != nil {
		return fmt.Errorf("failed to save rate rule: %w", err)
	}
	return nil
}

func (s *Store) RateRule(ctx context.Context, id ledger.RuleID) (ledger.RateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, milk_type, fat_min, fat_max, snf_min, snf_max, price_per_litre, active
		FROM rate_rules WHERE id = ?`, id)

	rule, err := scanRateRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.RateRule{}, ledger.ErrNoMatchingRateRule
	}
	return rule, err
}

func (s *Store) ActiveRateRules(ctx context.Context) ([]ledger.RateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, milk_type, fat_min, fat_max, snf_min, snf_max, price_per_litre, active
		FROM rate_rules WHERE active = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate rules: %w", err)
	}
	defer rows.Close()

	var rules []ledger.RateRule
	for rows.Next() {
		rule, err := scanRateRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// AllRateRules returns active and inactive rules for administration.
func (s *Store) AllRateRules(ctx context.Context) ([]ledger.RateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, milk_type, fat_min, fat_max, snf_min, snf_max, price_per_litre, active
		FROM rate_rules ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query rate rules: %w", err)
	}
	defer rows.Close()

	var rules []ledger.RateRule
	for rows.Next() {
		rule, err := scanRateRule(rows.Scan)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRateRule(scan func(dest ...any) error) (ledger.RateRule, error) {
	var (
		r                              ledger.RateRule
		fatMin, fatMax, snfMin, snfMax sql.NullString
		price                          string
		active                         int
	)
	if err := scan(&r.ID, &r.MilkType, &fatMin, &fatMax, &snfMin, &snfMax, &price, &active); err != nil {
		return ledger.RateRule{}, err
	}
	var err error
	if r.PricePerLitre, err = decimal.NewFromString(price); err != nil {
		return ledger.RateRule{}, fmt.Errorf("bad price %q: %w", price, err)
	}
	if r.FatMin, err = parseBound(fatMin); err != nil {
		return ledger.RateRule{}, err
	}
	if r.FatMax, err = parseBound(fatMax); err != nil {
		return ledger.RateRule{}, err
	}
	if r.SNFMin, err = parseBound(snfMin); err != nil {
		return ledger.RateRule{}, err
	}
	if r.SNFMax, err = parseBound(snfMax); err != nil {
		return ledger.RateRule{}, err
	}
	r.Active = active != 0
	return r, nil
}

func nullDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseBound(ns sql.NullString) (*decimal.Decimal, error) {
	if !ns.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(ns.String)
	if err != nil {
		return nil, fmt.Errorf("bad band bound %q: %w", ns.String, err)
	}
	return &d, nil
}

// =============================================================================
// CUSTOMERS
// =============================================================================

// ErrCustomerNotFound is returned for unknown customer and external IDs.
var ErrCustomerNotFound = errors.New("customer not found")

// Customer is a directory record. ExternalID is the ID the collection
// machine (AMCU) reports; empty for manually-registered customers.
type Customer struct {
	ID              ledger.CustomerID
	ExternalID      string
	Name            string
	Phone           string
	DefaultMilkType ledger.MilkType
	Active          bool
}

func (s *Store) SaveCustomer(ctx context.Context, c Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, external_id, name, phone, default_milk_type, active)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			external_id = excluded.external_id,
			name = excluded.name,
			phone = excluded.phone,
			default_milk_type = excluded.default_milk_type,
			active = excluded.active`,
		c.ID, nullString(c.ExternalID), c.Name, nullString(c.Phone),
		c.DefaultMilkType, boolToInt(c.Active),
	)
	if err != nil {
		return fmt.Errorf("failed to save customer: %w", err)
	}
	return nil
}

func (s *Store) Customer(ctx context.Context, id ledger.CustomerID) (Customer, error) {
	return s.customerBy(ctx, "id = ?", string(id))
}

// CustomerByExternalID resolves the AMCU machine ID to a customer.
func (s *Store) CustomerByExternalID(ctx context.Context, externalID string) (Customer, error) {
	return s.customerBy(ctx, "external_id = ?", externalID)
}

func (s *Store) customerBy(ctx context.Context, where string, arg any) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, phone, default_milk_type, active
		FROM customers WHERE `+where, arg)

	c, err := scanCustomer(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Customer{}, ErrCustomerNotFound
	}
	return c, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, name, phone, default_milk_type, active
		FROM customers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query customers: %w", err)
	}
	defer rows.Close()

	var customers []Customer
	for rows.Next() {
		c, err := scanCustomer(rows.Scan)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func scanCustomer(scan func(dest ...any) error) (Customer, error) {
	var (
		c                   Customer
		externalID, phone   sql.NullString
		active              int
	)
	if err := scan(&c.ID, &externalID, &c.Name, &phone, &c.DefaultMilkType, &active); err != nil {
		return Customer{}, err
	}
	c.ExternalID = externalID.String
	c.Phone = phone.String
	c.Active = active != 0
	return c, nil
}
