/*
Package ledger is the settlement engine for a milk-collection business.

PURPOSE:
  Turns raw, independently-created records (milk collection entries, cash
  payments, advance disbursements) into one chronologically ordered,
  running-balance statement per customer, and resolves the price paid per
  litre from composable banded rate rules.

KEY CONCEPTS IN THIS FILE (types.go):
  - RateRule:           A banded pricing rule keyed by milk type and fat/SNF ranges
  - CollectionEntry:    An immutable priced milk collection record
  - Payment:            Cash settled to a customer
  - Advance:            A pre-paid sum consumed over time by later settlements
  - AdvanceUtilization: A first-class draw-down event against an advance
  - LedgerLine:         One derived row of the passbook (never stored)

DESIGN PRINCIPLES:
  1. Price at write time: an entry's amount is a stored fact, never
     recomputed from current rate rules. Historical statements stay stable
     when rate cards change.
  2. Immutability: entries and payments are never mutated. Corrections are
     compensating records dated appropriately.
  3. Precision: decimal.Decimal everywhere money or litres appear.
  4. Constructors reject invalid states rather than each call site
     re-validating loosely-typed rows.

SIGN CONVENTION:
  A CollectionEntry is a DEBIT against the dairy (it owes the customer the
  entry's amount). A Payment or an AdvanceUtilization is a CREDIT (money
  flowed to the customer, reducing what is owed).
  running[i] = running[i-1] + debit[i] - credit[i].

SEE ALSO:
  - rates.go:   Rate resolution with deterministic overlap tie-break
  - advance.go: FIFO advance issuance and utilization
  - compile.go: Statement compilation over a window
  - store.go:   Persistence contract
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type CustomerID string
type RuleID string
type EntryID string
type PaymentID string
type AdvanceID string
type UtilizationID string

// =============================================================================
// MILK TYPE AND SHIFT
// =============================================================================

type MilkType string

const (
	MilkCow     MilkType = "cow"
	MilkBuffalo MilkType = "buffalo"
	MilkMixed   MilkType = "mixed"
)

// Shift is a descriptive attribute of a collection, not a scheduling concept.
type Shift string

const (
	ShiftMorning Shift = "morning"
	ShiftEvening Shift = "evening"
)

// =============================================================================
// RATE RULE - Banded pricing keyed by milk type and fat/SNF ranges
// =============================================================================

// RateRule prices one litre of milk when the observed fat and SNF fall inside
// its bands. Bands are half-open: a value qualifies if min <= value (or no
// lower bound) and value < max (or no upper bound). A nil bound means
// unbounded on that side.
//
// Multiple active rules for the same milk type may overlap. That is a
// data-quality hazard, not an assumption violation; the resolver breaks ties
// deterministically (see rates.go).
type RateRule struct {
	ID            RuleID
	MilkType      MilkType
	FatMin        *decimal.Decimal
	FatMax        *decimal.Decimal
	SNFMin        *decimal.Decimal
	SNFMax        *decimal.Decimal
	PricePerLitre decimal.Decimal
	Active        bool
}

// NewRateRule validates bounds and price at creation so invalid rules are
// unrepresentable. Inverted bands (min >= max) and non-positive prices are
// rejected.
func NewRateRule(id RuleID, milkType MilkType, fatMin, fatMax, snfMin, snfMax *decimal.Decimal, price decimal.Decimal) (RateRule, error) {
	if !price.IsPositive() {
		return RateRule{}, ErrInvalidAmount
	}
	if fatMin != nil && fatMax != nil && !fatMin.LessThan(*fatMax) {
		return RateRule{}, ErrInvalidRateBand
	}
	if snfMin != nil && snfMax != nil && !snfMin.LessThan(*snfMax) {
		return RateRule{}, ErrInvalidRateBand
	}
	return RateRule{
		ID:            id,
		MilkType:      milkType,
		FatMin:        fatMin,
		FatMax:        fatMax,
		SNFMin:        snfMin,
		SNFMax:        snfMax,
		PricePerLitre: price,
		Active:        true,
	}, nil
}

// Matches reports whether the observation falls inside this rule's bands.
// Only active rules with the same milk type can match.
func (r RateRule) Matches(milkType MilkType, fat, snf decimal.Decimal) bool {
	if !r.Active || r.MilkType != milkType {
		return false
	}
	return inBand(fat, r.FatMin, r.FatMax) && inBand(snf, r.SNFMin, r.SNFMax)
}

// inBand implements the half-open interval [min, max).
func inBand(v decimal.Decimal, min, max *decimal.Decimal) bool {
	if min != nil && v.LessThan(*min) {
		return false
	}
	if max != nil && !v.LessThan(*max) {
		return false
	}
	return true
}

// =============================================================================
// COLLECTION ENTRY - Immutable priced milk record
// =============================================================================

// CollectionEntry is a milk collection priced once at write time. Amount is a
// stored fact (Quantity x PricePerLitre at creation), never recomputed from
// current rate rules. Corrections are compensating entries, not mutations.
type CollectionEntry struct {
	ID         EntryID
	CustomerID CustomerID
	Date       Date
	Shift      Shift
	MilkType   MilkType
	Quantity   decimal.Decimal // litres
	Fat        decimal.Decimal // percent; zero when not measured
	SNF        decimal.Decimal // percent; zero when not measured

	// Pricing captured at creation.
	PricePerLitre decimal.Decimal
	Amount        decimal.Decimal
	RuleID        RuleID // rule that priced the entry; empty when NeedsReview

	// NeedsReview marks an entry stored with price zero because no rate rule
	// matched. The operator must assign a rate via a compensating entry.
	NeedsReview bool
}

// NewCollectionEntry prices a collection against the resolved rate and
// rejects negative quantities and dates before MinDate.
func NewCollectionEntry(id EntryID, customerID CustomerID, date Date, shift Shift, milkType MilkType, quantity, fat, snf decimal.Decimal, match RateMatch) (CollectionEntry, error) {
	if quantity.IsNegative() {
		return CollectionEntry{}, ErrInvalidAmount
	}
	if date.Before(MinDate()) {
		return CollectionEntry{}, ErrDateTooEarly
	}
	return CollectionEntry{
		ID:            id,
		CustomerID:    customerID,
		Date:          date,
		Shift:         shift,
		MilkType:      milkType,
		Quantity:      quantity,
		Fat:           fat,
		SNF:           snf,
		PricePerLitre: match.PricePerLitre,
		Amount:        quantity.Mul(match.PricePerLitre).Round(2),
		RuleID:        match.RuleID,
	}, nil
}

// =============================================================================
// PAYMENT - Cash settled to the customer
// =============================================================================

// FundingSource discriminates how a settlement was funded. A settlement is
// either new external cash (a Payment record) or a draw against advances (one
// or more AdvanceUtilization records) - never both ambiguously.
type FundingSource string

const (
	FundingExternal FundingSource = "external"
	FundingAdvance  FundingSource = "advance"
)

// Payment records external cash settled to the customer. Advance draws are
// NOT payments; they are AdvanceUtilization events (see advance.go).
type Payment struct {
	ID         PaymentID
	CustomerID CustomerID
	Date       Date
	Amount     decimal.Decimal
	Mode       string // CASH, UPI, BANK - descriptive only
	Reference  string
}

// NewPayment rejects non-positive amounts and dates before MinDate, before
// any state change.
func NewPayment(id PaymentID, customerID CustomerID, date Date, amount decimal.Decimal, mode, reference string) (Payment, error) {
	if !amount.IsPositive() {
		return Payment{}, ErrInvalidAmount
	}
	if date.Before(MinDate()) {
		return Payment{}, ErrDateTooEarly
	}
	return Payment{
		ID:         id,
		CustomerID: customerID,
		Date:       date,
		Amount:     amount,
		Mode:       mode,
		Reference:  reference,
	}, nil
}

// =============================================================================
// ADVANCE - Pre-paid sum consumed by later settlements
// =============================================================================

type AdvanceStatus string

const (
	AdvanceActive    AdvanceStatus = "active"
	AdvanceExhausted AdvanceStatus = "exhausted"
	AdvanceCancelled AdvanceStatus = "cancelled"
)

// Advance tracks a disbursed principal and its progressive utilization.
//
// INVARIANTS:
//   - Utilized is monotonically non-decreasing, never beyond Principal.
//   - Status == exhausted iff Utilized == Principal.
//   - Status == cancelled is terminal and freezes further utilization;
//     already-utilized amounts are not reversed.
type Advance struct {
	ID         AdvanceID
	CustomerID CustomerID
	IssuedDate Date
	Principal  decimal.Decimal
	Utilized   decimal.Decimal
	Status     AdvanceStatus
	Note       string
}

// NewAdvance rejects non-positive principals and issue dates before MinDate.
func NewAdvance(id AdvanceID, customerID CustomerID, principal decimal.Decimal, issued Date, note string) (Advance, error) {
	if !principal.IsPositive() {
		return Advance{}, ErrInvalidAmount
	}
	if issued.Before(MinDate()) {
		return Advance{}, ErrDateTooEarly
	}
	return Advance{
		ID:         id,
		CustomerID: customerID,
		IssuedDate: issued,
		Principal:  principal,
		Utilized:   decimal.Zero,
		Status:     AdvanceActive,
		Note:       note,
	}, nil
}

// Available returns the remaining usable amount: principal minus utilized,
// or zero once cancelled.
func (a Advance) Available() decimal.Decimal {
	if a.Status == AdvanceCancelled {
		return decimal.Zero
	}
	return a.Principal.Sub(a.Utilized)
}

// draw increments utilization, flipping to exhausted exactly at principal.
// The caller (AdvanceBook) has already checked capacity and status.
func (a Advance) draw(amount decimal.Decimal) Advance {
	a.Utilized = a.Utilized.Add(amount)
	if a.Utilized.GreaterThanOrEqual(a.Principal) {
		a.Utilized = a.Principal
		a.Status = AdvanceExhausted
	}
	return a
}

// AdvanceUtilization is a first-class ledger event: a credit like a payment,
// even though no new external money moved. One record per advance touched, so
// the passbook can show which advance funded a settlement.
type AdvanceUtilization struct {
	ID         UtilizationID
	AdvanceID  AdvanceID
	CustomerID CustomerID
	Date       Date
	Amount     decimal.Decimal
}

// =============================================================================
// LEDGER LINE - Derived passbook row (never stored)
// =============================================================================

type LineKind string

const (
	LineMilk               LineKind = "milk"
	LinePayment            LineKind = "payment"
	LineAdvanceUtilization LineKind = "advance_utilization"
)

// kindPriority makes ordering deterministic when multiple events share a
// date: milk entries before payments before advance utilizations. Running
// balance depends on this order, so it is documented and tested, not
// implicit.
func (k LineKind) priority() int {
	switch k {
	case LineMilk:
		return 0
	case LinePayment:
		return 1
	default:
		return 2
	}
}

// LedgerLine is one row of the compiled statement.
type LedgerLine struct {
	Date        Date
	Kind        LineKind
	RecordID    string // ID of the underlying entry/payment/utilization
	Description string
	Debit       decimal.Decimal // milk value owed to the customer
	Credit      decimal.Decimal // cash or advance draw settling that debt
	Running     decimal.Decimal // balance after this line
}

// =============================================================================
// STATEMENT - Compiled passbook for a window
// =============================================================================

// Totals aggregates the window by record type for reporting.
type Totals struct {
	MilkQuantity decimal.Decimal // litres collected in the window
	MilkValue    decimal.Decimal // total debit from collections
	Payments     decimal.Decimal // total external cash credits
	AdvanceDraws decimal.Decimal // total advance-utilization credits
}

// Statement is the passbook for one customer over one window.
// Reporting collaborators render it; they must not recompute balances.
type Statement struct {
	CustomerID     CustomerID
	Window         Window
	OpeningBalance decimal.Decimal
	Lines          []LedgerLine
	ClosingBalance decimal.Decimal
	Totals         Totals
}
