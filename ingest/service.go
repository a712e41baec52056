/*
Package ingest turns raw dairy-floor input into stored settlement records.

PURPOSE:
  Two write paths feed the ledger:
    1. Milk collections: an EntryCandidate (from the operator UI or an AMCU
       packet, see amcu.go) is priced ONCE against the currently active rate
       rules and stored. The stored amount never changes afterwards.
    2. Settlements: cash paid out to a customer, funded either by new
       external money (a Payment) or by drawing down previously issued
       advances (AdvanceUtilizations) - one or the other, never both.

NO-MATCH POLICY:
  When no active rate rule covers a collection's observation, the entry is
  still stored - priced at zero and flagged NeedsReview - and the no-match
  error is returned so the operator can be alerted. Losing the physical
  litres because of a rate-card gap is worse than a zero-priced row.

SEE ALSO:
  - ledger/rates.go:   resolution and tie-break semantics
  - ledger/advance.go: FIFO draw the advance settlement path delegates to
*/
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mydairy/settlement-engine/ledger"
)

// =============================================================================
// SERVICE
// =============================================================================

// RuleSource supplies the active rate rules a collection is priced against.
type RuleSource interface {
	ActiveRateRules(ctx context.Context) ([]ledger.RateRule, error)
}

// Service is the write boundary: it mints record IDs, prices collections at
// write time, and routes settlements to the right funding source.
type Service struct {
	store ledger.Store
	rules RuleSource
	book  *ledger.AdvanceBook
}

func NewService(store ledger.Store, rules RuleSource, book *ledger.AdvanceBook) *Service {
	return &Service{store: store, rules: rules, book: book}
}

// =============================================================================
// MILK COLLECTION INGESTION
// =============================================================================

// EntryCandidate is an unpriced collection observation.
type EntryCandidate struct {
	CustomerID ledger.CustomerID
	Date       ledger.Date
	Shift      ledger.Shift
	MilkType   ledger.MilkType
	Quantity   decimal.Decimal
	Fat        decimal.Decimal
	SNF        decimal.Decimal
}

// PriceEntry resolves the candidate's price against the active rate rules and
// stores the priced entry.
//
// When no rule matches, the entry is STILL stored - priced at zero with
// NeedsReview set - and the returned error unwraps to ErrNoMatchingRateRule.
// Callers that get that error alongside a stored entry should surface it to
// the operator, not retry.
func (s *Service) PriceEntry(ctx context.Context, cand EntryCandidate) (ledger.CollectionEntry, error) {
	rules, err := s.rules.ActiveRateRules(ctx)
	if err != nil {
		return ledger.CollectionEntry{}, fmt.Errorf("loading active rate rules: %w", err)
	}

	match, resolveErr := ledger.NewRateResolver(rules).Resolve(cand.MilkType, cand.Fat, cand.SNF)
	if resolveErr != nil {
		match = ledger.NoRate()
	}

	entry, err := ledger.NewCollectionEntry(
		ledger.EntryID(uuid.NewString()),
		cand.CustomerID, cand.Date, cand.Shift, cand.MilkType,
		cand.Quantity, cand.Fat, cand.SNF,
		match,
	)
	if err != nil {
		return ledger.CollectionEntry{}, err
	}
	if resolveErr != nil {
		entry.NeedsReview = true
	}

	if err := s.store.AppendEntry(ctx, entry); err != nil {
		return ledger.CollectionEntry{}, fmt.Errorf("storing entry: %w", err)
	}
	return entry, resolveErr
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// PaymentRequest is a settlement to a customer. UseAdvance selects the
// funding source: false means new external cash, true means draw against the
// customer's outstanding advances.
type PaymentRequest struct {
	CustomerID ledger.CustomerID
	Date       ledger.Date
	Amount     decimal.Decimal
	Mode       string
	Reference  string
	UseAdvance bool
}

// SettlementResult reports which funding source settled the amount. Exactly
// one of Payment and Utilizations is populated.
type SettlementResult struct {
	Source       ledger.FundingSource
	Payment      *ledger.Payment
	Utilizations []ledger.AdvanceUtilization
}

// RecordPayment settles the requested amount. Non-positive amounts are
// rejected with ErrInvalidAmount before any state changes; an advance-funded
// request that exceeds the available balance fails whole with
// InsufficientAdvanceError and draws nothing.
func (s *Service) RecordPayment(ctx context.Context, req PaymentRequest) (SettlementResult, error) {
	if !req.Amount.IsPositive() {
		return SettlementResult{}, ledger.ErrInvalidAmount
	}

	if req.UseAdvance {
		utilizations, err := s.book.Utilize(ctx, req.CustomerID, req.Amount, req.Date)
		if err != nil {
			return SettlementResult{}, err
		}
		return SettlementResult{
			Source:       ledger.FundingAdvance,
			Utilizations: utilizations,
		}, nil
	}

	payment, err := ledger.NewPayment(
		ledger.PaymentID(uuid.NewString()),
		req.CustomerID, req.Date, req.Amount, req.Mode, req.Reference,
	)
	if err != nil {
		return SettlementResult{}, err
	}
	if err := s.store.AppendPayment(ctx, payment); err != nil {
		return SettlementResult{}, fmt.Errorf("storing payment: %w", err)
	}
	return SettlementResult{
		Source:  ledger.FundingExternal,
		Payment: &payment,
	}, nil
}
