/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY AND QUANTITIES:
  decimal.Decimal fields serialize as JSON strings ("41.50"), never as
  floats. Clients that do arithmetic on amounts must parse them as exact
  decimals.

VALIDATION:
  Validation is done in handlers and domain constructors, not in DTOs.
  DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/mydairy/settlement-engine/ledger"
)

// =============================================================================
// CUSTOMERS
// =============================================================================

type CustomerDTO struct {
	ID              string `json:"id"`
	ExternalID      string `json:"external_id,omitempty"`
	Name            string `json:"name"`
	Phone           string `json:"phone,omitempty"`
	DefaultMilkType string `json:"default_milk_type"`
	Active          bool   `json:"active"`
}

type CreateCustomerRequest struct {
	ExternalID      string `json:"external_id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	DefaultMilkType string `json:"default_milk_type"`
}

// =============================================================================
// COLLECTION ENTRIES
// =============================================================================

type CreateEntryRequest struct {
	CustomerID string          `json:"customer_id"`
	Date       string          `json:"date"` // YYYY-MM-DD
	Shift      string          `json:"shift"`
	MilkType   string          `json:"milk_type"`
	Quantity   decimal.Decimal `json:"quantity"`
	Fat        decimal.Decimal `json:"fat"`
	SNF        decimal.Decimal `json:"snf"`
}

type EntryDTO struct {
	ID            string          `json:"id"`
	CustomerID    string          `json:"customer_id"`
	Date          string          `json:"date"`
	Shift         string          `json:"shift"`
	MilkType      string          `json:"milk_type"`
	Quantity      decimal.Decimal `json:"quantity"`
	Fat           decimal.Decimal `json:"fat"`
	SNF           decimal.Decimal `json:"snf"`
	PricePerLitre decimal.Decimal `json:"price_per_litre"`
	Amount        decimal.Decimal `json:"amount"`
	RuleID        string          `json:"rule_id,omitempty"`
	NeedsReview   bool            `json:"needs_review"`

	// Warning carries the no-match message when the entry was stored priced
	// at zero. The entry is persisted either way.
	Warning string `json:"warning,omitempty"`
}

// =============================================================================
// SETTLEMENTS
// =============================================================================

type CreatePaymentRequest struct {
	CustomerID string          `json:"customer_id"`
	Date       string          `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Mode       string          `json:"mode"`
	Reference  string          `json:"reference"`
	UseAdvance bool            `json:"use_advance"`
}

type UtilizationDTO struct {
	ID        string          `json:"id"`
	AdvanceID string          `json:"advance_id"`
	Date      string          `json:"date"`
	Amount    decimal.Decimal `json:"amount"`
}

// SettlementDTO reports which funding source settled the amount. Exactly one
// of Payment and Utilizations is present.
type SettlementDTO struct {
	Source       string           `json:"source"` // external | advance
	Payment      *PaymentDTO      `json:"payment,omitempty"`
	Utilizations []UtilizationDTO `json:"utilizations,omitempty"`
}

type PaymentDTO struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	Date       string          `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Mode       string          `json:"mode,omitempty"`
	Reference  string          `json:"reference,omitempty"`
}

// =============================================================================
// ADVANCES
// =============================================================================

type IssueAdvanceRequest struct {
	CustomerID string          `json:"customer_id"`
	Principal  decimal.Decimal `json:"principal"`
	Date       string          `json:"date"`
	Note       string          `json:"note"`
}

type AdvanceDTO struct {
	ID         string          `json:"id"`
	CustomerID string          `json:"customer_id"`
	IssuedDate string          `json:"issued_date"`
	Principal  decimal.Decimal `json:"principal"`
	Utilized   decimal.Decimal `json:"utilized"`
	Available  decimal.Decimal `json:"available"`
	Status     string          `json:"status"`
	Note       string          `json:"note,omitempty"`
}

type AdvanceBalanceDTO struct {
	CustomerID string          `json:"customer_id"`
	Available  decimal.Decimal `json:"available"`
}

// =============================================================================
// RATE RULES
// =============================================================================

// Bounds are nullable: a missing/null bound means unbounded on that side.
type CreateRateRuleRequest struct {
	ID            string           `json:"id"`
	MilkType      string           `json:"milk_type"`
	FatMin        *decimal.Decimal `json:"fat_min"`
	FatMax        *decimal.Decimal `json:"fat_max"`
	SNFMin        *decimal.Decimal `json:"snf_min"`
	SNFMax        *decimal.Decimal `json:"snf_max"`
	PricePerLitre decimal.Decimal  `json:"price_per_litre"`
}

type RateRuleDTO struct {
	ID            string           `json:"id"`
	MilkType      string           `json:"milk_type"`
	FatMin        *decimal.Decimal `json:"fat_min"`
	FatMax        *decimal.Decimal `json:"fat_max"`
	SNFMin        *decimal.Decimal `json:"snf_min"`
	SNFMax        *decimal.Decimal `json:"snf_max"`
	PricePerLitre decimal.Decimal  `json:"price_per_litre"`
	Active        bool             `json:"active"`
}

// =============================================================================
// PASSBOOK
// =============================================================================

type LedgerLineDTO struct {
	Date        string          `json:"date"`
	Kind        string          `json:"kind"`
	RecordID    string          `json:"record_id"`
	Description string          `json:"description"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Running     decimal.Decimal `json:"running"`
}

type TotalsDTO struct {
	MilkQuantity decimal.Decimal `json:"milk_quantity"`
	MilkValue    decimal.Decimal `json:"milk_value"`
	Payments     decimal.Decimal `json:"payments"`
	AdvanceDraws decimal.Decimal `json:"advance_draws"`
}

type PassbookDTO struct {
	CustomerID     string          `json:"customer_id"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	Lines          []LedgerLineDTO `json:"lines"`
	ClosingBalance decimal.Decimal `json:"closing_balance"`
	Totals         TotalsDTO       `json:"totals"`
}

// =============================================================================
// ERRORS
// =============================================================================

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toEntryDTO(e ledger.CollectionEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		CustomerID:    string(e.CustomerID),
		Date:          e.Date.String(),
		Shift:         string(e.Shift),
		MilkType:      string(e.MilkType),
		Quantity:      e.Quantity,
		Fat:           e.Fat,
		SNF:           e.SNF,
		PricePerLitre: e.PricePerLitre,
		Amount:        e.Amount,
		RuleID:        string(e.RuleID),
		NeedsReview:   e.NeedsReview,
	}
}

func toPaymentDTO(p ledger.Payment) PaymentDTO {
	return PaymentDTO{
		ID:         string(p.ID),
		CustomerID: string(p.CustomerID),
		Date:       p.Date.String(),
		Amount:     p.Amount,
		Mode:       p.Mode,
		Reference:  p.Reference,
	}
}

func toUtilizationDTOs(us []ledger.AdvanceUtilization) []UtilizationDTO {
	dtos := make([]UtilizationDTO, len(us))
	for i, u := range us {
		dtos[i] = UtilizationDTO{
			ID:        string(u.ID),
			AdvanceID: string(u.AdvanceID),
			Date:      u.Date.String(),
			Amount:    u.Amount,
		}
	}
	return dtos
}

func toAdvanceDTO(a ledger.Advance) AdvanceDTO {
	return AdvanceDTO{
		ID:         string(a.ID),
		CustomerID: string(a.CustomerID),
		IssuedDate: a.IssuedDate.String(),
		Principal:  a.Principal,
		Utilized:   a.Utilized,
		Available:  a.Available(),
		Status:     string(a.Status),
		Note:       a.Note,
	}
}

func toRateRuleDTO(r ledger.RateRule) RateRuleDTO {
	return RateRuleDTO{
		ID:            string(r.ID),
		MilkType:      string(r.MilkType),
		FatMin:        r.FatMin,
		FatMax:        r.FatMax,
		SNFMin:        r.SNFMin,
		SNFMax:        r.SNFMax,
		PricePerLitre: r.PricePerLitre,
		Active:        r.Active,
	}
}

func toPassbookDTO(s ledger.Statement) PassbookDTO {
	lines := make([]LedgerLineDTO, len(s.Lines))
	for i, l := range s.Lines {
		lines[i] = LedgerLineDTO{
			Date:        l.Date.String(),
			Kind:        string(l.Kind),
			RecordID:    l.RecordID,
			Description: l.Description,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Running:     l.Running,
		}
	}
	return PassbookDTO{
		CustomerID:     string(s.CustomerID),
		From:           s.Window.From.String(),
		To:             s.Window.To.String(),
		OpeningBalance: s.OpeningBalance,
		Lines:          lines,
		ClosingBalance: s.ClosingBalance,
		Totals: TotalsDTO{
			MilkQuantity: s.Totals.MilkQuantity,
			MilkValue:    s.Totals.MilkValue,
			Payments:     s.Totals.Payments,
			AdvanceDraws: s.Totals.AdvanceDraws,
		},
	}
}
