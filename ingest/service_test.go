package ingest_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydairy/settlement-engine/ingest"
	"github.com/mydairy/settlement-engine/ledger"
	"github.com/mydairy/settlement-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func bound(f float64) *decimal.Decimal {
	d := decimal.NewFromFloat(f)
	return &d
}

func day(d int) ledger.Date { return ledger.NewDate(2026, time.March, d) }

func newService(t *testing.T) (*ingest.Service, *store.Memory, *ledger.AdvanceBook) {
	t.Helper()
	mem := store.NewMemory()
	book := ledger.NewAdvanceBook(mem)
	return ingest.NewService(mem, mem, book), mem, book
}

func seedRule(t *testing.T, mem *store.Memory, id string, price float64) {
	t.Helper()
	rule, err := ledger.NewRateRule(ledger.RuleID(id), ledger.MilkCow,
		bound(3.5), bound(5.0), bound(8.0), bound(9.5), dec(price))
	require.NoError(t, err)
	require.NoError(t, mem.SaveRateRule(context.Background(), rule))
}

// =============================================================================
// COLLECTION PRICING
// =============================================================================

func TestPriceEntry_PricesAtWriteTime(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()
	seedRule(t, mem, "r1", 42)

	// WHEN a candidate inside the band is ingested
	entry, err := svc.PriceEntry(ctx, ingest.EntryCandidate{
		CustomerID: "c1",
		Date:       day(5),
		Shift:      ledger.ShiftMorning,
		MilkType:   ledger.MilkCow,
		Quantity:   dec(10),
		Fat:        dec(4.2),
		SNF:        dec(8.6),
	})
	require.NoError(t, err)

	// THEN the stored amount is quantity x resolved price
	assert.Equal(t, ledger.RuleID("r1"), entry.RuleID)
	assert.True(t, entry.Amount.Equal(dec(420)))
	assert.False(t, entry.NeedsReview)
	assert.NotEmpty(t, entry.ID)

	stored, err := mem.EntriesInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, entry.ID, stored[0].ID)
}

func TestPriceEntry_StoredAmountSurvivesRateChange(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()
	seedRule(t, mem, "r1", 42)

	entry, err := svc.PriceEntry(ctx, ingest.EntryCandidate{
		CustomerID: "c1", Date: day(5), Shift: ledger.ShiftMorning,
		MilkType: ledger.MilkCow, Quantity: dec(10), Fat: dec(4.2), SNF: dec(8.6),
	})
	require.NoError(t, err)

	// WHEN the rate card changes after the fact
	seedRule(t, mem, "r1", 55)

	// THEN the stored entry still carries the write-time price
	stored, err := mem.EntriesInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Amount.Equal(entry.Amount))
	assert.True(t, stored[0].PricePerLitre.Equal(dec(42)))
}

func TestPriceEntry_NoMatchStoresZeroPricedReviewEntry(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()
	seedRule(t, mem, "r1", 42)

	// WHEN the observation falls outside every band
	entry, err := svc.PriceEntry(ctx, ingest.EntryCandidate{
		CustomerID: "c1", Date: day(5), Shift: ledger.ShiftEvening,
		MilkType: ledger.MilkCow, Quantity: dec(8), Fat: dec(2.0), SNF: dec(7.0),
	})

	// THEN the error reports the gap but the litres are not lost
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrNoMatchingRateRule)
	assert.True(t, entry.Amount.IsZero())
	assert.True(t, entry.NeedsReview)
	assert.Empty(t, entry.RuleID)

	stored, err := mem.EntriesInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].NeedsReview)
}

func TestPriceEntry_RejectsNegativeQuantity(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()
	seedRule(t, mem, "r1", 42)

	_, err := svc.PriceEntry(ctx, ingest.EntryCandidate{
		CustomerID: "c1", Date: day(5), Shift: ledger.ShiftMorning,
		MilkType: ledger.MilkCow, Quantity: dec(-1), Fat: dec(4.2), SNF: dec(8.6),
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	stored, err := mem.EntriesInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	assert.Empty(t, stored)
}

// =============================================================================
// SETTLEMENT ROUTING
// =============================================================================

func TestRecordPayment_ExternalCash(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()

	result, err := svc.RecordPayment(ctx, ingest.PaymentRequest{
		CustomerID: "c1", Date: day(10), Amount: dec(250),
		Mode: "UPI", Reference: "txn-17",
	})
	require.NoError(t, err)

	assert.Equal(t, ledger.FundingExternal, result.Source)
	require.NotNil(t, result.Payment)
	assert.Empty(t, result.Utilizations)
	assert.True(t, result.Payment.Amount.Equal(dec(250)))

	stored, err := mem.PaymentsInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "txn-17", stored[0].Reference)
}

func TestRecordPayment_AdvanceFunded(t *testing.T) {
	svc, mem, book := newService(t)
	ctx := context.Background()

	_, err := book.Issue(ctx, "c1", dec(300), day(1), "seed loan")
	require.NoError(t, err)

	result, err := svc.RecordPayment(ctx, ingest.PaymentRequest{
		CustomerID: "c1", Date: day(10), Amount: dec(120), UseAdvance: true,
	})
	require.NoError(t, err)

	// THEN the settlement is a draw, not a payment
	assert.Equal(t, ledger.FundingAdvance, result.Source)
	assert.Nil(t, result.Payment)
	require.Len(t, result.Utilizations, 1)
	assert.True(t, result.Utilizations[0].Amount.Equal(dec(120)))

	payments, err := mem.PaymentsInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	assert.Empty(t, payments, "advance-funded settlements must not create payment records")

	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec(180)))
}

func TestRecordPayment_AdvanceInsufficientDrawsNothing(t *testing.T) {
	svc, mem, book := newService(t)
	ctx := context.Background()

	_, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)

	_, err = svc.RecordPayment(ctx, ingest.PaymentRequest{
		CustomerID: "c1", Date: day(10), Amount: dec(150), UseAdvance: true,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInsufficientAdvanceBalance)

	// No partial draw, no stray records.
	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec(100)))

	utilizations, err := mem.UtilizationsInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	assert.Empty(t, utilizations)
}

func TestRecordPayment_RejectsNonPositiveAmounts(t *testing.T) {
	svc, mem, _ := newService(t)
	ctx := context.Background()

	for _, amount := range []decimal.Decimal{decimal.Zero, dec(-50)} {
		_, err := svc.RecordPayment(ctx, ingest.PaymentRequest{
			CustomerID: "c1", Date: day(10), Amount: amount,
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

		_, err = svc.RecordPayment(ctx, ingest.PaymentRequest{
			CustomerID: "c1", Date: day(10), Amount: amount, UseAdvance: true,
		})
		assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
	}

	payments, err := mem.PaymentsInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	assert.Empty(t, payments)
}
