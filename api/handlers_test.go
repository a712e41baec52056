/*
handlers_test.go - HTTP-level tests for the API surface

Tests run against the real router and a :memory: SQLite store, exercising
the full path from JSON request to stored record and back.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydairy/settlement-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiFixture struct {
	t      *testing.T
	server *httptest.Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := httptest.NewServer(NewRouter(NewHandler(store)))
	t.Cleanup(server.Close)
	return &apiFixture{t: t, server: server}
}

// post sends a JSON body and decodes the JSON response into out (when
// non-nil), returning the status code.
func (f *apiFixture) post(path string, body any, out any) int {
	f.t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(f.t, err)

	resp, err := http.Post(f.server.URL+path, "application/json", bytes.NewReader(payload))
	require.NoError(f.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *apiFixture) get(path string, out any) int {
	f.t.Helper()
	resp, err := http.Get(f.server.URL + path)
	require.NoError(f.t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(f.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *apiFixture) createCustomer(name string) string {
	f.t.Helper()
	var c CustomerDTO
	status := f.post("/api/customers", CreateCustomerRequest{
		Name:            name,
		DefaultMilkType: "cow",
	}, &c)
	require.Equal(f.t, http.StatusCreated, status)
	return c.ID
}

func (f *apiFixture) createRule(price float64) string {
	f.t.Helper()
	fatMin, fatMax := decimal.NewFromFloat(3.5), decimal.NewFromFloat(5.0)
	snfMin, snfMax := decimal.NewFromFloat(8.0), decimal.NewFromFloat(9.5)
	var rule RateRuleDTO
	status := f.post("/api/rates", CreateRateRuleRequest{
		MilkType:      "cow",
		FatMin:        &fatMin,
		FatMax:        &fatMax,
		SNFMin:        &snfMin,
		SNFMax:        &snfMax,
		PricePerLitre: decimal.NewFromFloat(price),
	}, &rule)
	require.Equal(f.t, http.StatusCreated, status)
	return rule.ID
}

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// =============================================================================
// COLLECTION ENTRIES
// =============================================================================

func TestAPI_CreateEntry(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")
	ruleID := f.createRule(42)

	var entry EntryDTO
	status := f.post("/api/entries", CreateEntryRequest{
		CustomerID: customerID,
		Date:       "2026-03-05",
		Shift:      "morning",
		MilkType:   "cow",
		Quantity:   dec(10),
		Fat:        dec(4.2),
		SNF:        dec(8.6),
	}, &entry)

	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, ruleID, entry.RuleID)
	assert.True(t, entry.Amount.Equal(dec(420)))
	assert.False(t, entry.NeedsReview)
	assert.Empty(t, entry.Warning)

	var listed []EntryDTO
	status = f.get(fmt.Sprintf("/api/customers/%s/entries?from=2026-03-01&to=2026-03-31", customerID), &listed)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, listed, 1)
	assert.Equal(t, entry.ID, listed[0].ID)
}

func TestAPI_CreateEntry_NoRateStoresReviewEntry(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")
	f.createRule(42)

	// Observation outside every band: stored anyway, flagged, warned.
	var entry EntryDTO
	status := f.post("/api/entries", CreateEntryRequest{
		CustomerID: customerID,
		Date:       "2026-03-05",
		Shift:      "morning",
		MilkType:   "cow",
		Quantity:   dec(8),
		Fat:        dec(2.0),
		SNF:        dec(7.0),
	}, &entry)

	require.Equal(t, http.StatusCreated, status)
	assert.True(t, entry.NeedsReview)
	assert.True(t, entry.Amount.IsZero())
	assert.NotEmpty(t, entry.Warning)
}

func TestAPI_CreateEntry_Rejections(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")

	base := CreateEntryRequest{
		CustomerID: customerID,
		Date:       "2026-03-05",
		Shift:      "morning",
		MilkType:   "cow",
		Quantity:   dec(5),
	}

	badDate := base
	badDate.Date = "05-03-2026"
	assert.Equal(t, http.StatusBadRequest, f.post("/api/entries", badDate, nil))

	badShift := base
	badShift.Shift = "night"
	assert.Equal(t, http.StatusUnprocessableEntity, f.post("/api/entries", badShift, nil))

	unknownCustomer := base
	unknownCustomer.CustomerID = "nope"
	assert.Equal(t, http.StatusNotFound, f.post("/api/entries", unknownCustomer, nil))
}

// =============================================================================
// SETTLEMENTS AND ADVANCES
// =============================================================================

func TestAPI_AdvanceLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")

	// Issue
	var advance AdvanceDTO
	status := f.post("/api/advances", IssueAdvanceRequest{
		CustomerID: customerID,
		Principal:  dec(300),
		Date:       "2026-03-01",
		Note:       "festival advance",
	}, &advance)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "active", advance.Status)
	assert.True(t, advance.Available.Equal(dec(300)))

	// Draw against it
	var settlement SettlementDTO
	status = f.post("/api/payments", CreatePaymentRequest{
		CustomerID: customerID,
		Date:       "2026-03-10",
		Amount:     dec(120),
		UseAdvance: true,
	}, &settlement)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "advance", settlement.Source)
	assert.Nil(t, settlement.Payment)
	require.Len(t, settlement.Utilizations, 1)
	assert.True(t, settlement.Utilizations[0].Amount.Equal(dec(120)))

	// Balance reflects the draw
	var balance AdvanceBalanceDTO
	status = f.get("/api/customers/"+customerID+"/advance-balance", &balance)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, balance.Available.Equal(dec(180)))

	// Over-draw conflicts and changes nothing
	status = f.post("/api/payments", CreatePaymentRequest{
		CustomerID: customerID,
		Date:       "2026-03-11",
		Amount:     dec(500),
		UseAdvance: true,
	}, nil)
	assert.Equal(t, http.StatusConflict, status)

	// Cancel freezes the remainder
	var cancelled AdvanceDTO
	status = f.post("/api/advances/"+advance.ID+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "cancelled", cancelled.Status)
	assert.True(t, cancelled.Utilized.Equal(dec(120)), "utilized amount stands after cancellation")
	assert.True(t, cancelled.Available.IsZero())

	// Cancelling again conflicts
	status = f.post("/api/advances/"+advance.ID+"/cancel", nil, nil)
	assert.Equal(t, http.StatusConflict, status)

	// Unknown advance is 404
	status = f.post("/api/advances/missing/cancel", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_CreatePayment_External(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")

	var settlement SettlementDTO
	status := f.post("/api/payments", CreatePaymentRequest{
		CustomerID: customerID,
		Date:       "2026-03-10",
		Amount:     dec(250),
		Mode:       "UPI",
		Reference:  "txn-17",
	}, &settlement)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "external", settlement.Source)
	require.NotNil(t, settlement.Payment)
	assert.Empty(t, settlement.Utilizations)
	assert.Equal(t, "txn-17", settlement.Payment.Reference)
}

func TestAPI_CreatePayment_RejectsNonPositive(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")

	status := f.post("/api/payments", CreatePaymentRequest{
		CustomerID: customerID,
		Date:       "2026-03-10",
		Amount:     dec(-5),
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}

// =============================================================================
// PASSBOOK
// =============================================================================

func TestAPI_Passbook(t *testing.T) {
	f := newAPIFixture(t)
	customerID := f.createCustomer("Ramesh")
	f.createRule(40)

	status := f.post("/api/entries", CreateEntryRequest{
		CustomerID: customerID,
		Date:       "2026-03-01",
		Shift:      "morning",
		MilkType:   "cow",
		Quantity:   dec(10),
		Fat:        dec(4.0),
		SNF:        dec(8.5),
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	status = f.post("/api/payments", CreatePaymentRequest{
		CustomerID: customerID,
		Date:       "2026-03-03",
		Amount:     dec(150),
		Mode:       "CASH",
	}, nil)
	require.Equal(t, http.StatusCreated, status)

	var passbook PassbookDTO
	status = f.get("/api/customers/"+customerID+"/passbook?from=2026-03-01&to=2026-03-31", &passbook)
	require.Equal(t, http.StatusOK, status)

	require.Len(t, passbook.Lines, 2)
	assert.True(t, passbook.OpeningBalance.IsZero())
	assert.True(t, passbook.Lines[0].Debit.Equal(dec(400)))
	assert.True(t, passbook.Lines[1].Credit.Equal(dec(150)))
	assert.True(t, passbook.ClosingBalance.Equal(dec(250)))
	assert.True(t, passbook.Totals.MilkQuantity.Equal(dec(10)))

	// Month selector over the same data
	var monthly PassbookDTO
	status = f.get("/api/customers/"+customerID+"/passbook?month=2026-03", &monthly)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, monthly.ClosingBalance.Equal(dec(250)))

	// Inverted range is rejected
	status = f.get("/api/customers/"+customerID+"/passbook?from=2026-03-31&to=2026-03-01", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// Unknown customer is 404
	status = f.get("/api/customers/missing/passbook", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// =============================================================================
// RATE RULES
// =============================================================================

func TestAPI_RateRuleAdministration(t *testing.T) {
	f := newAPIFixture(t)
	ruleID := f.createRule(42)

	var active []RateRuleDTO
	status := f.get("/api/rates?active=true", &active)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, active, 1)

	var deactivated RateRuleDTO
	status = f.post("/api/rates/"+ruleID+"/deactivate", nil, &deactivated)
	require.Equal(t, http.StatusOK, status)
	assert.False(t, deactivated.Active)

	status = f.get("/api/rates?active=true", &active)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, active)

	var all []RateRuleDTO
	status = f.get("/api/rates", &all)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, all, 1)

	// Inverted band is rejected at creation
	lo, hi := decimal.NewFromFloat(5.0), decimal.NewFromFloat(3.5)
	status = f.post("/api/rates", CreateRateRuleRequest{
		MilkType:      "cow",
		FatMin:        &lo,
		FatMax:        &hi,
		PricePerLitre: dec(42),
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
}
