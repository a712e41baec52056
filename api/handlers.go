/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Customers:
    GET    /api/customers                       List customers
    POST   /api/customers                       Create customer
    GET    /api/customers/{id}                  Get customer
    GET    /api/customers/{id}/passbook         Compiled statement
    GET    /api/customers/{id}/entries          Entries in a range
    GET    /api/customers/{id}/advances         All advances
    GET    /api/customers/{id}/advance-balance  Available advance balance

  Records:
    POST   /api/entries                         Ingest a milk collection
    POST   /api/payments                        Settle cash or draw advances
    POST   /api/advances                        Issue an advance
    POST   /api/advances/{id}/cancel            Cancel an advance

  Rate rules:
    GET    /api/rates                           List rules (?active=true)
    POST   /api/rates                           Create rule
    POST   /api/rates/{id}/deactivate           Retire a rule

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (ingest service, advance book, compiler)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed body, bad dates, invalid window
  - 404: Customer/advance not found
  - 409: Insufficient advance balance, cancelled advance
  - 422: Amount/band validation failures
  - 500: Storage errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mydairy/settlement-engine/ingest"
	"github.com/mydairy/settlement-engine/ledger"
	"github.com/mydairy/settlement-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store    *sqlite.Store
	Ingest   *ingest.Service
	Book     *ledger.AdvanceBook
	Compiler *ledger.Compiler
}

// NewHandler wires the engine's collaborators around the given store.
func NewHandler(store *sqlite.Store) *Handler {
	book := ledger.NewAdvanceBook(store)
	return &Handler{
		Store:    store,
		Ingest:   ingest.NewService(store, store, book),
		Book:     book,
		Compiler: ledger.NewCompiler(store),
	}
}

// =============================================================================
// CUSTOMER HANDLERS
// =============================================================================

// ListCustomers returns all customers.
func (h *Handler) ListCustomers(w http.ResponseWriter, r *http.Request) {
	customers, err := h.Store.ListCustomers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list customers", err)
		return
	}

	dtos := make([]CustomerDTO, len(customers))
	for i, c := range customers {
		dtos[i] = toCustomerDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCustomer returns a single customer.
func (h *Handler) GetCustomer(w http.ResponseWriter, r *http.Request) {
	id := ledger.CustomerID(chi.URLParam(r, "id"))

	c, err := h.Store.Customer(r.Context(), id)
	if errors.Is(err, sqlite.ErrCustomerNotFound) {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get customer", err)
		return
	}
	writeJSON(w, http.StatusOK, toCustomerDTO(c))
}

// CreateCustomer registers a new customer.
func (h *Handler) CreateCustomer(w http.ResponseWriter, r *http.Request) {
	var req CreateCustomerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusUnprocessableEntity, "Name is required", nil)
		return
	}
	milkType, err := parseMilkType(req.DefaultMilkType)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid default_milk_type", err)
		return
	}

	c := sqlite.Customer{
		ID:              ledger.CustomerID(uuid.NewString()),
		ExternalID:      req.ExternalID,
		Name:            req.Name,
		Phone:           req.Phone,
		DefaultMilkType: milkType,
		Active:          true,
	}
	if err := h.Store.SaveCustomer(r.Context(), c); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create customer", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCustomerDTO(c))
}

// =============================================================================
// COLLECTION ENTRY HANDLERS
// =============================================================================

// CreateEntry ingests and prices a milk collection.
//
// A collection with no matching rate rule is STILL stored (priced at zero,
// flagged for review); the response is 201 with needs_review set and a
// warning, because the litres were physically collected either way.
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	milkType, err := parseMilkType(req.MilkType)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid milk_type", err)
		return
	}
	shift, err := parseShift(req.Shift)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid shift", err)
		return
	}
	if _, err := h.Store.Customer(r.Context(), ledger.CustomerID(req.CustomerID)); err != nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	entry, err := h.Ingest.PriceEntry(r.Context(), ingest.EntryCandidate{
		CustomerID: ledger.CustomerID(req.CustomerID),
		Date:       date,
		Shift:      shift,
		MilkType:   milkType,
		Quantity:   req.Quantity,
		Fat:        req.Fat,
		SNF:        req.SNF,
	})
	switch {
	case errors.Is(err, ledger.ErrNoMatchingRateRule):
		dto := toEntryDTO(entry)
		dto.Warning = err.Error()
		writeJSON(w, http.StatusCreated, dto)
	case ledger.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, "Invalid entry", err)
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Failed to store entry", err)
	default:
		writeJSON(w, http.StatusCreated, toEntryDTO(entry))
	}
}

// ListEntries returns a customer's entries in a date range.
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}

	entries, err := h.Store.EntriesInRange(r.Context(), customerID, window.From, window.To)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// SETTLEMENT HANDLERS
// =============================================================================

// CreatePayment settles an amount to a customer, from external cash or by
// drawing down advances depending on use_advance.
func (h *Handler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	var req CreatePaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if _, err := h.Store.Customer(r.Context(), ledger.CustomerID(req.CustomerID)); err != nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	result, err := h.Ingest.RecordPayment(r.Context(), ingest.PaymentRequest{
		CustomerID: ledger.CustomerID(req.CustomerID),
		Date:       date,
		Amount:     req.Amount,
		Mode:       req.Mode,
		Reference:  req.Reference,
		UseAdvance: req.UseAdvance,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dto := SettlementDTO{Source: string(result.Source)}
	if result.Payment != nil {
		p := toPaymentDTO(*result.Payment)
		dto.Payment = &p
	}
	if len(result.Utilizations) > 0 {
		dto.Utilizations = toUtilizationDTOs(result.Utilizations)
	}
	writeJSON(w, http.StatusCreated, dto)
}

// =============================================================================
// ADVANCE HANDLERS
// =============================================================================

// IssueAdvance disburses a new advance to a customer.
func (h *Handler) IssueAdvance(w http.ResponseWriter, r *http.Request) {
	var req IssueAdvanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	date, err := ledger.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if _, err := h.Store.Customer(r.Context(), ledger.CustomerID(req.CustomerID)); err != nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}

	advance, err := h.Book.Issue(r.Context(), ledger.CustomerID(req.CustomerID), req.Principal, date, req.Note)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAdvanceDTO(advance))
}

// CancelAdvance freezes an advance's remaining capacity. Already-utilized
// amounts stand; cancellation is terminal.
func (h *Handler) CancelAdvance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AdvanceID(chi.URLParam(r, "id"))

	advance, err := h.Book.Cancel(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAdvanceDTO(advance))
}

// ListAdvances returns all of a customer's advances in FIFO order.
func (h *Handler) ListAdvances(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	advances, err := h.Store.AdvancesByCustomer(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list advances", err)
		return
	}
	dtos := make([]AdvanceDTO, len(advances))
	for i, a := range advances {
		dtos[i] = toAdvanceDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAdvanceBalance returns a customer's total available advance balance.
func (h *Handler) GetAdvanceBalance(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	available, err := h.Book.AvailableBalance(r.Context(), customerID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get advance balance", err)
		return
	}
	writeJSON(w, http.StatusOK, AdvanceBalanceDTO{
		CustomerID: string(customerID),
		Available:  available,
	})
}

// =============================================================================
// PASSBOOK HANDLER
// =============================================================================

// GetPassbook compiles and returns the customer's statement for the
// requested window: ?from=&to= for an explicit range, ?month=YYYY-MM for a
// calendar month (clamped to today), neither for all time.
func (h *Handler) GetPassbook(w http.ResponseWriter, r *http.Request) {
	customerID := ledger.CustomerID(chi.URLParam(r, "id"))

	if _, err := h.Store.Customer(r.Context(), customerID); err != nil {
		writeError(w, http.StatusNotFound, "Customer not found", nil)
		return
	}
	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid range", err)
		return
	}

	statement, err := h.Compiler.Compile(r.Context(), customerID, window)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compile passbook", err)
		return
	}
	writeJSON(w, http.StatusOK, toPassbookDTO(statement))
}

// =============================================================================
// RATE RULE HANDLERS
// =============================================================================

// ListRateRules returns rate rules; ?active=true filters to the live set.
func (h *Handler) ListRateRules(w http.ResponseWriter, r *http.Request) {
	var (
		rules []ledger.RateRule
		err   error
	)
	if r.URL.Query().Get("active") == "true" {
		rules, err = h.Store.ActiveRateRules(r.Context())
	} else {
		rules, err = h.Store.AllRateRules(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rate rules", err)
		return
	}

	dtos := make([]RateRuleDTO, len(rules))
	for i, rule := range rules {
		dtos[i] = toRateRuleDTO(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRateRule adds a new pricing band.
func (h *Handler) CreateRateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	milkType, err := parseMilkType(req.MilkType)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid milk_type", err)
		return
	}

	id := ledger.RuleID(req.ID)
	if id == "" {
		id = ledger.RuleID(uuid.NewString())
	}
	rule, err := ledger.NewRateRule(id, milkType, req.FatMin, req.FatMax, req.SNFMin, req.SNFMax, req.PricePerLitre)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Store.SaveRateRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rate rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, toRateRuleDTO(rule))
}

// DeactivateRateRule retires a rule from future resolutions. Entries already
// priced by it are untouched.
func (h *Handler) DeactivateRateRule(w http.ResponseWriter, r *http.Request) {
	id := ledger.RuleID(chi.URLParam(r, "id"))

	rule, err := h.Store.RateRule(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "Rate rule not found", nil)
		return
	}
	rule.Active = false
	if err := h.Store.SaveRateRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to deactivate rate rule", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateRuleDTO(rule))
}

// =============================================================================
// HELPERS
// =============================================================================

// windowFromQuery builds the reporting window from query parameters:
// explicit ?from=&to=, a calendar ?month=YYYY-MM clamped to today, or the
// all-time window when neither is given.
func windowFromQuery(r *http.Request) (ledger.Window, error) {
	q := r.URL.Query()

	if month := q.Get("month"); month != "" {
		t, err := time.Parse("2006-01", month)
		if err != nil {
			return ledger.Window{}, err
		}
		return ledger.MonthWindow(t.Year(), t.Month()), nil
	}

	fromRaw, toRaw := q.Get("from"), q.Get("to")
	if fromRaw == "" && toRaw == "" {
		return ledger.AllTime(), nil
	}

	from := ledger.MinDate()
	if fromRaw != "" {
		var err error
		if from, err = ledger.ParseDate(fromRaw); err != nil {
			return ledger.Window{}, err
		}
	}
	to := ledger.Today()
	if toRaw != "" {
		var err error
		if to, err = ledger.ParseDate(toRaw); err != nil {
			return ledger.Window{}, err
		}
	}
	return ledger.NewWindow(from, to)
}

func parseMilkType(raw string) (ledger.MilkType, error) {
	switch ledger.MilkType(raw) {
	case ledger.MilkCow, ledger.MilkBuffalo, ledger.MilkMixed:
		return ledger.MilkType(raw), nil
	}
	return "", errors.New("milk type must be cow, buffalo, or mixed: " + strconv.Quote(raw))
}

func parseShift(raw string) (ledger.Shift, error) {
	switch ledger.Shift(raw) {
	case ledger.ShiftMorning, ledger.ShiftEvening:
		return ledger.Shift(raw), nil
	}
	return "", errors.New("shift must be morning or evening: " + strconv.Quote(raw))
}

func toCustomerDTO(c sqlite.Customer) CustomerDTO {
	return CustomerDTO{
		ID:              string(c.ID),
		ExternalID:      c.ExternalID,
		Name:            c.Name,
		Phone:           c.Phone,
		DefaultMilkType: string(c.DefaultMilkType),
		Active:          c.Active,
	}
}

// writeDomainError maps the engine's error taxonomy to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAdvanceNotFound):
		writeError(w, http.StatusNotFound, "Advance not found", nil)
	case errors.Is(err, ledger.ErrInsufficientAdvanceBalance):
		writeError(w, http.StatusConflict, "Insufficient advance balance", err)
	case errors.Is(err, ledger.ErrAdvanceCancelled):
		writeError(w, http.StatusConflict, "Advance is cancelled", err)
	case errors.Is(err, ledger.ErrInvalidWindow):
		writeError(w, http.StatusBadRequest, "Invalid window", err)
	case ledger.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
