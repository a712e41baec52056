/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error here is a local validation failure: bad input or a genuine
  business conflict the caller must resolve. None are transient, so
  nothing in the engine retries internally.

ERROR CATEGORIES:
  1. Rate resolution  - No active rule covers the observation
  2. Advance errors   - Amount/balance/status violations
  3. Window errors    - Malformed reporting ranges

USAGE:
  Callers branch with errors.Is():

    if errors.Is(err, ledger.ErrNoMatchingRateRule) {
        // store entry priced at zero, flag for manual review
    }

SEE ALSO:
  - rates.go: Returns ErrNoMatchingRateRule with observation context
  - advance.go: Returns the advance error family
  - window.go: Returns ErrInvalidWindow
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNoMatchingRateRule is returned when no active rate rule covers an
	// observation. The caller must surface this for manual review; the engine
	// never silently defaults to some rate.
	ErrNoMatchingRateRule = errors.New("no matching rate rule")

	// ErrInvalidAmount is returned for non-positive principals, payments, or
	// utilization amounts. Rejected before any state change.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientAdvanceBalance is returned when a utilization exceeds the
	// customer's available advance balance. No partial draw is made.
	ErrInsufficientAdvanceBalance = errors.New("insufficient advance balance")

	// ErrAdvanceCancelled is returned when utilization is attempted against a
	// cancelled advance. Cancellation only removes remaining capacity;
	// already-utilized amounts stand.
	ErrAdvanceCancelled = errors.New("advance is cancelled")

	// ErrAdvanceNotFound is returned when a referenced advance doesn't exist.
	ErrAdvanceNotFound = errors.New("advance not found")

	// ErrInvalidWindow is returned when a reporting window ends before it starts.
	ErrInvalidWindow = errors.New("invalid window: end before start")

	// ErrDateTooEarly is returned for record dates before MinDate. The all-time
	// window starts at MinDate, so a record before it would silently fall out
	// of every statement; such dates are almost always typos and are rejected
	// before any state change.
	ErrDateTooEarly = errors.New("date before minimum supported date")

	// ErrInvalidRateBand is returned by the RateRule constructor for inverted
	// fat/SNF bounds.
	ErrInvalidRateBand = errors.New("invalid rate band: min not below max")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NoMatchError reports which observation failed rate resolution.
type NoMatchError struct {
	MilkType MilkType
	Fat      decimal.Decimal
	SNF      decimal.Decimal
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no matching rate rule for %s milk fat=%s snf=%s",
		e.MilkType, e.Fat, e.SNF)
}

func (e *NoMatchError) Unwrap() error { return ErrNoMatchingRateRule }

// InsufficientAdvanceError reports the shortfall on a rejected draw.
type InsufficientAdvanceError struct {
	CustomerID CustomerID
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientAdvanceError) Error() string {
	return fmt.Sprintf("insufficient advance balance for %s: available %s, requested %s",
		e.CustomerID, e.Available, e.Requested)
}

func (e *InsufficientAdvanceError) Unwrap() error { return ErrInsufficientAdvanceBalance }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input or a
// business conflict, as opposed to a storage failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrNoMatchingRateRule) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientAdvanceBalance) ||
		errors.Is(err, ErrAdvanceCancelled) ||
		errors.Is(err, ErrInvalidWindow) ||
		errors.Is(err, ErrInvalidRateBand) ||
		errors.Is(err, ErrDateTooEarly)
}
