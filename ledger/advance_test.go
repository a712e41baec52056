package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mydairy/settlement-engine/ledger"
	"github.com/mydairy/settlement-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newBook() (*ledger.AdvanceBook, *store.Memory) {
	mem := store.NewMemory()
	return ledger.NewAdvanceBook(mem), mem
}

func day(d int) ledger.Date { return ledger.NewDate(2026, time.March, d) }

// conservationHolds checks the core accounting invariant: over non-cancelled
// advances, sum(principal) - sum(utilized) == AvailableBalance.
func conservationHolds(t *testing.T, book *ledger.AdvanceBook, mem *store.Memory, customerID ledger.CustomerID) {
	t.Helper()
	ctx := context.Background()

	advances, err := mem.AdvancesByCustomer(ctx, customerID)
	require.NoError(t, err)

	expected := decimal.Zero
	for _, a := range advances {
		require.False(t, a.Utilized.GreaterThan(a.Principal),
			"utilized must never exceed principal on %s", a.ID)
		if a.Status != ledger.AdvanceCancelled {
			expected = expected.Add(a.Principal.Sub(a.Utilized))
		}
	}

	available, err := book.AvailableBalance(ctx, customerID)
	require.NoError(t, err)
	assert.True(t, expected.Equal(available),
		"conservation violated: expected %s available, got %s", expected, available)
}

// =============================================================================
// ISSUE
// =============================================================================

func TestIssue_RejectsNonPositivePrincipal(t *testing.T) {
	book, _ := newBook()
	ctx := context.Background()

	_, err := book.Issue(ctx, "c1", decimal.Zero, day(1), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = book.Issue(ctx, "c1", dec(-50), day(1), "")
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.IsZero(), "rejected issue must not change state")
}

func TestIssue_AddsToAvailableBalance(t *testing.T) {
	book, mem := newBook()
	ctx := context.Background()

	adv, err := book.Issue(ctx, "c1", dec(500), day(1), "seed purchase")
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceActive, adv.Status)
	assert.True(t, adv.Utilized.IsZero())

	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec(500)))

	conservationHolds(t, book, mem, "c1")
}

// =============================================================================
// UTILIZE - FIFO draw
// =============================================================================

func TestUtilize_FIFOSplitsAcrossAdvances(t *testing.T) {
	// GIVEN: Advance A1 (100, day 1) then A2 (50, day 2)
	// WHEN: Utilizing 120
	// THEN: 100 drawn from A1 (exhausting it), 20 from A2, 30 left on A2

	book, mem := newBook()
	ctx := context.Background()

	a1, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)
	a2, err := book.Issue(ctx, "c1", dec(50), day(2), "")
	require.NoError(t, err)

	events, err := book.Utilize(ctx, "c1", dec(120), day(10))
	require.NoError(t, err)
	require.Len(t, events, 2, "one utilization record per advance touched")

	assert.Equal(t, a1.ID, events[0].AdvanceID)
	assert.True(t, events[0].Amount.Equal(dec(100)))
	assert.Equal(t, a2.ID, events[1].AdvanceID)
	assert.True(t, events[1].Amount.Equal(dec(20)))

	got1, err := mem.Advance(ctx, a1.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceExhausted, got1.Status)
	assert.True(t, got1.Utilized.Equal(got1.Principal))

	got2, err := mem.Advance(ctx, a2.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceActive, got2.Status)
	assert.True(t, got2.Available().Equal(dec(30)))

	conservationHolds(t, book, mem, "c1")
}

func TestUtilize_InsufficientBalance_NoPartialDraw(t *testing.T) {
	book, mem := newBook()
	ctx := context.Background()

	_, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)

	_, err = book.Utilize(ctx, "c1", dec(150), day(5))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAdvanceBalance)

	// Nothing drawn: the full 100 is still available.
	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec(100)))

	draws, err := mem.UtilizationsInRange(ctx, "c1", ledger.MinDate(), ledger.Today())
	require.NoError(t, err)
	assert.Empty(t, draws)
}

func TestUtilize_RejectsNonPositiveAmount(t *testing.T) {
	book, _ := newBook()
	ctx := context.Background()

	_, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)

	_, err = book.Utilize(ctx, "c1", decimal.Zero, day(5))
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)
}

func TestUtilize_ExhaustsExactlyAtPrincipal(t *testing.T) {
	book, mem := newBook()
	ctx := context.Background()

	adv, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)

	_, err = book.Utilize(ctx, "c1", dec(100), day(5))
	require.NoError(t, err)

	got, err := mem.Advance(ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceExhausted, got.Status)
	assert.True(t, got.Available().IsZero())
}

func TestUtilize_FIFOOrderRespected(t *testing.T) {
	// Oldest advance must reach its principal before a newer one is touched.
	book, mem := newBook()
	ctx := context.Background()

	a1, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)
	a2, err := book.Issue(ctx, "c1", dec(100), day(2), "")
	require.NoError(t, err)

	// Three partial draws that together stay inside A1.
	for _, amount := range []decimal.Decimal{dec(30), dec(30), dec(30)} {
		_, err := book.Utilize(ctx, "c1", amount, day(10))
		require.NoError(t, err)
	}

	got1, err := mem.Advance(ctx, a1.ID)
	require.NoError(t, err)
	got2, err := mem.Advance(ctx, a2.ID)
	require.NoError(t, err)

	assert.True(t, got1.Utilized.Equal(dec(90)))
	assert.True(t, got2.Utilized.IsZero(), "newer advance touched before older one exhausted")

	conservationHolds(t, book, mem, "c1")
}

// =============================================================================
// CANCEL
// =============================================================================

func TestCancel_FreezesRemainingCapacityOnly(t *testing.T) {
	// GIVEN: An advance of 100 with 40 already utilized
	// WHEN: Cancelling it
	// THEN: The 60 remaining disappears from available; the 40 stands

	book, mem := newBook()
	ctx := context.Background()

	adv, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)
	_, err = book.Utilize(ctx, "c1", dec(40), day(3))
	require.NoError(t, err)

	cancelled, err := book.Cancel(ctx, adv.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.AdvanceCancelled, cancelled.Status)
	assert.True(t, cancelled.Utilized.Equal(dec(40)), "cancellation must not reverse utilization")

	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.IsZero())

	conservationHolds(t, book, mem, "c1")
}

func TestCancelledAdvance_SkippedByFIFO(t *testing.T) {
	// A newer active advance funds the draw when the older one is cancelled.
	book, mem := newBook()
	ctx := context.Background()

	a1, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)
	a2, err := book.Issue(ctx, "c1", dec(50), day(2), "")
	require.NoError(t, err)

	_, err = book.Cancel(ctx, a1.ID)
	require.NoError(t, err)

	events, err := book.Utilize(ctx, "c1", dec(50), day(5))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, a2.ID, events[0].AdvanceID)

	got1, err := mem.Advance(ctx, a1.ID)
	require.NoError(t, err)
	assert.True(t, got1.Utilized.IsZero())
}

func TestCancel_IsTerminal(t *testing.T) {
	book, _ := newBook()
	ctx := context.Background()

	adv, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)

	_, err = book.Cancel(ctx, adv.ID)
	require.NoError(t, err)

	_, err = book.Cancel(ctx, adv.ID)
	assert.ErrorIs(t, err, ledger.ErrAdvanceCancelled)
}

func TestCancel_UnknownAdvance(t *testing.T) {
	book, _ := newBook()

	_, err := book.Cancel(context.Background(), "missing")
	assert.ErrorIs(t, err, ledger.ErrAdvanceNotFound)
}

// =============================================================================
// CONSERVATION - Invariant across arbitrary call sequences
// =============================================================================

func TestAdvanceConservation_AcrossMixedOperations(t *testing.T) {
	// After any sequence of issue/utilize/cancel, the books must balance.
	book, mem := newBook()
	ctx := context.Background()

	a1, err := book.Issue(ctx, "c1", dec(200), day(1), "")
	require.NoError(t, err)
	conservationHolds(t, book, mem, "c1")

	_, err = book.Issue(ctx, "c1", dec(75), day(2), "")
	require.NoError(t, err)
	conservationHolds(t, book, mem, "c1")

	_, err = book.Utilize(ctx, "c1", dec(120), day(4))
	require.NoError(t, err)
	conservationHolds(t, book, mem, "c1")

	_, err = book.Cancel(ctx, a1.ID)
	require.NoError(t, err)
	conservationHolds(t, book, mem, "c1")

	_, err = book.Utilize(ctx, "c1", dec(60), day(6))
	require.NoError(t, err)
	conservationHolds(t, book, mem, "c1")

	// Over-draw attempt leaves the invariant intact too.
	_, err = book.Utilize(ctx, "c1", dec(1000), day(7))
	assert.ErrorIs(t, err, ledger.ErrInsufficientAdvanceBalance)
	conservationHolds(t, book, mem, "c1")
}

// =============================================================================
// DRAW ATOMICITY - A failed commit must leave no trace in either view
// =============================================================================

// drawFailStore simulates a storage outage at the moment a draw commits.
type drawFailStore struct {
	*store.Memory
	failCommit bool
}

func (s *drawFailStore) CommitDraw(ctx context.Context, advances []ledger.Advance, utilizations []ledger.AdvanceUtilization) error {
	if s.failCommit {
		return errors.New("disk full")
	}
	return s.Memory.CommitDraw(ctx, advances, utilizations)
}

func TestUtilize_FailedCommitLeavesNoTrace(t *testing.T) {
	// GIVEN two advances so the draw would split across both
	failing := &drawFailStore{Memory: store.NewMemory()}
	book := ledger.NewAdvanceBook(failing)
	ctx := context.Background()

	_, err := book.Issue(ctx, "c1", dec(100), day(1), "")
	require.NoError(t, err)
	_, err = book.Issue(ctx, "c1", dec(50), day(2), "")
	require.NoError(t, err)

	// WHEN the storage layer fails at commit time
	failing.failCommit = true
	_, err = book.Utilize(ctx, "c1", dec(120), day(10))
	require.Error(t, err)

	// THEN neither view moved: full capacity remains and the passbook will
	// show no credit, so the two stay consistent with each other.
	available, err := book.AvailableBalance(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, available.Equal(dec(150)))

	utilizations, err := failing.UtilizationsInRange(ctx, "c1", day(1), day(31))
	require.NoError(t, err)
	assert.Empty(t, utilizations)

	advances, err := failing.AdvancesByCustomer(ctx, "c1")
	require.NoError(t, err)
	for _, a := range advances {
		assert.True(t, a.Utilized.IsZero())
		assert.Equal(t, ledger.AdvanceActive, a.Status)
	}

	// AND the same draw succeeds cleanly once storage recovers.
	failing.failCommit = false
	events, err := book.Utilize(ctx, "c1", dec(120), day(10))
	require.NoError(t, err)
	require.Len(t, events, 2)
	conservationHolds(t, book, failing.Memory, "c1")
}
