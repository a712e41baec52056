/*
window.go - Reporting window selection

PURPOSE:
  Turns a human-facing selector (a specific month, or "all time") into a
  concrete inclusive [From, To] pair for the compiler. Stateless; a pure
  date-range calculator.

CLAMPING:
  A month window never extends past today: asking for the current month
  mid-month yields [first of month, today]. "All time" is [MinDate, today],
  which by construction yields opening balance zero.

SEE ALSO:
  - compile.go: Consumes windows
  - date.go:    MinDate sentinel
*/
package ledger

import "time"

// Window is an inclusive reporting range.
type Window struct {
	From Date
	To   Date
}

// NewWindow validates To >= From.
func NewWindow(from, to Date) (Window, error) {
	if to.Before(from) {
		return Window{}, ErrInvalidWindow
	}
	return Window{From: from, To: to}, nil
}

// Contains reports whether the date falls inside the window.
func (w Window) Contains(d Date) bool {
	return d.AfterOrEqual(w.From) && d.BeforeOrEqual(w.To)
}

func (w Window) String() string {
	return "[" + w.From.String() + ", " + w.To.String() + "]"
}

// MonthWindow resolves a calendar month, clamped so To never exceeds today.
func MonthWindow(year int, month time.Month) Window {
	return MonthWindowAt(year, month, Today())
}

// MonthWindowAt is MonthWindow with an explicit "today", for callers (and
// tests) that pin the clock.
func MonthWindowAt(year int, month time.Month, today Date) Window {
	from := StartOfMonth(year, month)
	to := EndOfMonth(year, month)
	if to.After(today) {
		to = today
	}
	if to.Before(from) {
		// A wholly-future month clamps to its own first day; the window is
		// valid and simply contains no records yet.
		to = from
	}
	return Window{From: from, To: to}
}

// AllTime resolves to [MinDate, today].
func AllTime() Window {
	return AllTimeAt(Today())
}

// AllTimeAt is AllTime with an explicit "today".
func AllTimeAt(today Date) Window {
	return Window{From: MinDate(), To: today}
}
