/*
rates.go - Rate resolution: observation -> price per litre

PURPOSE:
  Maps a (milk type, fat%, SNF%) observation to a price per litre using a
  set of possibly-overlapping banded rules. Pure function over the rule
  set; no side effects, trivially cacheable, but correctness never depends
  on caching.

ALGORITHM:
  1. Filter to active rules with the same milk type whose half-open fat
     and SNF bands contain the observation.
  2. Zero matches -> NoMatchError. The caller stores the entry priced at
     zero with a review flag; the engine never silently defaults.
  3. More than one match (overlapping bands - a data-quality defect, not a
     crash): tie-break by
       a. narrowest total band width (fat width + SNF width, any unbounded
          side counts as infinite),
       b. then highest price per litre,
       c. then lowest rule ID.
     Specificity beats coincidence, and identical inputs always resolve to
     the identical rule.

DETERMINISM:
  The tie-break is a total order independent of the rule set's input
  order. resolve called twice against an unchanged rule set returns the
  identical price and rule ID.

SEE ALSO:
  - types.go: RateRule bands and Matches
  - ingest:   prices entries at write time via this resolver
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// RATE RESOLVER
// =============================================================================

// RateMatch is a successful resolution: the winning rule and its price.
type RateMatch struct {
	RuleID        RuleID
	PricePerLitre decimal.Decimal
}

// NoRate is the zero match used for entries flagged for manual review.
func NoRate() RateMatch {
	return RateMatch{PricePerLitre: decimal.Zero}
}

// RateResolver resolves observations against a fixed rule set. Build one per
// resolution from the currently active rules; the resolver itself holds no
// other state.
type RateResolver struct {
	rules []RateRule
}

// NewRateResolver keeps the given rules. Inactive rules are tolerated and
// simply never match.
func NewRateResolver(rules []RateRule) *RateResolver {
	return &RateResolver{rules: rules}
}

// Resolve maps the observation to a price per litre and the rule that set it.
// Returns a NoMatchError (unwrapping to ErrNoMatchingRateRule) when no active
// rule covers the observation.
func (rr *RateResolver) Resolve(milkType MilkType, fat, snf decimal.Decimal) (RateMatch, error) {
	var best *RateRule
	for i := range rr.rules {
		rule := &rr.rules[i]
		if !rule.Matches(milkType, fat, snf) {
			continue
		}
		if best == nil || tighter(*rule, *best) {
			best = rule
		}
	}
	if best == nil {
		return RateMatch{}, &NoMatchError{MilkType: milkType, Fat: fat, SNF: snf}
	}
	return RateMatch{RuleID: best.ID, PricePerLitre: best.PricePerLitre}, nil
}

// =============================================================================
// TIE-BREAK - Total order over matching rules
// =============================================================================

// tighter reports whether a beats b: narrower total band, then higher price,
// then lower rule ID.
func tighter(a, b RateRule) bool {
	aw, aBounded := a.totalBandWidth()
	bw, bBounded := b.totalBandWidth()

	switch {
	case aBounded && !bBounded:
		return true
	case !aBounded && bBounded:
		return false
	case aBounded && bBounded && !aw.Equal(bw):
		return aw.LessThan(bw)
	}

	if !a.PricePerLitre.Equal(b.PricePerLitre) {
		return a.PricePerLitre.GreaterThan(b.PricePerLitre)
	}
	return a.ID < b.ID
}

// totalBandWidth is fat range width + SNF range width. Any unbounded side
// makes the total unbounded (bounded == false), which always loses to a
// fully bounded rule.
func (r RateRule) totalBandWidth() (width decimal.Decimal, bounded bool) {
	fat, ok := bandWidth(r.FatMin, r.FatMax)
	if !ok {
		return decimal.Zero, false
	}
	snf, ok := bandWidth(r.SNFMin, r.SNFMax)
	if !ok {
		return decimal.Zero, false
	}
	return fat.Add(snf), true
}

func bandWidth(min, max *decimal.Decimal) (decimal.Decimal, bool) {
	if min == nil || max == nil {
		return decimal.Zero, false
	}
	return max.Sub(*min), true
}
