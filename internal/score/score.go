// Package score implements the similarity kernel shared by the matcher, the
// cross-validator and the resolver: normalized [0,1] similarity scores for
// date, monetary value and free-text description pairs.
package score

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// toleranceSpread widens the value-score decay so that a divergence
	// sitting exactly on the tolerance boundary still yields a usable
	// partial score instead of a hard cliff.
	toleranceSpread = 4.0

	// epsilon below which two amounts are treated as equal.
	epsilon = 1e-9

	// weightSumSlack tolerated when checking that weights sum to 1.
	weightSumSlack = 1e-6
)

// Weights combines the three component scores into a composite match score.
type Weights struct {
	Date  float64
	Value float64
	Text  float64
}

// DefaultWeights returns the standard weight split. Value dominates because
// it is the least ambiguous signal.
func DefaultWeights() Weights {
	return Weights{Date: 0.25, Value: 0.45, Text: 0.30}
}

// Validate ensures each weight is within [0,1] and the weights sum to 1.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{"date": w.Date, "value": w.Value, "text": w.Text} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s weight must be within [0,1], got %v", name, v)
		}
	}
	if sum := w.Date + w.Value + w.Text; math.Abs(sum-1) > weightSumSlack {
		return fmt.Errorf("weights must sum to 1, got %v", sum)
	}
	return nil
}

// DateScore returns 1.0 at zero day-delta, decaying linearly to 0 at
// maxLookbackDays. Deltas outside the lookback window clamp to 0.
func DateScore(a, b time.Time, maxLookbackDays int) float64 {
	if maxLookbackDays <= 0 {
		return 0
	}
	delta := DayDelta(a, b)
	if delta < 0 || delta > float64(maxLookbackDays) {
		return 0
	}
	return clamp01(1 - delta/float64(maxLookbackDays))
}

// DayDelta returns the absolute distance between two instants in days.
func DayDelta(a, b time.Time) float64 {
	return math.Abs(a.Sub(b).Hours() / 24)
}

// ValueScore returns 1.0 for equal amounts, decaying to 0 as the relative
// difference approaches toleranceFraction * toleranceSpread.
func ValueScore(a, b decimal.Decimal, toleranceFraction float64) float64 {
	fa := a.InexactFloat64()
	fb := b.InexactFloat64()

	diff := math.Abs(fa - fb)
	if diff < epsilon {
		return 1
	}

	limit := toleranceFraction * toleranceSpread
	if limit <= 0 {
		return 0
	}

	denom := math.Max(math.Max(math.Abs(fa), math.Abs(fb)), epsilon)
	return clamp01(1 - (diff/denom)/limit)
}

// RelativeDifference returns |a-b| / max(|a|,|b|). Equal amounts return 0;
// comparing against an all-zero pair returns 0 as well.
func RelativeDifference(a, b decimal.Decimal) float64 {
	fa := a.InexactFloat64()
	fb := b.InexactFloat64()

	diff := math.Abs(fa - fb)
	if diff < epsilon {
		return 0
	}

	denom := math.Max(math.Abs(fa), math.Abs(fb))
	if denom < epsilon {
		return 0
	}
	return diff / denom
}

// MatchScore combines the three component scores under the given weights.
// All inputs and the result are within [0,1].
func MatchScore(dateScore, valueScore, textScore float64, w Weights) float64 {
	return clamp01(w.Date*dateScore + w.Value*valueScore + w.Text*textScore)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
