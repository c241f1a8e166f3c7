// Package validate implements cross-validation between record sets ingested
// from different sources (ocr, erp, openbanking, api_fiscal): pairs are
// joined by exact key or fuzzy date/value similarity, then diffed field by
// field into severity-tagged discrepancies.
package validate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/score"
)

// DefaultFuzzyJoinThreshold is the minimum dateScore*valueScore product for
// a fuzzy join when no exact key exists.
const DefaultFuzzyJoinThreshold = 0.60

// Config holds cross-validator options.
type Config struct {
	FuzzyJoinThreshold float64
	ToleranceFraction  float64
	MaxLookbackDays    int
}

// DefaultConfig returns the standard cross-validator configuration.
func DefaultConfig() Config {
	return Config{
		FuzzyJoinThreshold: DefaultFuzzyJoinThreshold,
		ToleranceFraction:  0.05,
		MaxLookbackDays:    90,
	}
}

// Validate rejects out-of-range options.
func (c Config) Validate() error {
	if c.FuzzyJoinThreshold < 0 || c.FuzzyJoinThreshold > 1 {
		return fmt.Errorf("%w: fuzzyJoinThreshold must be within [0,1], got %v",
			common.ErrConfigConflict, c.FuzzyJoinThreshold)
	}
	if c.ToleranceFraction < 0 {
		return fmt.Errorf("%w: toleranceFraction must not be negative, got %v",
			common.ErrConfigConflict, c.ToleranceFraction)
	}
	if c.MaxLookbackDays <= 0 {
		return fmt.Errorf("%w: maxLookbackDays must be positive, got %d",
			common.ErrConfigConflict, c.MaxLookbackDays)
	}
	return nil
}

// SourceSet is one labeled record collection to be cross-validated.
type SourceSet struct {
	Source  model.SourceType
	Records []model.SourceRecord
}

// CrossValidator diffs two source record sets. It holds no mutable state and
// is safe to run concurrently across independent source pairs.
type CrossValidator struct {
	logger *slog.Logger
	cfg    Config
}

// New creates a cross-validator with the given configuration.
func New(cfg Config) (*CrossValidator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &CrossValidator{
		cfg:    cfg,
		logger: slog.Default().With("component", "validate"),
	}, nil
}

// joinedPair references one record from each side.
type joinedPair struct {
	a *model.SourceRecord
	b *model.SourceRecord
}

// Validate joins the two record sets and produces one ValidationResult with
// per-field discrepancies for every joined pair. Records with no counterpart
// are listed separately: absence is not divergence.
func (v *CrossValidator) Validate(ctx context.Context, a, b SourceSet) (*model.ValidationResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	for _, r := range a.Records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("%w: source %s contains a record with empty id", common.ErrInvalidInput, a.Source)
		}
	}
	for _, r := range b.Records {
		if strings.TrimSpace(r.ID) == "" {
			return nil, fmt.Errorf("%w: source %s contains a record with empty id", common.ErrInvalidInput, b.Source)
		}
	}

	pairs, leftoverA, leftoverB := v.join(a.Records, b.Records)

	result := &model.ValidationResult{
		SourceA:     a.Source,
		SourceB:     b.Source,
		JoinedPairs: len(pairs),
	}

	for _, p := range pairs {
		result.Discrepancies = append(result.Discrepancies, v.diff(p.a, p.b)...)
	}

	for _, r := range leftoverA {
		result.OnlyInA = append(result.OnlyInA, r.ID)
	}
	for _, r := range leftoverB {
		result.OnlyInB = append(result.OnlyInB, r.ID)
	}

	smaller := len(a.Records)
	if len(b.Records) < smaller {
		smaller = len(b.Records)
	}
	if smaller > 0 {
		result.MatchRate = float64(len(pairs)) / float64(smaller)
	}

	v.logger.Info("Cross-validation complete",
		"source_a", a.Source,
		"source_b", b.Source,
		"joined", len(pairs),
		"discrepancies", len(result.Discrepancies),
		"only_in_a", len(result.OnlyInA),
		"only_in_b", len(result.OnlyInB))

	return result, nil
}

// join pairs records by exact join key first, then falls back to a greedy
// fuzzy join on dateScore*valueScore for the remainder.
func (v *CrossValidator) join(a, b []model.SourceRecord) ([]joinedPair, []*model.SourceRecord, []*model.SourceRecord) {
	var pairs []joinedPair
	usedB := make(map[int]bool, len(b))

	byKey := make(map[string]int, len(b))
	for i := range b {
		if k := b[i].JoinKey; k != "" {
			byKey[k] = i
		}
	}

	var restA []*model.SourceRecord
	for i := range a {
		rec := &a[i]
		if rec.JoinKey != "" {
			if j, ok := byKey[rec.JoinKey]; ok && !usedB[j] {
				pairs = append(pairs, joinedPair{a: rec, b: &b[j]})
				usedB[j] = true
				continue
			}
		}
		restA = append(restA, rec)
	}

	// Fuzzy fallback: score every remaining cross pair, accept greedily.
	type fuzzyCandidate struct {
		a     *model.SourceRecord
		bIdx  int
		score float64
	}
	var candidates []fuzzyCandidate
	for _, ra := range restA {
		for j := range b {
			if usedB[j] {
				continue
			}
			s := score.DateScore(ra.Date, b[j].Date, v.cfg.MaxLookbackDays) *
				score.ValueScore(ra.Amount, b[j].Amount, v.cfg.ToleranceFraction)
			if s > v.cfg.FuzzyJoinThreshold {
				candidates = append(candidates, fuzzyCandidate{a: ra, bIdx: j, score: s})
			}
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if candidates[i].a.ID != candidates[j].a.ID {
			return candidates[i].a.ID < candidates[j].a.ID
		}
		return b[candidates[i].bIdx].ID < b[candidates[j].bIdx].ID
	})

	usedA := make(map[string]bool, len(restA))
	for _, c := range candidates {
		if usedA[c.a.ID] || usedB[c.bIdx] {
			continue
		}
		usedA[c.a.ID] = true
		usedB[c.bIdx] = true
		pairs = append(pairs, joinedPair{a: c.a, b: &b[c.bIdx]})
	}

	var leftoverA, leftoverB []*model.SourceRecord
	for _, ra := range restA {
		if !usedA[ra.ID] {
			leftoverA = append(leftoverA, ra)
		}
	}
	for j := range b {
		if !usedB[j] {
			leftoverB = append(leftoverB, &b[j])
		}
	}
	return pairs, leftoverA, leftoverB
}

// diff compares the fixed field set of a joined pair. Severity is always
// derived from the normalized field distance.
func (v *CrossValidator) diff(a, b *model.SourceRecord) []model.Discrepancy {
	var out []model.Discrepancy

	add := func(field, sv, tv string, distance float64) {
		out = append(out, model.Discrepancy{
			Field:       field,
			SourceValue: sv,
			TargetValue: tv,
			Severity:    model.SeverityForDistance(distance),
			Description: fmt.Sprintf("%s differs between %s and %s", field, a.Source, b.Source),
			SourceID:    a.ID,
			TargetID:    b.ID,
		})
	}

	// Amount: relative numeric distance.
	if !a.Amount.Equal(b.Amount) {
		add("amount", a.Amount.String(), b.Amount.String(), score.RelativeDifference(a.Amount, b.Amount))
	}

	// Date: day delta normalized over the lookback window.
	if !a.Date.Equal(b.Date) {
		distance := score.DayDelta(a.Date, b.Date) / float64(v.cfg.MaxLookbackDays)
		if distance > 1 {
			distance = 1
		}
		add("date", a.Date.Format("2006-01-02"), b.Date.Format("2006-01-02"), distance)
	}

	// Description: cosmetic differences (case, punctuation, spacing) grade
	// low; otherwise distance is the complement of the text similarity.
	if a.Description != b.Description {
		if score.Normalize(a.Description) == score.Normalize(b.Description) {
			add("description", a.Description, b.Description, 0)
		} else {
			add("description", a.Description, b.Description, 1-score.TextScore(a.Description, b.Description))
		}
	}

	// Currency and counterparty are categorical: any mismatch is high.
	if !strings.EqualFold(a.Currency, b.Currency) {
		add("currency", a.Currency, b.Currency, 1)
	}
	if a.Counterparty != b.Counterparty && score.Normalize(a.Counterparty) != score.Normalize(b.Counterparty) {
		add("counterparty", a.Counterparty, b.Counterparty, 1)
	}

	return out
}
