package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Severity grades how far apart two compared field values are. It is always
// derived from the normalized field distance, never hand-set.
type Severity string

const (
	// SeverityLow marks near-identical values (cosmetic or sub-5% drift).
	SeverityLow Severity = "low"
	// SeverityMedium marks a 5-20% relative divergence.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks a divergence above 20% or a categorical mismatch.
	SeverityHigh Severity = "high"
)

// rank orders severities for monotonicity comparisons.
func (s Severity) rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// AtLeast reports whether s is the same or a more severe grade than other.
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// SeverityForDistance maps a normalized field distance in [0,1] to a severity
// grade. Categorical mismatches should be passed as distance 1.
func SeverityForDistance(distance float64) Severity {
	switch {
	case distance < 0.05:
		return SeverityLow
	case distance <= 0.20:
		return SeverityMedium
	default:
		return SeverityHigh
	}
}

// SourceType identifies which ingestion collaborator produced a record set.
type SourceType string

// Known ingestion sources.
const (
	SourceOCR         SourceType = "ocr"
	SourceERP         SourceType = "erp"
	SourceOpenBanking SourceType = "openbanking"
	SourceFiscalAPI   SourceType = "api_fiscal"
)

// SourceRecord is one record as reported by a single ingestion source,
// normalized to the fields the cross-validator diffs.
type SourceRecord struct {
	Date         time.Time
	ID           string
	JoinKey      string // e.g. invoice number; empty when the source has none
	Description  string
	Currency     string
	Counterparty string
	Source       SourceType
	Amount       decimal.Decimal
}

// Discrepancy is a single field-level divergence between the same logical
// record as seen by two different sources.
type Discrepancy struct {
	Field       string
	SourceValue string
	TargetValue string
	Description string
	SourceID    string
	TargetID    string
	Severity    Severity
}

// ValidationResult is the outcome of cross-validating one source pair.
type ValidationResult struct {
	SourceA       SourceType
	SourceB       SourceType
	SkipReason    string
	Discrepancies []Discrepancy
	OnlyInA       []string // record IDs present in A with no counterpart in B
	OnlyInB       []string
	MatchRate     float64 // joined / min(|A|,|B|)
	JoinedPairs   int
	Skipped       bool // true when a source fetch failed and the pair was not compared
}
