package model

import (
	"fmt"
	"regexp"
	"time"
)

// ResolutionConfig bounds what the autonomous resolver is allowed to do.
// Construction goes through Validate: out-of-range values are rejected at the
// boundary rather than deep inside the rules.
type ResolutionConfig struct {
	// InternalTransferPattern is a regex matched against transaction
	// descriptions to flag internal transfers. Empty disables the check.
	InternalTransferPattern string
	// ToleranceFraction is the relative amount divergence the resolver may
	// correct autonomously.
	ToleranceFraction float64
	// MinConfidenceToResolve is the minimum pairing confidence required
	// before the resolver touches a matched entry.
	MinConfidenceToResolve float64
	// MaxLookbackDays bounds the window considered by matching heuristics.
	MaxLookbackDays int

	ResolveDuplicates       bool
	CorrectDivergences      bool
	CreateMissingEntries    bool
	IgnoreInternalTransfers bool
}

// DefaultResolutionConfig returns conservative defaults: duplicates and small
// divergences are handled, missing entries are fabricated, transfers skipped.
func DefaultResolutionConfig() ResolutionConfig {
	return ResolutionConfig{
		ToleranceFraction:       0.05,
		MinConfidenceToResolve:  0.80,
		MaxLookbackDays:         90,
		ResolveDuplicates:       true,
		CorrectDivergences:      true,
		CreateMissingEntries:    true,
		IgnoreInternalTransfers: true,
		InternalTransferPattern: `(?i)\b(transfer[êe]ncia|transfer|ted|doc|pix.*mesma titularidade)\b`,
	}
}

// Validate rejects configurations the resolver must not guess around.
func (c ResolutionConfig) Validate() error {
	if c.ToleranceFraction < 0 {
		return fmt.Errorf("toleranceFraction must not be negative, got %v", c.ToleranceFraction)
	}
	if c.MinConfidenceToResolve < 0 || c.MinConfidenceToResolve > 1 {
		return fmt.Errorf("minConfidenceToResolve must be within [0,1], got %v", c.MinConfidenceToResolve)
	}
	if c.MaxLookbackDays <= 0 {
		return fmt.Errorf("maxLookbackDays must be positive, got %d", c.MaxLookbackDays)
	}
	if c.InternalTransferPattern != "" {
		if _, err := regexp.Compile(c.InternalTransferPattern); err != nil {
			return fmt.Errorf("internalTransferPattern is not a valid regex: %w", err)
		}
	}
	return nil
}

// ResolutionOutcome summarises one resolver invocation. Outcomes are
// write-once: a new run produces a new outcome.
type ResolutionOutcome struct {
	CompletedAt          time.Time
	RunID                string
	Records              []ReconciliationRecord
	DuplicatesResolved   int
	DivergencesCorrected int
	EntriesCreated       int
	TransactionsIgnored  int
	StillPending         int
}

// AuditKind names one category of autonomous mutation.
type AuditKind string

// Audit action kinds. Each corresponds to exactly one reversible mutation.
const (
	AuditCorrectAmount AuditKind = "correct_amount"
	AuditCreateEntry   AuditKind = "create_entry"
	AuditIgnoreEntry   AuditKind = "ignore_entry"
)

// AuditAction is the reversible log entry written for every autonomous
// mutation. Before/After hold the JSON-encoded entry state so a single action
// can be undone without replaying the run.
type AuditAction struct {
	CreatedAt time.Time
	ID        string
	RunID     string
	EntryID   string
	Before    string
	After     string
	Kind      AuditKind
	Undone    bool
}

// ReviewKind categorizes why an item was surfaced for human review.
type ReviewKind string

// Review item kinds.
const (
	ReviewUnmatchedTransaction ReviewKind = "unmatched_transaction"
	ReviewLowConfidence        ReviewKind = "low_confidence"
	ReviewDivergence           ReviewKind = "divergence"
	ReviewDiscrepancy          ReviewKind = "discrepancy"
)

// ReviewItem is one unresolved or low-confidence item surfaced to the human
// review queue collaborator.
type ReviewItem struct {
	CreatedAt time.Time
	ID        string
	RefID     string // id of the transaction, entry or pairing under review
	Reason    string
	Kind      ReviewKind
}
