// Package model defines the core domain models used throughout the engine.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies the accounting nature of a ledger entry.
type EntryKind string

const (
	// KindRevenue represents incoming funds.
	KindRevenue EntryKind = "revenue"
	// KindExpense represents outgoing funds.
	KindExpense EntryKind = "expense"
	// KindTransfer represents movements between internal accounts.
	KindTransfer EntryKind = "transfer"
)

// EntryStatus tracks a ledger entry through classification and reconciliation.
type EntryStatus string

// Entry status constants.
const (
	StatusUnclassified  EntryStatus = "unclassified"
	StatusPendingReview EntryStatus = "pending_review"
	StatusClassified    EntryStatus = "classified"
	StatusReconciled    EntryStatus = "reconciled"
	StatusIgnored       EntryStatus = "ignored"
)

// LedgerEntry represents one accounting record. Entries are created by
// ingestion or fabricated by the resolver, classified by the classifier, and
// amount-corrected by the resolver.
type LedgerEntry struct {
	Date        time.Time
	ID          string
	ClientID    string
	Description string
	Category    string // empty until classified
	Kind        EntryKind
	Status      EntryStatus
	Amount      decimal.Decimal
	Confidence  float64
}

// Validate checks that the entry is well formed enough to enter the core.
func (e *LedgerEntry) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return &FieldError{Field: "id", Reason: "must not be empty"}
	}
	if e.Date.IsZero() {
		return &FieldError{Field: "date", Reason: "must be set"}
	}
	if e.Confidence < 0 || e.Confidence > 1 {
		return &FieldError{Field: "confidence", Reason: "must be within [0,1]"}
	}
	switch e.Kind {
	case KindRevenue, KindExpense, KindTransfer:
	default:
		return &FieldError{Field: "kind", Reason: "must be revenue, expense or transfer"}
	}
	return nil
}

// AbsAmount returns the unsigned monetary value of the entry.
func (e *LedgerEntry) AbsAmount() decimal.Decimal {
	return e.Amount.Abs()
}

// Settled reports whether the entry has reached a terminal status and must be
// skipped by any further autonomous processing.
func (e *LedgerEntry) Settled() bool {
	return e.Status == StatusReconciled || e.Status == StatusIgnored
}
