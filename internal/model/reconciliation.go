package model

import "time"

// ResolvedBy indicates how a reconciliation pairing was accepted.
type ResolvedBy string

const (
	// ResolvedAutomatic indicates the matcher accepted the pair above the
	// automatic threshold.
	ResolvedAutomatic ResolvedBy = "automatic"
	// ResolvedAssisted indicates the pair scored into the assisted band and
	// was confirmed by a reviewer.
	ResolvedAssisted ResolvedBy = "assisted"
	// ResolvedAutonomous indicates the resolver created the pairing itself,
	// e.g. after fabricating a missing ledger entry.
	ResolvedAutonomous ResolvedBy = "autonomous"
)

// MatchCandidate is a scored (transaction, entry) pair produced during one
// matching run. Candidates are transient; only accepted ones are promoted to
// ReconciliationRecords.
type MatchCandidate struct {
	TransactionID string
	EntryID       string
	Score         float64
	Automatic     bool
}

// ReconciliationRecord is an accepted pairing between a bank transaction and
// a ledger entry. A transaction and an entry each appear in at most one
// active record.
type ReconciliationRecord struct {
	CreatedAt     time.Time
	ID            string // assigned at persist time; empty on freshly matched records
	TransactionID string
	EntryID       string
	ResolvedBy    ResolvedBy
	Score         float64
}
