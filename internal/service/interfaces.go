// Package service defines the interfaces between the reconciliation core and
// its external collaborators: banking, multi-source ingestion, persistence
// and the human review queue.
package service

import (
	"context"
	"time"

	"github.com/contaflow/recon-engine/internal/model"
)

// TransactionFetcher is the external banking collaborator.
type TransactionFetcher interface {
	// FetchTransactions returns the bank transactions posted on the given
	// account within [periodStart, periodEnd].
	FetchTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error)
}

// SourceFetcher pulls records from one of the ingestion collaborators
// (ocr, erp, openbanking, api_fiscal) for cross-validation.
type SourceFetcher interface {
	FetchSourceRecords(ctx context.Context, source model.SourceType, clientID string, periodStart, periodEnd time.Time) ([]model.SourceRecord, error)
}

// ReviewNotifier surfaces unresolved or low-confidence items to the human
// review UI. Notification is fire-and-forget: failures are logged, never
// propagated into the pipeline result.
type ReviewNotifier interface {
	NotifyReviewQueue(ctx context.Context, item model.ReviewItem) error
}

// Storage defines the contract for the persistence layer.
type Storage interface {
	// Bank transaction operations. Transactions are immutable once saved.
	SaveTransactions(ctx context.Context, transactions []model.BankTransaction) error
	GetTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error)
	GetUnreconciledTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error)

	// Ledger entry operations.
	SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error
	UpdateLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error)
	GetLedgerEntries(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]model.LedgerEntry, error)
	GetUnreconciledEntries(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]model.LedgerEntry, error)

	// Reconciliation records.
	SaveReconciliationRecords(ctx context.Context, records []model.ReconciliationRecord) error
	GetReconciliationRecords(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]model.ReconciliationRecord, error)

	// Audit log for autonomous mutations. Every mutation is individually
	// reversible through UndoAuditAction.
	SaveAuditActions(ctx context.Context, actions []model.AuditAction) error
	GetAuditAction(ctx context.Context, id string) (*model.AuditAction, error)
	GetAuditActionsByRun(ctx context.Context, runID string) ([]model.AuditAction, error)
	UndoAuditAction(ctx context.Context, id string) error

	// Review queue.
	AppendReviewItem(ctx context.Context, item model.ReviewItem) error
	GetPendingReviewItems(ctx context.Context, limit int) ([]model.ReviewItem, error)
	ResolveReviewItem(ctx context.Context, id string) error

	// Classifier model persistence.
	SaveClassifierState(ctx context.Context, state *ClassifierState) error
	LoadClassifierState(ctx context.Context) (*ClassifierState, error)

	// Database management.
	Migrate(ctx context.Context) error
	Close() error
}

// ClassifierState is the serializable form of the classifier's training
// table, persisted so learning survives process restarts.
type ClassifierState struct {
	TokenCounts    map[string]map[string]int `json:"token_counts"`
	CategoryTotals map[string]int            `json:"category_totals"`
	LastApplied    map[string]string         `json:"last_applied"`
	ReviewAgreed   int                       `json:"review_agreed"`
	ReviewTotal    int                       `json:"review_total"`
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
