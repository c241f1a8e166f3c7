package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/contaflow/recon-engine/internal/model"
)

// SaveReconciliationRecords persists accepted pairings. The schema's unique
// constraints enforce the exclusivity invariant: a transaction or entry in a
// second record fails the whole batch.
func (s *SQLiteStorage) SaveReconciliationRecords(ctx context.Context, records []model.ReconciliationRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	for i, rec := range records {
		if rec.ID == "" || rec.TransactionID == "" || rec.EntryID == "" {
			return fmt.Errorf("record at index %d: %w: id, transactionID and entryID are required", i, ErrEmptyString)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reconciliation_records (
			id, transaction_id, entry_id, score, resolved_by, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		_, err = stmt.ExecContext(ctx,
			rec.ID,
			rec.TransactionID,
			rec.EntryID,
			rec.Score,
			string(rec.ResolvedBy),
			createdAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %w", rec.ID, err)
		}
	}

	return tx.Commit()
}

// GetReconciliationRecords returns the pairings whose ledger entry belongs to
// the client and falls within the period.
func (s *SQLiteStorage) GetReconciliationRecords(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]model.ReconciliationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(clientID, "clientID"); err != nil {
		return nil, err
	}
	if periodEnd.Before(periodStart) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, periodEnd, periodStart)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.transaction_id, r.entry_id, r.score, r.resolved_by, r.created_at
		FROM reconciliation_records r
		JOIN ledger_entries e ON e.id = r.entry_id
		WHERE e.client_id = ? AND e.date >= ? AND e.date <= ?
		ORDER BY r.created_at, r.id
	`, clientID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query reconciliation records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.ReconciliationRecord
	for rows.Next() {
		var rec model.ReconciliationRecord
		var resolvedBy string
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &rec.EntryID, &rec.Score, &resolvedBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation record: %w", err)
		}
		rec.ResolvedBy = model.ResolvedBy(resolvedBy)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reconciliation records: %w", err)
	}
	return records, nil
}
