package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contaflow/recon-engine/internal/model"
)

const entryColumns = `id, client_id, date, amount, description, kind, category, status, confidence`

// SaveLedgerEntries inserts new ledger entries, updating any that already
// exist.
func (s *SQLiteStorage) SaveLedgerEntries(ctx context.Context, entries []model.LedgerEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateEntries(entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ledger_entries (
			id, client_id, date, amount, description, kind, category, status, confidence
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			amount = excluded.amount,
			category = excluded.category,
			status = excluded.status,
			confidence = excluded.confidence,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, entry := range entries {
		_, err = stmt.ExecContext(ctx,
			entry.ID,
			entry.ClientID,
			entry.Date,
			entry.Amount.String(),
			entry.Description,
			string(entry.Kind),
			entry.Category,
			string(entry.Status),
			entry.Confidence,
		)
		if err != nil {
			return fmt.Errorf("failed to insert entry %s: %w", entry.ID, err)
		}
	}

	return tx.Commit()
}

// UpdateLedgerEntry persists the mutable fields of one entry.
func (s *SQLiteStorage) UpdateLedgerEntry(ctx context.Context, entry *model.LedgerEntry) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("%w: entry", ErrNilParameter)
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET amount = ?, category = ?, status = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, entry.Amount.String(), entry.Category, string(entry.Status), entry.Confidence, entry.ID)
	if err != nil {
		return fmt.Errorf("failed to update entry %s: %w", entry.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: entry %s", ErrNotFound, entry.ID)
	}
	return nil
}

// GetLedgerEntry fetches one entry by id.
func (s *SQLiteStorage) GetLedgerEntry(ctx context.Context, id string) (*model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+` FROM ledger_entries WHERE id = ?
	`, id)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetLedgerEntries returns the client's entries within the period.
func (s *SQLiteStorage) GetLedgerEntries(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx, clientID, periodStart, periodEnd, false)
}

// GetUnreconciledEntries returns the client's entries within the period whose
// status is not terminal.
func (s *SQLiteStorage) GetUnreconciledEntries(ctx context.Context, clientID string, periodStart, periodEnd time.Time) ([]model.LedgerEntry, error) {
	return s.queryEntries(ctx, clientID, periodStart, periodEnd, true)
}

func (s *SQLiteStorage) queryEntries(ctx context.Context, clientID string, periodStart, periodEnd time.Time, unreconciledOnly bool) ([]model.LedgerEntry, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(clientID, "clientID"); err != nil {
		return nil, err
	}
	if periodEnd.Before(periodStart) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, periodEnd, periodStart)
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries
		WHERE client_id = ? AND date >= ? AND date <= ?`
	if unreconciledOnly {
		query += ` AND status NOT IN ('reconciled', 'ignored')`
	}
	query += ` ORDER BY date, id`

	rows, err := s.db.QueryContext(ctx, query, clientID, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []model.LedgerEntry
	for rows.Next() {
		entry, scanErr := scanEntry(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate entries: %w", err)
	}
	return entries, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*model.LedgerEntry, error) {
	var entry model.LedgerEntry
	var amount, kind, status string
	var category sql.NullString
	err := row.Scan(&entry.ID, &entry.ClientID, &entry.Date, &amount, &entry.Description, &kind, &category, &status, &entry.Confidence)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("failed to parse amount for entry %s: %w", entry.ID, err)
	}
	entry.Amount = parsed
	entry.Kind = model.EntryKind(kind)
	entry.Status = model.EntryStatus(status)
	entry.Category = category.String
	return &entry, nil
}
