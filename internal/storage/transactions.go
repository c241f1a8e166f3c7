package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/contaflow/recon-engine/internal/model"
)

// SaveTransactions saves bank transactions to the database. Transactions are
// immutable once imported: re-saving an existing id is a no-op, never an
// update.
func (s *SQLiteStorage) SaveTransactions(ctx context.Context, transactions []model.BankTransaction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTransactions(transactions); err != nil {
		return err
	}
	if len(transactions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO transactions (
			id, date, amount, description, direction, source_account
		) VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, txn := range transactions {
		_, err = stmt.ExecContext(ctx,
			txn.ID,
			txn.Date,
			txn.Amount.String(),
			txn.Description,
			string(txn.Direction),
			txn.SourceAccount,
		)
		if err != nil {
			return fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err)
		}
	}

	return tx.Commit()
}

// GetTransactions returns every transaction on the account posted within
// [periodStart, periodEnd].
func (s *SQLiteStorage) GetTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(account, "account"); err != nil {
		return nil, err
	}
	if periodEnd.Before(periodStart) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, periodEnd, periodStart)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, date, amount, description, direction, source_account
		FROM transactions
		WHERE source_account = ? AND date >= ? AND date <= ?
		ORDER BY date, id
	`, account, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

// GetUnreconciledTransactions returns the account's transactions within the
// period that do not appear in any reconciliation record.
func (s *SQLiteStorage) GetUnreconciledTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(account, "account"); err != nil {
		return nil, err
	}
	if periodEnd.Before(periodStart) {
		return nil, fmt.Errorf("%w: %v before %v", ErrInvalidDateRange, periodEnd, periodStart)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.date, t.amount, t.description, t.direction, t.source_account
		FROM transactions t
		LEFT JOIN reconciliation_records r ON r.transaction_id = t.id
		WHERE t.source_account = ? AND t.date >= ? AND t.date <= ? AND r.id IS NULL
		ORDER BY t.date, t.id
	`, account, periodStart, periodEnd)
	if err != nil {
		return nil, fmt.Errorf("failed to query unreconciled transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanTransactions(rows)
}

func scanTransactions(rows *sql.Rows) ([]model.BankTransaction, error) {
	var transactions []model.BankTransaction
	for rows.Next() {
		var txn model.BankTransaction
		var amount, direction string
		if err := rows.Scan(&txn.ID, &txn.Date, &amount, &txn.Description, &direction, &txn.SourceAccount); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		parsed, err := decimal.NewFromString(amount)
		if err != nil {
			return nil, fmt.Errorf("failed to parse amount for transaction %s: %w", txn.ID, err)
		}
		txn.Amount = parsed
		txn.Direction = model.Direction(direction)
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return transactions, nil
}
