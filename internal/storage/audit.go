package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contaflow/recon-engine/internal/model"
)

// SaveAuditActions appends autonomous mutations to the audit log.
func (s *SQLiteStorage) SaveAuditActions(ctx context.Context, actions []model.AuditAction) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_actions (
			id, run_id, entry_id, kind, before_state, after_state, undone, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, action := range actions {
		_, err = stmt.ExecContext(ctx,
			action.ID,
			action.RunID,
			action.EntryID,
			string(action.Kind),
			action.Before,
			action.After,
			action.Undone,
			action.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert audit action %s: %w", action.ID, err)
		}
	}

	return tx.Commit()
}

// GetAuditAction fetches one audit action by id.
func (s *SQLiteStorage) GetAuditAction(ctx context.Context, id string) (*model.AuditAction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, entry_id, kind, before_state, after_state, undone, created_at
		FROM audit_actions WHERE id = ?
	`, id)

	action, err := scanAuditAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: audit action %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return action, nil
}

// GetAuditActionsByRun returns every action one resolution run recorded.
func (s *SQLiteStorage) GetAuditActionsByRun(ctx context.Context, runID string) ([]model.AuditAction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(runID, "runID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, entry_id, kind, before_state, after_state, undone, created_at
		FROM audit_actions WHERE run_id = ?
		ORDER BY created_at, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var actions []model.AuditAction
	for rows.Next() {
		action, scanErr := scanAuditAction(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		actions = append(actions, *action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit actions: %w", err)
	}
	return actions, nil
}

// UndoAuditAction reverses one autonomous mutation without replaying the run.
// Corrections and suppressions restore the entry's recorded before-state;
// fabricated entries are marked ignored rather than deleted, so the undo
// itself stays visible.
func (s *SQLiteStorage) UndoAuditAction(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	action, err := s.GetAuditAction(ctx, id)
	if err != nil {
		return err
	}
	if action.Undone {
		return fmt.Errorf("audit action %s is already undone", id)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	switch action.Kind {
	case model.AuditCorrectAmount, model.AuditIgnoreEntry:
		var before model.LedgerEntry
		if err := json.Unmarshal([]byte(action.Before), &before); err != nil {
			return fmt.Errorf("failed to decode before-state for action %s: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE ledger_entries
			SET amount = ?, category = ?, status = ?, confidence = ?, updated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, before.Amount.String(), before.Category, string(before.Status), before.Confidence, before.ID)
		if err != nil {
			return fmt.Errorf("failed to restore entry %s: %w", before.ID, err)
		}
	case model.AuditCreateEntry:
		if _, err = tx.ExecContext(ctx, `
			UPDATE ledger_entries SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, string(model.StatusIgnored), action.EntryID); err != nil {
			return fmt.Errorf("failed to suppress fabricated entry %s: %w", action.EntryID, err)
		}
		// The autonomous pairing falls with the entry.
		if _, err = tx.ExecContext(ctx, `
			DELETE FROM reconciliation_records WHERE entry_id = ?
		`, action.EntryID); err != nil {
			return fmt.Errorf("failed to remove pairing for entry %s: %w", action.EntryID, err)
		}
	default:
		return fmt.Errorf("unknown audit action kind %q", action.Kind)
	}

	if _, err = tx.ExecContext(ctx, `
		UPDATE audit_actions SET undone = 1 WHERE id = ?
	`, id); err != nil {
		return fmt.Errorf("failed to mark action %s undone: %w", id, err)
	}

	return tx.Commit()
}

func scanAuditAction(row scanner) (*model.AuditAction, error) {
	var action model.AuditAction
	var kind string
	var before, after sql.NullString
	err := row.Scan(&action.ID, &action.RunID, &action.EntryID, &kind, &before, &after, &action.Undone, &action.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan audit action: %w", err)
	}
	action.Kind = model.AuditKind(kind)
	action.Before = before.String
	action.After = after.String
	return &action, nil
}
