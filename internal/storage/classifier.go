package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/contaflow/recon-engine/internal/service"
)

// SaveClassifierState persists the classifier's training table so learning
// survives restarts. The table holds a single row that is replaced wholesale.
func (s *SQLiteStorage) SaveClassifierState(ctx context.Context, state *service.ClassifierState) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: state", ErrNilParameter)
	}

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode classifier state: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO classifier_state (id, state, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			updated_at = CURRENT_TIMESTAMP
	`, string(data))
	if err != nil {
		return fmt.Errorf("failed to save classifier state: %w", err)
	}
	return nil
}

// LoadClassifierState returns the persisted training table, or nil when the
// classifier has never been saved.
func (s *SQLiteStorage) LoadClassifierState(ctx context.Context) (*service.ClassifierState, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM classifier_state WHERE id = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier state: %w", err)
	}

	var state service.ClassifierState
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("failed to decode classifier state: %w", err)
	}
	return &state, nil
}
