package storage

import (
	"context"
	"fmt"

	"github.com/contaflow/recon-engine/internal/model"
)

// AppendReviewItem adds one item to the human review queue.
func (s *SQLiteStorage) AppendReviewItem(ctx context.Context, item model.ReviewItem) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(item.ID, "item.ID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_queue (id, ref_id, kind, reason, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, item.ID, item.RefID, string(item.Kind), item.Reason, item.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert review item %s: %w", item.ID, err)
	}
	return nil
}

// GetPendingReviewItems returns unresolved review items, oldest first. A
// non-positive limit returns everything.
func (s *SQLiteStorage) GetPendingReviewItems(ctx context.Context, limit int) ([]model.ReviewItem, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ref_id, kind, reason, created_at
		FROM review_queue
		WHERE resolved = 0
		ORDER BY created_at, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query review queue: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []model.ReviewItem
	for rows.Next() {
		var item model.ReviewItem
		var kind string
		if err := rows.Scan(&item.ID, &item.RefID, &kind, &item.Reason, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review item: %w", err)
		}
		item.Kind = model.ReviewKind(kind)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate review queue: %w", err)
	}
	return items, nil
}

// ResolveReviewItem marks one review item as handled.
func (s *SQLiteStorage) ResolveReviewItem(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE review_queue SET resolved = 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("failed to resolve review item %s: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: review item %s", ErrNotFound, id)
	}
	return nil
}
