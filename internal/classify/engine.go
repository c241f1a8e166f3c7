package classify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
)

// DefaultDisplayThreshold is the confidence below which an automatic
// classification is parked for human review instead of applied directly.
const DefaultDisplayThreshold = 0.75

// Config holds classification engine options.
type Config struct {
	// DisplayThreshold separates classified from pending_review suggestions.
	DisplayThreshold float64
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{DisplayThreshold: DefaultDisplayThreshold}
}

// Engine applies the classifier model to ledger entries and folds manual
// reclassifications back into the model as training signal.
type Engine struct {
	model  *Model
	logger *slog.Logger
	cfg    Config
}

// NewEngine creates a classification engine around an existing model.
func NewEngine(m *Model, cfg Config) (*Engine, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: classifier model is required", common.ErrMissingConfig)
	}
	if cfg.DisplayThreshold < 0 || cfg.DisplayThreshold > 1 {
		return nil, fmt.Errorf("%w: display threshold must be within [0,1], got %v",
			common.ErrConfigConflict, cfg.DisplayThreshold)
	}
	return &Engine{
		model:  m,
		cfg:    cfg,
		logger: slog.Default().With("component", "classify"),
	}, nil
}

// Model exposes the underlying training table, e.g. for persistence.
func (e *Engine) Model() *Model {
	return e.model
}

// Suggest returns the model's best category guess for a description.
func (e *Engine) Suggest(description string) (string, float64) {
	s := e.model.Suggest(description)
	return s.Category, s.Confidence
}

// ClassifyEntries runs automatic classification over unclassified entries,
// mutating category, confidence and status in place. Entries that already
// carry a category are left untouched.
func (e *Engine) ClassifyEntries(ctx context.Context, entries []model.LedgerEntry) ([]model.LedgerEntry, error) {
	classified := 0
	parked := 0

	for i := range entries {
		select {
		case <-ctx.Done():
			return entries, ctx.Err()
		default:
		}

		entry := &entries[i]
		if entry.Status != model.StatusUnclassified {
			continue
		}
		if err := entry.Validate(); err != nil {
			return entries, fmt.Errorf("%w: entry %q: %v", common.ErrInvalidInput, entry.ID, err)
		}

		suggestion := e.model.Suggest(entry.Description)
		if suggestion.Category == "" {
			continue
		}

		entry.Category = suggestion.Category
		entry.Confidence = suggestion.Confidence
		if suggestion.Confidence >= e.cfg.DisplayThreshold {
			entry.Status = model.StatusClassified
			classified++
		} else {
			entry.Status = model.StatusPendingReview
			parked++
		}
	}

	e.logger.Info("Classified entries",
		"total", len(entries),
		"classified", classified,
		"pending_review", parked)

	return entries, nil
}

// Reclassify applies a manual category decision to an entry. The entry
// becomes classified at confidence 1.0 and the decision is fed into the
// training table; agreement with the prior automatic suggestion feeds the
// precision estimate.
func (e *Engine) Reclassify(_ context.Context, entry *model.LedgerEntry, category string) error {
	if entry == nil || category == "" {
		return fmt.Errorf("%w: entry and category are required", common.ErrInvalidInput)
	}

	agreed := entry.Category == category
	if entry.Status == model.StatusPendingReview || entry.Status == model.StatusClassified {
		e.model.RecordReview(agreed)
	}

	trained := e.model.Reclassify(entry.ID, entry.Description, category)

	entry.Category = category
	entry.Confidence = 1.0
	entry.Status = model.StatusClassified

	e.logger.Debug("Reclassified entry",
		"entry_id", entry.ID,
		"category", category,
		"agreed_with_suggestion", agreed,
		"trained", trained)

	return nil
}
