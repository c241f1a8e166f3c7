// Package match implements bipartite matching between bank transactions and
// ledger entries: every pair within the lookback window is scored with the
// similarity kernel and accepted greedily from the best score down.
package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/score"
)

// Default thresholds. Both are independently configurable.
const (
	DefaultAutoMatchThreshold = 0.85
	DefaultAssistedThreshold  = 0.55
)

// Config holds matcher thresholds and scoring parameters.
type Config struct {
	Weights            score.Weights
	AutoMatchThreshold float64
	AssistedThreshold  float64
	ToleranceFraction  float64
	MaxLookbackDays    int
}

// DefaultConfig returns the standard matcher configuration.
func DefaultConfig() Config {
	return Config{
		AutoMatchThreshold: DefaultAutoMatchThreshold,
		AssistedThreshold:  DefaultAssistedThreshold,
		ToleranceFraction:  0.05,
		MaxLookbackDays:    90,
		Weights:            score.DefaultWeights(),
	}
}

// Validate rejects threshold combinations the matcher cannot honor.
func (c Config) Validate() error {
	if c.AutoMatchThreshold < 0 || c.AutoMatchThreshold > 1 {
		return fmt.Errorf("%w: autoMatchThreshold must be within [0,1], got %v",
			common.ErrConfigConflict, c.AutoMatchThreshold)
	}
	if c.AssistedThreshold < 0 || c.AssistedThreshold > 1 {
		return fmt.Errorf("%w: assistedThreshold must be within [0,1], got %v",
			common.ErrConfigConflict, c.AssistedThreshold)
	}
	if c.AssistedThreshold > c.AutoMatchThreshold {
		return fmt.Errorf("%w: assistedThreshold %v exceeds autoMatchThreshold %v",
			common.ErrConfigConflict, c.AssistedThreshold, c.AutoMatchThreshold)
	}
	if c.ToleranceFraction < 0 {
		return fmt.Errorf("%w: toleranceFraction must not be negative, got %v",
			common.ErrConfigConflict, c.ToleranceFraction)
	}
	if c.MaxLookbackDays <= 0 {
		return fmt.Errorf("%w: maxLookbackDays must be positive, got %d",
			common.ErrConfigConflict, c.MaxLookbackDays)
	}
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrConfigConflict, err)
	}
	return nil
}

// Result is the outcome of one matching run.
type Result struct {
	Records               []model.ReconciliationRecord
	Candidates            []model.MatchCandidate
	UnmatchedTransactions []model.BankTransaction
	UnmatchedEntries      []model.LedgerEntry
}

// Matcher pairs unreconciled bank transactions against unreconciled ledger
// entries. Matching is a pure function of its inputs: the same transactions,
// entries and config always produce the same result in the same order.
type Matcher struct {
	logger *slog.Logger
	now    func() time.Time
	cfg    Config
}

// New creates a matcher with the given configuration.
func New(cfg Config) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Matcher{
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "match"),
	}, nil
}

// candidate carries the tie-break keys alongside the scored pair.
type candidate struct {
	txnID    string
	entryID  string
	score    float64
	dayDelta float64
}

// Match scores every (transaction, entry) pair within the lookback window,
// sorts candidates by score and greedily accepts the best pair whose
// transaction and entry are both still free. Ties break by smaller date
// delta, then by ascending transaction id, then entry id.
func (m *Matcher) Match(ctx context.Context, transactions []model.BankTransaction, entries []model.LedgerEntry) (*Result, error) {
	for i := range transactions {
		if err := transactions[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: transaction %d: %v", common.ErrInvalidInput, i, err)
		}
	}
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", common.ErrInvalidInput, i, err)
		}
	}

	candidates := m.scorePairs(ctx, transactions, entries)

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.dayDelta != b.dayDelta {
			return a.dayDelta < b.dayDelta
		}
		if a.txnID != b.txnID {
			return a.txnID < b.txnID
		}
		return a.entryID < b.entryID
	})

	result := &Result{}
	matchedTxns := make(map[string]bool, len(transactions))
	matchedEntries := make(map[string]bool, len(entries))
	now := m.now()

	for _, c := range candidates {
		if c.score < m.cfg.AssistedThreshold {
			// Candidates are sorted descending; everything below the
			// assisted band stays unmatched.
			break
		}
		if matchedTxns[c.txnID] || matchedEntries[c.entryID] {
			continue
		}

		matchedTxns[c.txnID] = true
		matchedEntries[c.entryID] = true

		automatic := c.score >= m.cfg.AutoMatchThreshold
		resolvedBy := model.ResolvedAssisted
		if automatic {
			resolvedBy = model.ResolvedAutomatic
		}

		result.Candidates = append(result.Candidates, model.MatchCandidate{
			TransactionID: c.txnID,
			EntryID:       c.entryID,
			Score:         c.score,
			Automatic:     automatic,
		})
		result.Records = append(result.Records, model.ReconciliationRecord{
			TransactionID: c.txnID,
			EntryID:       c.entryID,
			Score:         c.score,
			ResolvedBy:    resolvedBy,
			CreatedAt:     now,
		})
	}

	for _, t := range transactions {
		if !matchedTxns[t.ID] {
			result.UnmatchedTransactions = append(result.UnmatchedTransactions, t)
		}
	}
	for _, e := range entries {
		if !matchedEntries[e.ID] {
			result.UnmatchedEntries = append(result.UnmatchedEntries, e)
		}
	}

	m.logger.Info("Matching run complete",
		"transactions", len(transactions),
		"entries", len(entries),
		"matched", len(result.Records),
		"unmatched_transactions", len(result.UnmatchedTransactions),
		"unmatched_entries", len(result.UnmatchedEntries))

	return result, nil
}

// scorePairs computes the composite match score for every pair within the
// lookback window. O(|T|*|E|), kept tractable by the window bound.
func (m *Matcher) scorePairs(ctx context.Context, transactions []model.BankTransaction, entries []model.LedgerEntry) []candidate {
	var candidates []candidate

	for ti := range transactions {
		select {
		case <-ctx.Done():
			return candidates
		default:
		}

		t := &transactions[ti]
		for ei := range entries {
			e := &entries[ei]
			if e.Settled() {
				continue
			}

			dayDelta := score.DayDelta(t.Date, e.Date)
			if dayDelta > float64(m.cfg.MaxLookbackDays) {
				continue
			}

			ds := score.DateScore(t.Date, e.Date, m.cfg.MaxLookbackDays)
			vs := score.ValueScore(t.AbsAmount(), e.AbsAmount(), m.cfg.ToleranceFraction)
			ts := score.TextScore(t.Description, e.Description)

			candidates = append(candidates, candidate{
				txnID:    t.ID,
				entryID:  e.ID,
				score:    score.MatchScore(ds, vs, ts, m.cfg.Weights),
				dayDelta: dayDelta,
			})
		}
	}
	return candidates
}
