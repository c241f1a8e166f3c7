// Package classify implements the incremental frequency classifier that
// assigns a category and confidence to ledger entries, and learns from
// manual reclassification.
package classify

import (
	"sync"

	"github.com/contaflow/recon-engine/internal/score"
	"github.com/contaflow/recon-engine/internal/service"
)

// Model is the classifier's training table: per-category token frequencies
// built up from confirmed classifications. The table is monotonic — training
// never decreases an existing count — and guarded by single-writer
// semantics: mutations serialize on the mutex, reads take the read lock.
type Model struct {
	mu             sync.RWMutex
	tokenCounts    map[string]map[string]int // category -> token -> count
	categoryTotals map[string]int            // category -> trained examples
	lastApplied    map[string]string         // entry id -> last trained category
	reviewAgreed   int
	reviewTotal    int
}

// NewModel creates an empty classifier model.
func NewModel() *Model {
	return &Model{
		tokenCounts:    make(map[string]map[string]int),
		categoryTotals: make(map[string]int),
		lastApplied:    make(map[string]string),
	}
}

// Suggestion is the model's best guess for a description.
type Suggestion struct {
	Category   string
	Confidence float64
}

// Suggest returns the category whose historical token overlap with the
// description is highest, with a confidence derived from the margin over the
// runner-up. A tie between the top two categories yields no suggestion: the
// model never guesses.
func (m *Model) Suggest(description string) Suggestion {
	tokens := score.Tokenize(description)
	if len(tokens) == 0 {
		return Suggestion{}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		bestCategory string
		best         int
		runnerUp     int
		bestHits     int
	)

	for category, counts := range m.tokenCounts {
		raw := 0
		hits := 0
		for _, token := range tokens {
			if c := counts[token]; c > 0 {
				raw += c
				hits++
			}
		}
		switch {
		case raw > best:
			runnerUp = best
			best = raw
			bestCategory = category
			bestHits = hits
		case raw > runnerUp:
			runnerUp = raw
		}
	}

	if best == 0 || best == runnerUp {
		return Suggestion{}
	}

	coverage := float64(bestHits) / float64(len(tokens))
	margin := 1 - float64(runnerUp)/float64(best)

	return Suggestion{
		Category:   bestCategory,
		Confidence: coverage * margin,
	}
}

// Train increments the (description-token -> category) frequency table by one
// confirmed example. Counts only ever grow.
func (m *Model) Train(description, category string) {
	if category == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.trainLocked(description, category)
}

func (m *Model) trainLocked(description, category string) {
	counts, ok := m.tokenCounts[category]
	if !ok {
		counts = make(map[string]int)
		m.tokenCounts[category] = counts
	}
	for token := range score.TokenSet(description) {
		counts[token]++
	}
	m.categoryTotals[category]++
}

// Reclassify applies a manual reclassification for a specific entry as a
// maximum-confidence training signal. It is idempotent per entry id:
// reclassifying to the same category twice increments counts once at most.
// Returns true when the training table actually changed.
func (m *Model) Reclassify(entryID, description, category string) bool {
	if entryID == "" || category == "" {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastApplied[entryID] == category {
		return false
	}
	m.lastApplied[entryID] = category
	m.trainLocked(description, category)
	return true
}

// RecordReview tracks whether a manually reviewed item agreed with the
// automatic suggestion; feeds the estimated precision statistic.
func (m *Model) RecordReview(agreed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reviewTotal++
	if agreed {
		m.reviewAgreed++
	}
}

// Statistics summarizes the model's training state.
type Statistics struct {
	PerCategoryCounts  map[string]int
	TrainedExamples    int
	EstimatedPrecision float64
}

// Statistics returns the current training counts and a held-out precision
// estimate: the fraction of manually reviewed items that agreed with the
// automatic suggestion.
func (m *Model) Statistics() Statistics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	perCategory := make(map[string]int, len(m.categoryTotals))
	total := 0
	for category, n := range m.categoryTotals {
		perCategory[category] = n
		total += n
	}

	precision := 0.0
	if m.reviewTotal > 0 {
		precision = float64(m.reviewAgreed) / float64(m.reviewTotal)
	}

	return Statistics{
		TrainedExamples:    total,
		PerCategoryCounts:  perCategory,
		EstimatedPrecision: precision,
	}
}

// State exports the model for persistence.
func (m *Model) State() *service.ClassifierState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state := &service.ClassifierState{
		TokenCounts:    make(map[string]map[string]int, len(m.tokenCounts)),
		CategoryTotals: make(map[string]int, len(m.categoryTotals)),
		LastApplied:    make(map[string]string, len(m.lastApplied)),
		ReviewAgreed:   m.reviewAgreed,
		ReviewTotal:    m.reviewTotal,
	}
	for category, counts := range m.tokenCounts {
		copied := make(map[string]int, len(counts))
		for token, n := range counts {
			copied[token] = n
		}
		state.TokenCounts[category] = copied
	}
	for category, n := range m.categoryTotals {
		state.CategoryTotals[category] = n
	}
	for id, category := range m.lastApplied {
		state.LastApplied[id] = category
	}
	return state
}

// Restore replaces the model contents with a previously exported state.
func (m *Model) Restore(state *service.ClassifierState) {
	if state == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.tokenCounts = make(map[string]map[string]int, len(state.TokenCounts))
	for category, counts := range state.TokenCounts {
		copied := make(map[string]int, len(counts))
		for token, n := range counts {
			copied[token] = n
		}
		m.tokenCounts[category] = copied
	}
	m.categoryTotals = make(map[string]int, len(state.CategoryTotals))
	for category, n := range state.CategoryTotals {
		m.categoryTotals[category] = n
	}
	m.lastApplied = make(map[string]string, len(state.LastApplied))
	for id, category := range state.LastApplied {
		m.lastApplied[id] = category
	}
	m.reviewAgreed = state.ReviewAgreed
	m.reviewTotal = state.ReviewTotal
}
