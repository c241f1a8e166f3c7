// Package resolve implements the autonomous resolver: under a validated
// ResolutionConfig it deduplicates ledger entries, corrects small value
// divergences on matched pairs, fabricates entries for unmatched bank
// transactions and defers everything else to human review. Every autonomous
// mutation is recorded as a reversible audit action.
package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/score"
)

// duplicateTextThreshold is the text similarity above which two entries with
// the same day and amount are considered duplicates.
const duplicateTextThreshold = 0.90

// Suggester is the classifier seam used when fabricating entries.
type Suggester interface {
	Suggest(description string) (category string, confidence float64)
}

// Input is the snapshot one resolver run operates on. The resolver never
// mutates the input; all changes surface in the Outcome.
type Input struct {
	// RunID labels the audit actions; empty mints a fresh id.
	RunID string
	// ClientID is stamped on fabricated entries so they stay visible to
	// client-scoped queries.
	ClientID     string
	Transactions []model.BankTransaction
	Entries      []model.LedgerEntry
	// Records are the pairings accepted by the matcher for this scope.
	Records []model.ReconciliationRecord
	// UnmatchedTransactions are the transactions the matcher could not pair.
	UnmatchedTransactions []model.BankTransaction
}

// Outcome carries the counters plus every mutation for the caller to
// persist: the resolver itself performs no I/O.
type Outcome struct {
	Summary        model.ResolutionOutcome
	UpdatedEntries []model.LedgerEntry
	CreatedEntries []model.LedgerEntry
	NewRecords     []model.ReconciliationRecord
	Actions        []model.AuditAction
	ReviewItems    []model.ReviewItem
}

// Resolver applies the resolution rules in fixed priority order so behavior
// is deterministic when several strategies could apply to the same item.
type Resolver struct {
	suggester       Suggester
	logger          *slog.Logger
	now             func() time.Time
	newID           func() string
	transferPattern *regexp.Regexp
	cfg             model.ResolutionConfig
}

// New creates a resolver. The configuration is validated here: a broken
// config fails the whole run rather than guessing a default.
func New(cfg model.ResolutionConfig, suggester Suggester) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrConfigConflict, err)
	}

	var pattern *regexp.Regexp
	if cfg.InternalTransferPattern != "" {
		pattern = regexp.MustCompile(cfg.InternalTransferPattern)
	}

	return &Resolver{
		cfg:             cfg,
		suggester:       suggester,
		transferPattern: pattern,
		now:             time.Now,
		newID:           func() string { return uuid.NewString() },
		logger:          slog.Default().With("component", "resolve"),
	}, nil
}

// Resolve runs the rules over the snapshot. Re-running over an already
// resolved snapshot is a no-op: settled items are skipped by status before
// any rule is evaluated.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	runID := in.RunID
	if runID == "" {
		runID = r.newID()
	}
	out := &Outcome{
		Summary: model.ResolutionOutcome{
			RunID:   runID,
			Records: append([]model.ReconciliationRecord(nil), in.Records...),
		},
	}

	// Work on copies; the input snapshot stays untouched.
	entries := make(map[string]*model.LedgerEntry, len(in.Entries))
	order := make([]string, 0, len(in.Entries))
	for i := range in.Entries {
		e := in.Entries[i]
		entries[e.ID] = &e
		order = append(order, e.ID)
	}

	touched := make(map[string]bool)

	r.resolveDuplicates(runID, entries, order, touched, out)
	r.correctDivergences(runID, in, entries, touched, out)
	r.handleUnmatched(runID, in, out)

	for _, id := range order {
		if touched[id] {
			out.UpdatedEntries = append(out.UpdatedEntries, *entries[id])
		}
	}

	out.Summary.Records = append(out.Summary.Records, out.NewRecords...)
	out.Summary.StillPending = len(out.ReviewItems)
	out.Summary.CompletedAt = r.now()

	r.logger.Info("Resolution run complete",
		"run_id", runID,
		"duplicates_resolved", out.Summary.DuplicatesResolved,
		"divergences_corrected", out.Summary.DivergencesCorrected,
		"entries_created", out.Summary.EntriesCreated,
		"transactions_ignored", out.Summary.TransactionsIgnored,
		"still_pending", out.Summary.StillPending)

	return out, nil
}

// resolveDuplicates groups live entries by (day, amount) and, within each
// group, clusters near-identical descriptions. The highest-confidence entry
// survives (tie broken by lowest id); the rest are marked ignored.
func (r *Resolver) resolveDuplicates(runID string, entries map[string]*model.LedgerEntry, order []string, touched map[string]bool, out *Outcome) {
	if !r.cfg.ResolveDuplicates {
		return
	}

	groups := make(map[string][]*model.LedgerEntry)
	var groupKeys []string
	for _, id := range order {
		e := entries[id]
		if e.Settled() {
			continue
		}
		key := e.Date.Format("2006-01-02") + "|" + e.AbsAmount().String()
		if _, seen := groups[key]; !seen {
			groupKeys = append(groupKeys, key)
		}
		groups[key] = append(groups[key], e)
	}
	sort.Strings(groupKeys)

	for _, key := range groupKeys {
		group := groups[key]
		if len(group) < 2 {
			continue
		}

		// Cluster by near-identical description within the group.
		assigned := make([]bool, len(group))
		for i := range group {
			if assigned[i] {
				continue
			}
			cluster := []*model.LedgerEntry{group[i]}
			assigned[i] = true
			for j := i + 1; j < len(group); j++ {
				if assigned[j] {
					continue
				}
				if score.TextScore(group[i].Description, group[j].Description) >= duplicateTextThreshold {
					cluster = append(cluster, group[j])
					assigned[j] = true
				}
			}
			if len(cluster) < 2 {
				continue
			}

			keeper := cluster[0]
			for _, e := range cluster[1:] {
				if e.Confidence > keeper.Confidence ||
					(e.Confidence == keeper.Confidence && e.ID < keeper.ID) {
					keeper = e
				}
			}

			for _, e := range cluster {
				if e == keeper {
					continue
				}
				before := encodeEntry(e)
				e.Status = model.StatusIgnored
				touched[e.ID] = true
				out.Actions = append(out.Actions, r.action(runID, model.AuditIgnoreEntry, e.ID, before, encodeEntry(e)))
				out.Summary.DuplicatesResolved++

				r.logger.Debug("Suppressed duplicate entry",
					"kept", keeper.ID, "ignored", e.ID)
			}
		}
	}
}

// correctDivergences adjusts the ledger amount toward the bank amount on
// matched pairs whose divergence sits within tolerance and whose pairing
// confidence is high enough. Bank truth wins.
func (r *Resolver) correctDivergences(runID string, in Input, entries map[string]*model.LedgerEntry, touched map[string]bool, out *Outcome) {
	txns := make(map[string]*model.BankTransaction, len(in.Transactions))
	for i := range in.Transactions {
		txns[in.Transactions[i].ID] = &in.Transactions[i]
	}

	for _, rec := range in.Records {
		entry, ok := entries[rec.EntryID]
		if !ok || entry.Settled() {
			continue
		}
		txn, ok := txns[rec.TransactionID]
		if !ok {
			continue
		}

		relDiff := score.RelativeDifference(txn.AbsAmount(), entry.AbsAmount())
		if relDiff == 0 {
			// Amounts agree; the pairing is settled as-is.
			entry.Status = model.StatusReconciled
			touched[entry.ID] = true
			continue
		}

		if !r.cfg.CorrectDivergences || relDiff > r.cfg.ToleranceFraction || rec.Score < r.cfg.MinConfidenceToResolve {
			out.ReviewItems = append(out.ReviewItems, r.reviewItem(
				model.ReviewDivergence, entry.ID,
				fmt.Sprintf("amount divergence %.2f%% on pair (%s, %s) needs manual review",
					relDiff*100, rec.TransactionID, rec.EntryID)))
			continue
		}

		before := encodeEntry(entry)
		entry.Amount = txn.AbsAmount()
		entry.Status = model.StatusReconciled
		touched[entry.ID] = true
		out.Actions = append(out.Actions, r.action(runID, model.AuditCorrectAmount, entry.ID, before, encodeEntry(entry)))
		out.Summary.DivergencesCorrected++

		r.logger.Debug("Corrected amount divergence",
			"entry_id", entry.ID,
			"transaction_id", txn.ID,
			"relative_diff", relDiff)
	}
}

// handleUnmatched fabricates ledger entries for unmatched transactions that
// are not internal transfers. Fabrication is one-directional: bank truth
// wins, a transaction is never fabricated from an entry.
func (r *Resolver) handleUnmatched(runID string, in Input, out *Outcome) {
	matched := make(map[string]bool, len(in.Records))
	for _, rec := range in.Records {
		matched[rec.TransactionID] = true
	}

	for i := range in.UnmatchedTransactions {
		txn := &in.UnmatchedTransactions[i]
		if matched[txn.ID] {
			continue
		}

		if r.isInternalTransfer(txn, in.Transactions) {
			out.Summary.TransactionsIgnored++
			r.logger.Debug("Skipped internal transfer", "transaction_id", txn.ID)
			continue
		}

		if !r.cfg.CreateMissingEntries {
			out.ReviewItems = append(out.ReviewItems, r.reviewItem(
				model.ReviewUnmatchedTransaction, txn.ID,
				"unmatched bank transaction with no ledger counterpart"))
			continue
		}

		entry := r.fabricateEntry(txn, in.ClientID)
		out.CreatedEntries = append(out.CreatedEntries, entry)
		out.Actions = append(out.Actions, r.action(runID, model.AuditCreateEntry, entry.ID, "", encodeEntry(&entry)))
		out.NewRecords = append(out.NewRecords, model.ReconciliationRecord{
			ID:            r.newID(),
			TransactionID: txn.ID,
			EntryID:       entry.ID,
			Score:         1.0,
			ResolvedBy:    model.ResolvedAutonomous,
			CreatedAt:     r.now(),
		})
		out.Summary.EntriesCreated++

		r.logger.Debug("Fabricated ledger entry for unmatched transaction",
			"transaction_id", txn.ID,
			"entry_id", entry.ID,
			"category", entry.Category)
	}
}

// isInternalTransfer applies the transfer heuristic: a description matching
// the configured pattern, or (with IgnoreInternalTransfers on) a mirrored
// direction/amount on the same account within the lookback window.
func (r *Resolver) isInternalTransfer(txn *model.BankTransaction, all []model.BankTransaction) bool {
	if r.transferPattern != nil && r.transferPattern.MatchString(txn.Description) {
		return true
	}

	if !r.cfg.IgnoreInternalTransfers {
		return false
	}

	for i := range all {
		other := &all[i]
		if other.ID == txn.ID || other.SourceAccount != txn.SourceAccount {
			continue
		}
		if other.Direction == txn.Direction {
			continue
		}
		if !other.AbsAmount().Equal(txn.AbsAmount()) {
			continue
		}
		if score.DayDelta(txn.Date, other.Date) <= float64(r.cfg.MaxLookbackDays) {
			return true
		}
	}
	return false
}

// fabricateEntry builds a ledger entry from a bank transaction, classified
// with the model's best guess.
func (r *Resolver) fabricateEntry(txn *model.BankTransaction, clientID string) model.LedgerEntry {
	kind := model.KindExpense
	if txn.Direction == model.DirectionCredit {
		kind = model.KindRevenue
	}

	entry := model.LedgerEntry{
		ID:          "auto-" + r.newID(),
		ClientID:    clientID,
		Date:        txn.Date,
		Description: txn.Description,
		Kind:        kind,
		Amount:      txn.AbsAmount(),
		Status:      model.StatusReconciled,
	}

	if r.suggester != nil {
		if category, confidence := r.suggester.Suggest(txn.Description); category != "" {
			entry.Category = category
			entry.Confidence = confidence
		}
	}
	return entry
}

func (r *Resolver) action(runID string, kind model.AuditKind, entryID, before, after string) model.AuditAction {
	return model.AuditAction{
		ID:        r.newID(),
		RunID:     runID,
		Kind:      kind,
		EntryID:   entryID,
		Before:    before,
		After:     after,
		CreatedAt: r.now(),
	}
}

func (r *Resolver) reviewItem(kind model.ReviewKind, refID, reason string) model.ReviewItem {
	return model.ReviewItem{
		ID:        r.newID(),
		RefID:     refID,
		Kind:      kind,
		Reason:    reason,
		CreatedAt: r.now(),
	}
}

// encodeEntry serializes an entry for the reversible audit log.
func encodeEntry(e *model.LedgerEntry) string {
	data, err := json.Marshal(e)
	if err != nil {
		return ""
	}
	return string(data)
}
