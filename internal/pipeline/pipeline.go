// Package pipeline orchestrates a reconciliation run for one scope: matching,
// cross-validation and autonomous resolution execute as sequential stages over
// a snapshot fetched up front. A stage failure degrades the run to a partial
// result instead of aborting it, and overlapping runs for the same scope are
// rejected rather than merged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/contaflow/recon-engine/internal/classify"
	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/match"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/resolve"
	"github.com/contaflow/recon-engine/internal/service"
	"github.com/contaflow/recon-engine/internal/validate"
)

// Stage names used in StageError and log output.
const (
	StageFetch    = "fetch"
	StageMatch    = "match"
	StageValidate = "validate"
	StageResolve  = "resolve"
	StagePersist  = "persist"
)

// Scope identifies the unit of work one pipeline run owns: one client's
// ledger against one bank account over a period.
type Scope struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	ClientID    string
	Account     string
}

// Validate rejects scopes the pipeline cannot act on.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.ClientID) == "" {
		return fmt.Errorf("%w: scope clientID is empty", common.ErrInvalidInput)
	}
	if strings.TrimSpace(s.Account) == "" {
		return fmt.Errorf("%w: scope account is empty", common.ErrInvalidInput)
	}
	if s.PeriodEnd.Before(s.PeriodStart) {
		return fmt.Errorf("%w: scope period ends before it starts", common.ErrInvalidInput)
	}
	return nil
}

// Key is the identity used by the scope guard.
func (s Scope) Key() string {
	return s.ClientID + "|" + s.Account
}

// Overlaps reports whether two scopes would race on the same data.
func (s Scope) Overlaps(other Scope) bool {
	if s.Key() != other.Key() {
		return false
	}
	return !s.PeriodEnd.Before(other.PeriodStart) && !other.PeriodEnd.Before(s.PeriodStart)
}

// SourcePair names two ingestion sources to cross-validate against each other.
type SourcePair struct {
	A model.SourceType
	B model.SourceType
}

// StageError records a stage that failed without sinking the whole run.
type StageError struct {
	Err   error
	Stage string
}

func (e StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e StageError) Unwrap() error {
	return e.Err
}

// RunResult aggregates everything one run produced. Stages that failed leave
// their slot nil and an entry in StageErrors; earlier stages' output is never
// discarded because of a later failure.
type RunResult struct {
	StartedAt   time.Time
	CompletedAt time.Time
	Match       *match.Result
	Resolution  *model.ResolutionOutcome
	RunID       string
	Validations []model.ValidationResult
	StageErrors []StageError
	Scope       Scope
}

// Err returns the combined stage errors, nil when every stage succeeded.
func (r *RunResult) Err() error {
	if len(r.StageErrors) == 0 {
		return nil
	}
	errs := make([]error, len(r.StageErrors))
	for i, se := range r.StageErrors {
		errs[i] = se
	}
	return errors.Join(errs...)
}

// Config bundles the per-stage options for one pipeline.
type Config struct {
	Match       match.Config
	Validation  validate.Config
	Resolution  model.ResolutionConfig
	Retry       service.RetryOptions
	SourcePairs []SourcePair
}

// DefaultConfig cross-validates erp against openbanking, the two sources
// every client has.
func DefaultConfig() Config {
	return Config{
		Match:      match.DefaultConfig(),
		Validation: validate.DefaultConfig(),
		Resolution: model.DefaultResolutionConfig(),
		SourcePairs: []SourcePair{
			{A: model.SourceERP, B: model.SourceOpenBanking},
		},
	}
}

// Deps are the external collaborators a pipeline needs. Storage is required;
// Bank, Sources and Notifier may be nil, which disables the corresponding
// stage work (import, cross-validation, review notification).
type Deps struct {
	Storage    service.Storage
	Bank       service.TransactionFetcher
	Sources    service.SourceFetcher
	Notifier   service.ReviewNotifier
	Classifier *classify.Engine
}

// Pipeline runs reconciliation for one scope at a time per scope key, any
// number of disjoint scopes concurrently.
type Pipeline struct {
	deps     Deps
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
	matcher  *match.Matcher
	checker  *validate.CrossValidator
	resolver *resolve.Resolver
	cfg      Config

	mu     sync.Mutex
	active []Scope
}

// New builds a pipeline, validating every stage configuration up front so a
// broken config fails at construction rather than mid-run.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Storage == nil {
		return nil, fmt.Errorf("%w: storage is required", common.ErrConfigConflict)
	}

	matcher, err := match.New(cfg.Match)
	if err != nil {
		return nil, err
	}
	checker, err := validate.New(cfg.Validation)
	if err != nil {
		return nil, err
	}
	var suggester resolve.Suggester
	if deps.Classifier != nil {
		suggester = deps.Classifier
	}
	resolver, err := resolve.New(cfg.Resolution, suggester)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		matcher:  matcher,
		checker:  checker,
		resolver: resolver,
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
		logger:   slog.Default().With("component", "pipeline"),
	}, nil
}

// RunAsync starts a run and returns immediately; the result arrives on the
// returned channel when the run finishes. The channel is buffered so the
// result is delivered even if the caller never reads it.
func (p *Pipeline) RunAsync(ctx context.Context, scope Scope) <-chan *RunResult {
	ch := make(chan *RunResult, 1)
	go func() {
		result, err := p.Run(ctx, scope)
		if result == nil {
			result = &RunResult{Scope: scope, StageErrors: []StageError{{Stage: StageFetch, Err: err}}}
		}
		ch <- result
	}()
	return ch
}

// Run executes the stages for one scope. The returned error is non-nil only
// when the run could not start at all (invalid scope, busy scope, cancelled
// context); stage failures are reported inside the RunResult instead.
func (p *Pipeline) Run(ctx context.Context, scope Scope) (*RunResult, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	if err := p.acquire(scope); err != nil {
		return nil, err
	}
	defer p.release(scope)

	result := &RunResult{
		Scope:     scope,
		RunID:     p.newID(),
		StartedAt: p.now(),
	}

	p.logger.Info("Pipeline run started",
		"run_id", result.RunID,
		"client_id", scope.ClientID,
		"account", scope.Account,
		"period_start", scope.PeriodStart.Format("2006-01-02"),
		"period_end", scope.PeriodEnd.Format("2006-01-02"))

	transactions, entries, fetchErr := p.fetchSnapshot(ctx, scope)
	if fetchErr != nil {
		result.StageErrors = append(result.StageErrors, StageError{Stage: StageFetch, Err: fetchErr})
	}

	if err := p.betweenStages(ctx, result); err != nil {
		return result, err
	}
	p.runMatch(ctx, transactions, entries, result)

	if err := p.betweenStages(ctx, result); err != nil {
		return result, err
	}
	p.runValidation(ctx, scope, result)

	if err := p.betweenStages(ctx, result); err != nil {
		return result, err
	}
	p.runResolution(ctx, transactions, entries, result)

	result.CompletedAt = p.now()

	p.logger.Info("Pipeline run complete",
		"run_id", result.RunID,
		"stage_errors", len(result.StageErrors),
		"validations", len(result.Validations))

	return result, nil
}

// acquire registers the scope, rejecting it when an overlapping run is
// already in flight. Later runs are rejected, never queued or merged.
func (p *Pipeline) acquire(scope Scope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, running := range p.active {
		if scope.Overlaps(running) {
			return fmt.Errorf("%w: a run for client %s account %s already covers this period",
				common.ErrScopeBusy, scope.ClientID, scope.Account)
		}
	}
	p.active = append(p.active, scope)
	return nil
}

func (p *Pipeline) release(scope Scope) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, running := range p.active {
		if running == scope {
			p.active = append(p.active[:i], p.active[i+1:]...)
			return
		}
	}
}

// betweenStages is the cancellation point: the current stage always finishes
// cleanly, the next one only starts if the context is still live.
func (p *Pipeline) betweenStages(ctx context.Context, result *RunResult) error {
	if err := ctx.Err(); err != nil {
		result.CompletedAt = p.now()
		p.logger.Warn("Pipeline run cancelled between stages", "run_id", result.RunID)
		return err
	}
	return nil
}

// fetchSnapshot pulls the unreconciled working set. When a bank fetcher is
// wired, fresh transactions are imported first so the snapshot is current.
func (p *Pipeline) fetchSnapshot(ctx context.Context, scope Scope) ([]model.BankTransaction, []model.LedgerEntry, error) {
	if p.deps.Bank != nil {
		var fetched []model.BankTransaction
		err := common.WithRetry(ctx, func() error {
			var fetchErr error
			fetched, fetchErr = p.deps.Bank.FetchTransactions(ctx, scope.Account, scope.PeriodStart, scope.PeriodEnd)
			if fetchErr != nil && !common.IsRetryable(fetchErr) {
				return &common.RetryableError{Err: fetchErr, Retryable: false}
			}
			return fetchErr
		}, p.cfg.Retry)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: bank fetch for account %s: %v",
				common.ErrSourceUnavailable, scope.Account, err)
		}
		if err := p.deps.Storage.SaveTransactions(ctx, fetched); err != nil {
			return nil, nil, err
		}
	}

	transactions, err := p.deps.Storage.GetUnreconciledTransactions(ctx, scope.Account, scope.PeriodStart, scope.PeriodEnd)
	if err != nil {
		return nil, nil, err
	}
	entries, err := p.deps.Storage.GetUnreconciledEntries(ctx, scope.ClientID, scope.PeriodStart, scope.PeriodEnd)
	if err != nil {
		return nil, nil, err
	}
	return transactions, entries, nil
}

// runMatch executes the matching stage and persists accepted pairings.
func (p *Pipeline) runMatch(ctx context.Context, transactions []model.BankTransaction, entries []model.LedgerEntry, result *RunResult) {
	matchResult, err := p.matcher.Match(ctx, transactions, entries)
	if err != nil {
		result.StageErrors = append(result.StageErrors, StageError{Stage: StageMatch, Err: err})
		return
	}

	for i := range matchResult.Records {
		matchResult.Records[i].ID = p.newID()
		matchResult.Records[i].CreatedAt = p.now()
	}
	if len(matchResult.Records) > 0 {
		if err := p.deps.Storage.SaveReconciliationRecords(ctx, matchResult.Records); err != nil {
			result.StageErrors = append(result.StageErrors, StageError{Stage: StagePersist, Err: err})
		}
	}
	result.Match = matchResult
}

// runValidation cross-validates every configured source pair. A failed fetch
// skips that pair only, with the gap marked on the ValidationResult.
func (p *Pipeline) runValidation(ctx context.Context, scope Scope, result *RunResult) {
	if p.deps.Sources == nil || len(p.cfg.SourcePairs) == 0 {
		return
	}

	for _, pair := range p.cfg.SourcePairs {
		setA, errA := p.fetchSource(ctx, pair.A, scope)
		setB, errB := p.fetchSource(ctx, pair.B, scope)
		if errA != nil || errB != nil {
			failed := pair.A
			fetchErr := errA
			if errA == nil {
				failed = pair.B
				fetchErr = errB
			}
			result.Validations = append(result.Validations, model.ValidationResult{
				SourceA:    pair.A,
				SourceB:    pair.B,
				Skipped:    true,
				SkipReason: fmt.Sprintf("cross-validation skipped: source %s unavailable", failed),
			})
			result.StageErrors = append(result.StageErrors, StageError{
				Stage: StageValidate,
				Err:   fmt.Errorf("%w: source %s: %v", common.ErrSourceUnavailable, failed, fetchErr),
			})
			continue
		}

		vr, err := p.checker.Validate(ctx, setA, setB)
		if err != nil {
			result.StageErrors = append(result.StageErrors, StageError{Stage: StageValidate, Err: err})
			continue
		}
		result.Validations = append(result.Validations, *vr)
	}
}

func (p *Pipeline) fetchSource(ctx context.Context, source model.SourceType, scope Scope) (validate.SourceSet, error) {
	var records []model.SourceRecord
	err := common.WithRetry(ctx, func() error {
		var fetchErr error
		records, fetchErr = p.deps.Sources.FetchSourceRecords(ctx, source, scope.ClientID, scope.PeriodStart, scope.PeriodEnd)
		if fetchErr != nil && !common.IsRetryable(fetchErr) {
			return &common.RetryableError{Err: fetchErr, Retryable: false}
		}
		return fetchErr
	}, p.cfg.Retry)
	if err != nil {
		return validate.SourceSet{}, err
	}
	return validate.SourceSet{Source: source, Records: records}, nil
}

// runResolution runs the resolver over the matching stage's output and
// persists every mutation it produced.
func (p *Pipeline) runResolution(ctx context.Context, transactions []model.BankTransaction, entries []model.LedgerEntry, result *RunResult) {
	in := resolve.Input{
		RunID:        result.RunID,
		ClientID:     result.Scope.ClientID,
		Transactions: transactions,
		Entries:      entries,
	}
	if result.Match != nil {
		in.Records = result.Match.Records
		in.UnmatchedTransactions = result.Match.UnmatchedTransactions
	}

	outcome, err := p.resolver.Resolve(ctx, in)
	if err != nil {
		result.StageErrors = append(result.StageErrors, StageError{Stage: StageResolve, Err: err})
		return
	}

	if err := p.persistOutcome(ctx, outcome); err != nil {
		result.StageErrors = append(result.StageErrors, StageError{Stage: StagePersist, Err: err})
	}
	result.Resolution = &outcome.Summary
}

func (p *Pipeline) persistOutcome(ctx context.Context, outcome *resolve.Outcome) error {
	for i := range outcome.UpdatedEntries {
		if err := p.deps.Storage.UpdateLedgerEntry(ctx, &outcome.UpdatedEntries[i]); err != nil {
			return err
		}
	}
	if len(outcome.CreatedEntries) > 0 {
		if err := p.deps.Storage.SaveLedgerEntries(ctx, outcome.CreatedEntries); err != nil {
			return err
		}
	}
	if len(outcome.NewRecords) > 0 {
		if err := p.deps.Storage.SaveReconciliationRecords(ctx, outcome.NewRecords); err != nil {
			return err
		}
	}
	if len(outcome.Actions) > 0 {
		if err := p.deps.Storage.SaveAuditActions(ctx, outcome.Actions); err != nil {
			return err
		}
	}
	for _, item := range outcome.ReviewItems {
		if err := p.deps.Storage.AppendReviewItem(ctx, item); err != nil {
			return err
		}
		p.notify(ctx, item)
	}
	return nil
}

// notify is fire-and-forget: a notifier failure is logged, never propagated.
func (p *Pipeline) notify(ctx context.Context, item model.ReviewItem) {
	if p.deps.Notifier == nil {
		return
	}
	if err := p.deps.Notifier.NotifyReviewQueue(ctx, item); err != nil {
		p.logger.Warn("Review queue notification failed",
			"item_id", item.ID,
			"error", err)
	}
}
