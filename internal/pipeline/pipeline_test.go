package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/service"
)

// memStorage is an in-memory service.Storage for pipeline tests.
type memStorage struct {
	mu           sync.Mutex
	transactions []model.BankTransaction
	entries      map[string]model.LedgerEntry
	records      []model.ReconciliationRecord
	actions      []model.AuditAction
	reviewItems  []model.ReviewItem
	state        *service.ClassifierState

	// onGetTransactions runs inside GetUnreconciledTransactions, letting a
	// test block a stage or cancel a context mid-run.
	onGetTransactions func()
}

func newMemStorage() *memStorage {
	return &memStorage{entries: make(map[string]model.LedgerEntry)}
}

func (s *memStorage) SaveTransactions(_ context.Context, txns []model.BankTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, txns...)
	return nil
}

func (s *memStorage) GetTransactions(_ context.Context, _ string, _, _ time.Time) ([]model.BankTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.BankTransaction(nil), s.transactions...), nil
}

func (s *memStorage) GetUnreconciledTransactions(_ context.Context, _ string, _, _ time.Time) ([]model.BankTransaction, error) {
	if s.onGetTransactions != nil {
		s.onGetTransactions()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	reconciled := make(map[string]bool)
	for _, r := range s.records {
		reconciled[r.TransactionID] = true
	}
	var out []model.BankTransaction
	for _, t := range s.transactions {
		if !reconciled[t.ID] {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStorage) SaveLedgerEntries(_ context.Context, entries []model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return nil
}

func (s *memStorage) UpdateLedgerEntry(_ context.Context, entry *model.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = *entry
	return nil
}

func (s *memStorage) GetLedgerEntry(_ context.Context, id string) (*model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return &e, nil
}

func (s *memStorage) GetLedgerEntries(_ context.Context, clientID string, _, _ time.Time) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range s.entries {
		if e.ClientID == clientID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStorage) GetUnreconciledEntries(_ context.Context, _ string, _, _ time.Time) ([]model.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.LedgerEntry
	for _, e := range s.entries {
		if !e.Settled() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStorage) SaveReconciliationRecords(_ context.Context, records []model.ReconciliationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, records...)
	return nil
}

func (s *memStorage) GetReconciliationRecords(_ context.Context, _ string, _, _ time.Time) ([]model.ReconciliationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ReconciliationRecord(nil), s.records...), nil
}

func (s *memStorage) SaveAuditActions(_ context.Context, actions []model.AuditAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions = append(s.actions, actions...)
	return nil
}

func (s *memStorage) GetAuditAction(_ context.Context, id string) (*model.AuditAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.actions {
		if s.actions[i].ID == id {
			return &s.actions[i], nil
		}
	}
	return nil, errors.New("not found")
}

func (s *memStorage) GetAuditActionsByRun(_ context.Context, runID string) ([]model.AuditAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditAction
	for _, a := range s.actions {
		if a.RunID == runID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *memStorage) UndoAuditAction(_ context.Context, _ string) error { return nil }

func (s *memStorage) AppendReviewItem(_ context.Context, item model.ReviewItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reviewItems = append(s.reviewItems, item)
	return nil
}

func (s *memStorage) ResolveReviewItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.reviewItems {
		if s.reviewItems[i].ID == id {
			s.reviewItems = append(s.reviewItems[:i], s.reviewItems[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("review item %s not found", id)
}

func (s *memStorage) GetPendingReviewItems(_ context.Context, limit int) ([]model.ReviewItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.reviewItems) {
		limit = len(s.reviewItems)
	}
	return append([]model.ReviewItem(nil), s.reviewItems[:limit]...), nil
}

func (s *memStorage) SaveClassifierState(_ context.Context, state *service.ClassifierState) error {
	s.state = state
	return nil
}

func (s *memStorage) LoadClassifierState(_ context.Context) (*service.ClassifierState, error) {
	return s.state, nil
}

func (s *memStorage) Migrate(_ context.Context) error { return nil }
func (s *memStorage) Close() error                    { return nil }

// stubSources serves canned record sets; sources listed in fail return an
// error instead.
type stubSources struct {
	records map[model.SourceType][]model.SourceRecord
	fail    map[model.SourceType]error
}

func (s *stubSources) FetchSourceRecords(_ context.Context, source model.SourceType, _ string, _, _ time.Time) ([]model.SourceRecord, error) {
	if err, ok := s.fail[source]; ok {
		return nil, &common.RetryableError{Err: err, Retryable: false}
	}
	return s.records[source], nil
}

type stubNotifier struct {
	mu    sync.Mutex
	items []model.ReviewItem
	err   error
}

func (n *stubNotifier) NotifyReviewQueue(_ context.Context, item model.ReviewItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, item)
	return n.err
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func testScope() Scope {
	return Scope{
		ClientID:    "client-1",
		Account:     "acc-1",
		PeriodStart: day(1),
		PeriodEnd:   day(31),
	}
}

func seedMatchedPair(s *memStorage) {
	s.transactions = []model.BankTransaction{{
		ID:            "t-1",
		Date:          day(10),
		Amount:        decimal.NewFromFloat(-1500.00),
		Description:   "Pagamento Fornecedor ABC",
		Direction:     model.DirectionDebit,
		SourceAccount: "acc-1",
	}}
	s.entries["e-1"] = model.LedgerEntry{
		ID:          "e-1",
		ClientID:    "client-1",
		Date:        day(10),
		Amount:      decimal.NewFromFloat(1500.00),
		Description: "Pagamento Fornecedor ABC 45",
		Kind:        model.KindExpense,
		Category:    "Fornecedores",
		Status:      model.StatusClassified,
		Confidence:  0.9,
	}
}

func sourceRecord(id, key string, d int, amount float64) model.SourceRecord {
	return model.SourceRecord{
		ID:       id,
		JoinKey:  key,
		Date:     day(d),
		Amount:   decimal.NewFromFloat(amount),
		Currency: "BRL",
	}
}

func TestRunFullPipeline(t *testing.T) {
	storage := newMemStorage()
	seedMatchedPair(storage)

	sources := &stubSources{records: map[model.SourceType][]model.SourceRecord{
		model.SourceERP:         {sourceRecord("erp-1", "nf-100", 10, 1500.00)},
		model.SourceOpenBanking: {sourceRecord("ob-1", "nf-100", 10, 1500.00)},
	}}

	p, err := New(DefaultConfig(), Deps{Storage: storage, Sources: sources})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), testScope())
	require.NoError(t, err)
	require.NoError(t, result.Err())
	assert.NotEmpty(t, result.RunID)

	require.NotNil(t, result.Match)
	require.Len(t, result.Match.Records, 1)
	assert.NotEmpty(t, result.Match.Records[0].ID, "persisted records get an id")
	assert.Equal(t, model.ResolvedAutomatic, result.Match.Records[0].ResolvedBy)
	assert.Len(t, storage.records, 1)

	require.Len(t, result.Validations, 1)
	assert.False(t, result.Validations[0].Skipped)
	assert.Empty(t, result.Validations[0].Discrepancies)

	require.NotNil(t, result.Resolution)
	// Amounts agree exactly, so the matched entry settles as reconciled.
	entry, err := storage.GetLedgerEntry(context.Background(), "e-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusReconciled, entry.Status)
}

func TestRunFabricatedEntryStaysInClientScope(t *testing.T) {
	storage := newMemStorage()
	storage.transactions = []model.BankTransaction{{
		ID:            "t-9",
		Date:          day(12),
		Amount:        decimal.NewFromFloat(-420.00),
		Description:   "Compra material escritorio",
		Direction:     model.DirectionDebit,
		SourceAccount: "acc-1",
	}}

	p, err := New(DefaultConfig(), Deps{Storage: storage})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), testScope())
	require.NoError(t, err)
	require.NoError(t, result.Err())

	require.NotNil(t, result.Resolution)
	assert.Equal(t, 1, result.Resolution.EntriesCreated)
	assert.Equal(t, result.RunID, result.Resolution.RunID)

	// The fabricated entry carries the scope's client id, so client-scoped
	// queries see it.
	entries, err := storage.GetLedgerEntries(context.Background(), "client-1", day(1), day(31))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "client-1", entries[0].ClientID)
	assert.Equal(t, model.StatusReconciled, entries[0].Status)

	// Its audit action is filed under the pipeline's run id, the one the
	// operator sees in the run report.
	actions, err := storage.GetAuditActionsByRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, model.AuditCreateEntry, actions[0].Kind)
}

func TestRunSourceUnavailableSkipsPairOnly(t *testing.T) {
	storage := newMemStorage()
	seedMatchedPair(storage)

	sources := &stubSources{
		records: map[model.SourceType][]model.SourceRecord{
			model.SourceOpenBanking: {sourceRecord("ob-1", "nf-100", 10, 1500.00)},
		},
		fail: map[model.SourceType]error{
			model.SourceERP: errors.New("erp endpoint timed out"),
		},
	}

	p, err := New(DefaultConfig(), Deps{Storage: storage, Sources: sources})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), testScope())
	require.NoError(t, err)

	// The failed pair is marked skipped, with the gap named.
	require.Len(t, result.Validations, 1)
	assert.True(t, result.Validations[0].Skipped)
	assert.Contains(t, result.Validations[0].SkipReason, "erp")

	require.Len(t, result.StageErrors, 1)
	assert.Equal(t, StageValidate, result.StageErrors[0].Stage)
	assert.ErrorIs(t, result.StageErrors[0].Err, common.ErrSourceUnavailable)

	// Matching output from the same run stays intact.
	require.NotNil(t, result.Match)
	assert.Len(t, result.Match.Records, 1)
	require.NotNil(t, result.Resolution)
}

func TestRunRejectsOverlappingScope(t *testing.T) {
	storage := newMemStorage()
	seedMatchedPair(storage)

	started := make(chan struct{})
	release := make(chan struct{})
	var first atomic.Bool
	storage.onGetTransactions = func() {
		// Only the first fetch blocks; sync.Once.Do would also block every
		// later caller until the first one returns, deadlocking the
		// disjoint-scope run below.
		if first.CompareAndSwap(false, true) {
			close(started)
			<-release
		}
	}

	p, err := New(DefaultConfig(), Deps{Storage: storage})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, runErr := p.Run(context.Background(), testScope())
		done <- runErr
	}()
	<-started

	// Same client, same account, overlapping period: rejected.
	_, err = p.Run(context.Background(), Scope{
		ClientID:    "client-1",
		Account:     "acc-1",
		PeriodStart: day(15),
		PeriodEnd:   day(20),
	})
	assert.ErrorIs(t, err, common.ErrScopeBusy)

	// Disjoint scope runs concurrently.
	other := Scope{ClientID: "client-2", Account: "acc-2", PeriodStart: day(1), PeriodEnd: day(31)}
	_, err = p.Run(context.Background(), other)
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-done)

	// The finished scope can run again.
	_, err = p.Run(context.Background(), testScope())
	assert.NoError(t, err)
}

func TestRunCancelledBetweenStages(t *testing.T) {
	storage := newMemStorage()
	seedMatchedPair(storage)

	ctx, cancel := context.WithCancel(context.Background())
	storage.onGetTransactions = func() { cancel() }

	p, err := New(DefaultConfig(), Deps{Storage: storage})
	require.NoError(t, err)

	result, err := p.Run(ctx, testScope())
	require.ErrorIs(t, err, context.Canceled)

	// The fetch stage finished cleanly; matching never started.
	require.NotNil(t, result)
	assert.Nil(t, result.Match)
	assert.Nil(t, result.Resolution)
	assert.Empty(t, storage.records)
}

func TestRunRejectsInvalidScope(t *testing.T) {
	p, err := New(DefaultConfig(), Deps{Storage: newMemStorage()})
	require.NoError(t, err)

	_, err = p.Run(context.Background(), Scope{Account: "acc-1", PeriodStart: day(1), PeriodEnd: day(31)})
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	_, err = p.Run(context.Background(), Scope{
		ClientID: "client-1", Account: "acc-1",
		PeriodStart: day(31), PeriodEnd: day(1),
	})
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestRunNotifierFailureIsNotFatal(t *testing.T) {
	storage := newMemStorage()
	// An unmatched transaction with entry creation disabled lands in review.
	storage.transactions = []model.BankTransaction{{
		ID:            "t-1",
		Date:          day(10),
		Amount:        decimal.NewFromFloat(-420.00),
		Description:   "Compra material escritorio",
		Direction:     model.DirectionDebit,
		SourceAccount: "acc-1",
	}}

	cfg := DefaultConfig()
	cfg.SourcePairs = nil
	cfg.Resolution.CreateMissingEntries = false
	cfg.Resolution.InternalTransferPattern = ""
	cfg.Resolution.IgnoreInternalTransfers = false

	notifier := &stubNotifier{err: errors.New("review service down")}
	p, err := New(cfg, Deps{Storage: storage, Notifier: notifier})
	require.NoError(t, err)

	result, err := p.Run(context.Background(), testScope())
	require.NoError(t, err)
	require.NoError(t, result.Err())

	require.Len(t, storage.reviewItems, 1)
	assert.Equal(t, model.ReviewUnmatchedTransaction, storage.reviewItems[0].Kind)
	assert.Len(t, notifier.items, 1, "notifier was called despite its failure")
	assert.Equal(t, 1, result.Resolution.StillPending)
}

func TestRunAsyncDeliversResult(t *testing.T) {
	storage := newMemStorage()
	seedMatchedPair(storage)

	p, err := New(DefaultConfig(), Deps{Storage: storage})
	require.NoError(t, err)

	result := <-p.RunAsync(context.Background(), testScope())
	require.NotNil(t, result)
	require.NoError(t, result.Err())
	require.NotNil(t, result.Match)
	assert.Len(t, result.Match.Records, 1)
}

func TestRunRejectsMissingStorage(t *testing.T) {
	_, err := New(DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, common.ErrConfigConflict)
}
