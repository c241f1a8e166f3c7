package match

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/recon-engine/internal/model"
)

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func txn(id string, d int, amount float64, description string) model.BankTransaction {
	direction := model.DirectionDebit
	if amount > 0 {
		direction = model.DirectionCredit
	}
	return model.BankTransaction{
		ID:            id,
		Date:          day(d),
		Amount:        decimal.NewFromFloat(amount),
		Description:   description,
		Direction:     direction,
		SourceAccount: "acc-1",
	}
}

func entry(id string, d int, amount float64, description string) model.LedgerEntry {
	return model.LedgerEntry{
		ID:          id,
		Date:        day(d),
		Amount:      decimal.NewFromFloat(amount),
		Description: description,
		Kind:        model.KindExpense,
		Status:      model.StatusClassified,
		Category:    "Fornecedores",
		Confidence:  0.9,
	}
}

func newMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(DefaultConfig())
	require.NoError(t, err)
	return m
}

func TestMatchAutomaticPair(t *testing.T) {
	m := newMatcher(t)

	// Sign convention reconciled by direction: a debit of -1500 matches an
	// expense entry of +1500.
	transactions := []model.BankTransaction{
		txn("t-1", 10, -1500.00, "Pagamento Fornecedor ABC"),
	}
	entries := []model.LedgerEntry{
		entry("e-1", 10, 1500.00, "Pagamento Fornecedor ABC 45"),
	}

	result, err := m.Match(context.Background(), transactions, entries)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	rec := result.Records[0]
	assert.Equal(t, "t-1", rec.TransactionID)
	assert.Equal(t, "e-1", rec.EntryID)
	assert.GreaterOrEqual(t, rec.Score, 0.85)
	assert.Equal(t, model.ResolvedAutomatic, rec.ResolvedBy)
	assert.Empty(t, result.UnmatchedTransactions)
	assert.Empty(t, result.UnmatchedEntries)
}

func TestMatchAssistedBand(t *testing.T) {
	m := newMatcher(t)

	// Same amount, 30 days apart, unrelated description: below automatic,
	// above assisted.
	transactions := []model.BankTransaction{
		txn("t-1", 1, -800.00, "Pgto NF 1234"),
	}
	entries := []model.LedgerEntry{
		entry("e-1", 31, 800.00, "Compra material construcao"),
	}

	result, err := m.Match(context.Background(), transactions, entries)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, model.ResolvedAssisted, result.Records[0].ResolvedBy)
	assert.Less(t, result.Records[0].Score, 0.85)
	assert.GreaterOrEqual(t, result.Records[0].Score, 0.55)
}

func TestMatchBelowAssistedStaysUnmatched(t *testing.T) {
	m := newMatcher(t)

	transactions := []model.BankTransaction{
		txn("t-1", 1, -800.00, "Pgto NF 1234"),
	}
	entries := []model.LedgerEntry{
		entry("e-1", 60, 123.45, "Compra material construcao"),
	}

	result, err := m.Match(context.Background(), transactions, entries)
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Len(t, result.UnmatchedTransactions, 1)
	assert.Len(t, result.UnmatchedEntries, 1)
}

func TestMatchExclusivity(t *testing.T) {
	m := newMatcher(t)

	// Two transactions compete for the same entry; the better pair wins and
	// no id appears twice.
	transactions := []model.BankTransaction{
		txn("t-1", 10, -1500.00, "Pagamento Fornecedor ABC"),
		txn("t-2", 12, -1500.00, "Pagamento Fornecedor ABC"),
	}
	entries := []model.LedgerEntry{
		entry("e-1", 10, 1500.00, "Pagamento Fornecedor ABC"),
	}

	result, err := m.Match(context.Background(), transactions, entries)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "t-1", result.Records[0].TransactionID)

	seenTxn := map[string]bool{}
	seenEntry := map[string]bool{}
	for _, rec := range result.Records {
		assert.False(t, seenTxn[rec.TransactionID], "transaction matched twice")
		assert.False(t, seenEntry[rec.EntryID], "entry matched twice")
		seenTxn[rec.TransactionID] = true
		seenEntry[rec.EntryID] = true
	}

	require.Len(t, result.UnmatchedTransactions, 1)
	assert.Equal(t, "t-2", result.UnmatchedTransactions[0].ID)
}

func TestMatchDeterminism(t *testing.T) {
	m := newMatcher(t)
	ctx := context.Background()

	transactions := []model.BankTransaction{
		txn("t-3", 10, -1500.00, "Pagamento Fornecedor ABC"),
		txn("t-1", 11, -1500.00, "Pagamento Fornecedor ABC"),
		txn("t-2", 12, -220.50, "Tarifa bancaria"),
	}
	entries := []model.LedgerEntry{
		entry("e-2", 10, 1500.00, "Pagamento Fornecedor ABC"),
		entry("e-1", 11, 1500.00, "Pagamento Fornecedor ABC"),
		entry("e-3", 12, 220.50, "Tarifa bancaria mensal"),
	}

	first, err := m.Match(ctx, transactions, entries)
	require.NoError(t, err)
	second, err := m.Match(ctx, transactions, entries)
	require.NoError(t, err)

	require.Equal(t, len(first.Records), len(second.Records))
	for i := range first.Records {
		assert.Equal(t, first.Records[i].TransactionID, second.Records[i].TransactionID)
		assert.Equal(t, first.Records[i].EntryID, second.Records[i].EntryID)
		assert.Equal(t, first.Records[i].Score, second.Records[i].Score)
		assert.Equal(t, first.Records[i].ResolvedBy, second.Records[i].ResolvedBy)
	}
	assert.Equal(t, first.Candidates, second.Candidates)
}

func TestMatchTieBreakByDateThenID(t *testing.T) {
	m := newMatcher(t)

	// Both entries are equidistant in amount and text; e-1 is closer in
	// date to t-1 and must win it.
	transactions := []model.BankTransaction{
		txn("t-1", 10, -500.00, "Pagamento servico"),
	}
	entries := []model.LedgerEntry{
		entry("e-2", 14, 500.00, "Pagamento servico"),
		entry("e-1", 11, 500.00, "Pagamento servico"),
	}

	result, err := m.Match(context.Background(), transactions, entries)
	require.NoError(t, err)

	require.Len(t, result.Records, 1)
	assert.Equal(t, "e-1", result.Records[0].EntryID)
}

func TestMatchSkipsSettledEntries(t *testing.T) {
	m := newMatcher(t)

	reconciled := entry("e-1", 10, 1500.00, "Pagamento Fornecedor ABC")
	reconciled.Status = model.StatusReconciled

	result, err := m.Match(context.Background(),
		[]model.BankTransaction{txn("t-1", 10, -1500.00, "Pagamento Fornecedor ABC")},
		[]model.LedgerEntry{reconciled})
	require.NoError(t, err)

	assert.Empty(t, result.Records)
	assert.Len(t, result.UnmatchedTransactions, 1)
}

func TestMatchRejectsInvalidInput(t *testing.T) {
	m := newMatcher(t)

	_, err := m.Match(context.Background(),
		[]model.BankTransaction{{ID: "", Date: day(1), Direction: model.DirectionDebit}},
		nil)
	assert.ErrorContains(t, err, "invalid")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr bool
	}{
		{name: "defaults ok", mutate: func(_ *Config) {}, wantErr: false},
		{name: "auto above one", mutate: func(c *Config) { c.AutoMatchThreshold = 1.2 }, wantErr: true},
		{name: "assisted above auto", mutate: func(c *Config) { c.AssistedThreshold = 0.9 }, wantErr: true},
		{name: "negative tolerance", mutate: func(c *Config) { c.ToleranceFraction = -0.1 }, wantErr: true},
		{name: "zero lookback", mutate: func(c *Config) { c.MaxLookbackDays = 0 }, wantErr: true},
		{name: "bad weights", mutate: func(c *Config) { c.Weights.Date = 0.9 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
