package validate

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contaflow/recon-engine/internal/model"
)

func record(id, key string, day int, amount float64, description string) model.SourceRecord {
	return model.SourceRecord{
		ID:           id,
		JoinKey:      key,
		Date:         time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC),
		Amount:       decimal.NewFromFloat(amount),
		Description:  description,
		Currency:     "BRL",
		Counterparty: "Fornecedor ABC",
	}
}

func newValidator(t *testing.T) *CrossValidator {
	t.Helper()
	v, err := New(DefaultConfig())
	require.NoError(t, err)
	return v
}

func sets(a, b []model.SourceRecord) (SourceSet, SourceSet) {
	return SourceSet{Source: model.SourceERP, Records: a},
		SourceSet{Source: model.SourceOCR, Records: b}
}

func TestValidateExactKeyJoinNoDiscrepancies(t *testing.T) {
	v := newValidator(t)

	a, b := sets(
		[]model.SourceRecord{record("a-1", "NF-100", 10, 1500.00, "Pagamento Fornecedor ABC")},
		[]model.SourceRecord{record("b-1", "NF-100", 10, 1500.00, "Pagamento Fornecedor ABC")},
	)

	result, err := v.Validate(context.Background(), a, b)
	require.NoError(t, err)

	assert.Equal(t, 1, result.JoinedPairs)
	assert.Equal(t, 1.0, result.MatchRate)
	assert.Empty(t, result.Discrepancies)
	assert.Empty(t, result.OnlyInA)
	assert.Empty(t, result.OnlyInB)
}

func TestValidateSeverityBands(t *testing.T) {
	tests := []struct {
		name    string
		amountB float64
		want    model.Severity
	}{
		{name: "sub five percent is low", amountB: 1030.00, want: model.SeverityLow},
		{name: "ten percent is medium", amountB: 1100.00, want: model.SeverityMedium},
		{name: "thirty percent is high", amountB: 1300.00, want: model.SeverityHigh},
	}

	v := newValidator(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := sets(
				[]model.SourceRecord{record("a-1", "NF-1", 10, 1000.00, "Pagamento")},
				[]model.SourceRecord{record("b-1", "NF-1", 10, tt.amountB, "Pagamento")},
			)
			result, err := v.Validate(context.Background(), a, b)
			require.NoError(t, err)
			require.Len(t, result.Discrepancies, 1)
			d := result.Discrepancies[0]
			assert.Equal(t, "amount", d.Field)
			assert.Equal(t, tt.want, d.Severity)
		})
	}
}

func TestValidateSeverityMonotonicity(t *testing.T) {
	v := newValidator(t)

	prev := model.SeverityLow
	for _, amountB := range []float64{1001, 1040, 1080, 1150, 1250, 1500, 2500} {
		a, b := sets(
			[]model.SourceRecord{record("a-1", "NF-1", 10, 1000.00, "Pagamento")},
			[]model.SourceRecord{record("b-1", "NF-1", 10, amountB, "Pagamento")},
		)
		result, err := v.Validate(context.Background(), a, b)
		require.NoError(t, err)
		require.Len(t, result.Discrepancies, 1)

		got := result.Discrepancies[0].Severity
		assert.True(t, got.AtLeast(prev),
			"severity regressed from %s to %s at amount %v", prev, got, amountB)
		prev = got
	}
}

func TestValidateCosmeticTextIsLow(t *testing.T) {
	v := newValidator(t)

	ra := record("a-1", "NF-1", 10, 100, "PAGAMENTO FORNECEDOR, ABC")
	rb := record("b-1", "NF-1", 10, 100, "pagamento fornecedor abc")

	a, b := sets([]model.SourceRecord{ra}, []model.SourceRecord{rb})
	result, err := v.Validate(context.Background(), a, b)
	require.NoError(t, err)

	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, "description", result.Discrepancies[0].Field)
	assert.Equal(t, model.SeverityLow, result.Discrepancies[0].Severity)
}

func TestValidateCategoricalMismatchIsHigh(t *testing.T) {
	v := newValidator(t)

	ra := record("a-1", "NF-1", 10, 100, "Pagamento")
	rb := record("b-1", "NF-1", 10, 100, "Pagamento")
	rb.Currency = "USD"

	a, b := sets([]model.SourceRecord{ra}, []model.SourceRecord{rb})
	result, err := v.Validate(context.Background(), a, b)
	require.NoError(t, err)

	require.Len(t, result.Discrepancies, 1)
	assert.Equal(t, "currency", result.Discrepancies[0].Field)
	assert.Equal(t, model.SeverityHigh, result.Discrepancies[0].Severity)
}

func TestValidateFuzzyJoinFallback(t *testing.T) {
	v := newValidator(t)

	// No join keys at all: same day, same value still joins fuzzily.
	ra := record("a-1", "", 10, 1500.00, "Pagamento Fornecedor")
	rb := record("b-1", "", 11, 1500.00, "Pgto Fornecedor ABC")

	a, b := sets([]model.SourceRecord{ra}, []model.SourceRecord{rb})
	result, err := v.Validate(context.Background(), a, b)
	require.NoError(t, err)

	assert.Equal(t, 1, result.JoinedPairs)
	assert.Empty(t, result.OnlyInA)
	assert.Empty(t, result.OnlyInB)
}

func TestValidateAbsenceIsNotDivergence(t *testing.T) {
	v := newValidator(t)

	a, b := sets(
		[]model.SourceRecord{
			record("a-1", "NF-1", 10, 100, "Pagamento"),
			record("a-2", "NF-2", 12, 999.99, "Sem contrapartida"),
		},
		[]model.SourceRecord{record("b-1", "NF-1", 10, 100, "Pagamento")},
	)

	result, err := v.Validate(context.Background(), a, b)
	require.NoError(t, err)

	assert.Equal(t, 1, result.JoinedPairs)
	assert.Equal(t, 1.0, result.MatchRate) // joined / min(|A|,|B|)
	assert.Empty(t, result.Discrepancies)
	assert.Equal(t, []string{"a-2"}, result.OnlyInA)
	assert.Empty(t, result.OnlyInB)
}

func TestValidateRejectsEmptyRecordID(t *testing.T) {
	v := newValidator(t)

	a, b := sets([]model.SourceRecord{record("", "NF-1", 10, 100, "x")}, nil)
	_, err := v.Validate(context.Background(), a, b)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.FuzzyJoinThreshold = 1.5
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.MaxLookbackDays = 0
	assert.Error(t, bad.Validate())
}
