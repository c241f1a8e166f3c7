package banking

import (
	"context"
	"time"

	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/service"
)

// MockFetcher is a mock implementation of service.TransactionFetcher for
// testing.
type MockFetcher struct {
	// FetchTransactionsFn can be set by tests to control behavior.
	FetchTransactionsFn func(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error)

	// Call tracking
	FetchCalls []FetchCall
}

// FetchCall records the parameters of a FetchTransactions call.
type FetchCall struct {
	PeriodStart time.Time
	PeriodEnd   time.Time
	Account     string
}

// NewMockFetcher creates a new mock fetcher.
func NewMockFetcher() *MockFetcher {
	return &MockFetcher{}
}

// FetchTransactions implements service.TransactionFetcher.
func (m *MockFetcher) FetchTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error) {
	m.FetchCalls = append(m.FetchCalls, FetchCall{
		Account:     account,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})

	if m.FetchTransactionsFn != nil {
		return m.FetchTransactionsFn(ctx, account, periodStart, periodEnd)
	}
	return []model.BankTransaction{}, nil
}

// Reset clears all call tracking.
func (m *MockFetcher) Reset() {
	m.FetchCalls = nil
}

var _ service.TransactionFetcher = (*MockFetcher)(nil)
