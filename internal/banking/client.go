// Package banking provides the open-banking transaction fetcher backed by the
// Plaid API.
package banking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/plaid/plaid-go/v20/plaid"
	"github.com/shopspring/decimal"

	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/service"
)

// Config holds Plaid API configuration.
type Config struct {
	ClientID    string
	Secret      string
	Environment string // sandbox or production
	AccessToken string
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("plaid client ID is required")
	}
	if c.Secret == "" {
		return fmt.Errorf("plaid secret is required")
	}
	if c.AccessToken == "" {
		return fmt.Errorf("plaid access token is required")
	}
	switch c.Environment {
	case "sandbox", "production":
	default:
		return fmt.Errorf("invalid Plaid environment: must be sandbox or production")
	}
	return nil
}

// Client implements the service.TransactionFetcher interface against Plaid.
type Client struct {
	client      *plaid.APIClient
	logger      *slog.Logger
	retryOpts   service.RetryOptions
	accessToken string
}

// NewClient creates a new Plaid-backed fetcher with the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	configuration := plaid.NewConfiguration()
	configuration.AddDefaultHeader("PLAID-CLIENT-ID", cfg.ClientID)
	configuration.AddDefaultHeader("PLAID-SECRET", cfg.Secret)

	switch cfg.Environment {
	case "sandbox":
		configuration.UseEnvironment(plaid.Sandbox)
	case "production":
		configuration.UseEnvironment(plaid.Production)
	}

	return &Client{
		client:      plaid.NewAPIClient(configuration),
		accessToken: cfg.AccessToken,
		logger:      slog.Default().With("component", "banking"),
		retryOpts: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
	}, nil
}

// FetchTransactions fetches the account's transactions within the period,
// paging through Plaid's API until the window is exhausted.
func (c *Client) FetchTransactions(ctx context.Context, account string, periodStart, periodEnd time.Time) ([]model.BankTransaction, error) {
	if ctx == nil {
		return nil, fmt.Errorf("context cannot be nil")
	}
	if account == "" {
		return nil, fmt.Errorf("%w: account is required", common.ErrInvalidInput)
	}
	if periodStart.After(periodEnd) {
		return nil, fmt.Errorf("%w: period start after end", common.ErrInvalidInput)
	}

	c.logger.Info("Fetching transactions from Plaid",
		"account", account,
		"period_start", periodStart.Format("2006-01-02"),
		"period_end", periodEnd.Format("2006-01-02"))

	var all []plaid.Transaction
	offset := int32(0)
	const pageSize = int32(500) // Plaid's max page size

	for {
		var page []plaid.Transaction

		retryErr := common.WithRetry(ctx, func() error {
			request := plaid.NewTransactionsGetRequest(
				c.accessToken,
				periodStart.Format("2006-01-02"),
				periodEnd.Format("2006-01-02"),
			)
			accountIDs := []string{account}
			options := plaid.TransactionsGetRequestOptions{
				AccountIds: &accountIDs,
				Count:      plaid.PtrInt32(pageSize),
				Offset:     plaid.PtrInt32(offset),
			}
			request.SetOptions(options)

			resp, _, err := c.client.PlaidApi.TransactionsGet(ctx).TransactionsGetRequest(*request).Execute()
			if err != nil {
				if plaidError := extractPlaidError(err); plaidError != nil {
					if plaidError.ErrorCode == "RATE_LIMIT_EXCEEDED" {
						c.logger.Warn("Rate limit hit, will retry", "error", plaidError.ErrorMessage)
						return &common.RetryableError{Err: common.ErrBankRateLimit, Retryable: true}
					}
					return fmt.Errorf("%w: %s - %s", common.ErrBankConnection, plaidError.ErrorCode, plaidError.ErrorMessage)
				}
				return fmt.Errorf("failed to fetch transactions: %w", err)
			}

			page = resp.GetTransactions()

			c.logger.Debug("Fetched transaction batch",
				"count", len(page),
				"offset", offset,
				"total", resp.GetTotalTransactions())

			return nil
		}, c.retryOpts)

		if retryErr != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrSourceUnavailable, retryErr)
		}

		all = append(all, page...)

		if len(page) < int(pageSize) {
			break
		}
		offset += pageSize
	}

	c.logger.Info("Fetched all transactions", "account", account, "count", len(all))

	transactions := make([]model.BankTransaction, 0, len(all))
	for _, pt := range all {
		transactions = append(transactions, c.mapTransaction(pt))
	}
	return transactions, nil
}

// mapTransaction converts a Plaid transaction to the reconciliation model.
// Plaid amounts are positive for money out; the model's sign convention is
// the opposite, with Direction carrying the semantic.
func (c *Client) mapTransaction(pt plaid.Transaction) model.BankTransaction {
	date, err := time.Parse("2006-01-02", pt.GetDate())
	if err != nil {
		c.logger.Error("Failed to parse transaction date", "date", pt.GetDate(), "error", err)
		date = time.Now()
	}

	description := pt.GetMerchantName()
	if description == "" {
		description = pt.GetName()
	}

	amount := decimal.NewFromFloat(pt.GetAmount()).Neg()
	direction := model.DirectionCredit
	if amount.IsNegative() {
		direction = model.DirectionDebit
	}

	return model.BankTransaction{
		ID:            pt.GetTransactionId(),
		Date:          date,
		Amount:        amount,
		Description:   description,
		Direction:     direction,
		SourceAccount: pt.GetAccountId(),
	}
}

// extractPlaidError attempts to extract a Plaid error from a generic error.
func extractPlaidError(err error) *plaid.PlaidError {
	plaidErr, convErr := plaid.ToPlaidError(err)
	if convErr != nil {
		return nil
	}
	return &plaidErr
}

// Ensure Client implements the fetcher interface.
var _ service.TransactionFetcher = (*Client)(nil)
