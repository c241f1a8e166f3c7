// Package storage provides the SQLite persistence layer for the
// reconciliation engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/contaflow/recon-engine/internal/model"
)

// Validation errors.
var (
	ErrNilContext       = errors.New("context cannot be nil")
	ErrEmptyString      = errors.New("string parameter cannot be empty")
	ErrNilParameter     = errors.New("parameter cannot be nil")
	ErrNotFound         = errors.New("record not found")
	ErrInvalidDateRange = errors.New("start date must be before end date")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of bank transactions.
func validateTransactions(transactions []model.BankTransaction) error {
	for i := range transactions {
		if err := transactions[i].Validate(); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateEntries validates a slice of ledger entries.
func validateEntries(entries []model.LedgerEntry) error {
	for i := range entries {
		if err := entries[i].Validate(); err != nil {
			return fmt.Errorf("entry at index %d: %w", i, err)
		}
	}
	return nil
}
