package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Direction indicates whether a bank transaction credits or debits the account.
type Direction string

const (
	// DirectionCredit represents money entering the account.
	DirectionCredit Direction = "credit"
	// DirectionDebit represents money leaving the account.
	DirectionDebit Direction = "debit"
)

// BankTransaction represents a single imported bank transaction.
// Transactions are owned by the ingestion side and are read-only to the
// reconciliation core: the core never mutates or deletes one.
type BankTransaction struct {
	Date          time.Time
	ID            string
	Description   string
	SourceAccount string
	Direction     Direction
	Amount        decimal.Decimal
}

// Validate checks that the transaction is well formed enough to enter the core.
func (t *BankTransaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return &FieldError{Field: "id", Reason: "must not be empty"}
	}
	if t.Date.IsZero() {
		return &FieldError{Field: "date", Reason: "must be set"}
	}
	if t.Direction != DirectionCredit && t.Direction != DirectionDebit {
		return &FieldError{Field: "direction", Reason: "must be credit or debit"}
	}
	return nil
}

// AbsAmount returns the unsigned monetary value. Sign conventions differ per
// bank; matching always compares magnitudes and reconciles sign via Direction.
func (t *BankTransaction) AbsAmount() decimal.Decimal {
	return t.Amount.Abs()
}

// FieldError reports a malformed field on an inbound record.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}
