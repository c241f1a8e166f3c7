// Package ofx imports bank statements in OFX/QFX format and converts them to
// bank transactions ready for reconciliation.
package ofx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"

	"github.com/contaflow/recon-engine/internal/model"
)

// Parser implements OFX/QFX file parsing.
type Parser struct{}

// NewParser creates a new OFX parser.
func NewParser() *Parser {
	return &Parser{}
}

// preprocessOFX fixes common formatting issues in bank-exported OFX files.
func (p *Parser) preprocessOFX(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")

	// Fix mixed-case SEVERITY values (should be INFO, WARN, or ERROR)
	severityRegex := regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	content = severityRegex.ReplaceAllStringFunc(content, func(match string) string {
		return strings.ToUpper(match)
	})

	// Fix missing closing angle brackets in SGML-style OFX files
	tagFixRegex := regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
	content = tagFixRegex.ReplaceAllString(content, "$1>")

	return content
}

// ParseFile parses an OFX/QFX stream and returns bank transactions.
func (p *Parser) ParseFile(ctx context.Context, reader io.Reader) ([]model.BankTransaction, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocessOFX(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var transactions []model.BankTransaction
	var bankStmts, ccStmts int

	for _, msg := range resp.Bank {
		if stmt, ok := msg.(*ofxgo.StatementResponse); ok {
			bankStmts++
			transactions = append(transactions, p.processStatement(stmt.BankTranList, string(stmt.BankAcctFrom.AcctID))...)
		}
	}

	for _, msg := range resp.CreditCard {
		if stmt, ok := msg.(*ofxgo.CCStatementResponse); ok {
			ccStmts++
			transactions = append(transactions, p.processStatement(stmt.BankTranList, string(stmt.CCAcctFrom.AcctID))...)
		}
	}

	slog.Info("Parsed OFX file",
		"total_transactions", len(transactions),
		"bank_statements", bankStmts,
		"cc_statements", ccStmts)

	return transactions, nil
}

// ParseDir parses every .ofx/.qfx file in a directory.
func (p *Parser) ParseDir(ctx context.Context, dir string) ([]model.BankTransaction, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var transactions []model.BankTransaction
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".ofx" && ext != ".qfx" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		f, openErr := os.Open(path) // #nosec G304 -- path comes from the scanned directory
		if openErr != nil {
			return nil, fmt.Errorf("failed to open %s: %w", path, openErr)
		}
		txns, parseErr := p.ParseFile(ctx, f)
		_ = f.Close()
		if parseErr != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, parseErr)
		}
		transactions = append(transactions, txns...)
	}
	return transactions, nil
}

func (p *Parser) processStatement(list *ofxgo.TransactionList, account string) []model.BankTransaction {
	if list == nil {
		return nil
	}

	var transactions []model.BankTransaction
	for _, ofxTx := range list.Transactions {
		transactions = append(transactions, p.convertTransaction(ofxTx, account))
	}
	return transactions
}

// convertTransaction maps one OFX transaction onto the reconciliation model.
// OFX uses signed amounts: debits are negative, credits positive.
func (p *Parser) convertTransaction(ofxTx ofxgo.Transaction, account string) model.BankTransaction {
	amount := decimal.NewFromBigRat(&ofxTx.TrnAmt.Rat, 2)

	direction := model.DirectionCredit
	if amount.IsNegative() {
		direction = model.DirectionDebit
	}

	return model.BankTransaction{
		ID:            string(ofxTx.FiTID),
		Date:          ofxTx.DtPosted.Time,
		Amount:        amount,
		Description:   p.extractDescription(ofxTx),
		Direction:     direction,
		SourceAccount: account,
	}
}

// extractDescription picks the most informative text the statement carries.
func (p *Parser) extractDescription(tx ofxgo.Transaction) string {
	// PAYEE, when present, is the cleanest counterparty name
	if tx.Payee != nil && tx.Payee.Name != "" {
		return string(tx.Payee.Name)
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && isGenericDescription(name) {
		name = strings.TrimSpace(string(tx.Memo))
	}
	return name
}

// isGenericDescription checks if a transaction name is too generic to match
// or classify on.
func isGenericDescription(name string) bool {
	generic := []string{
		"DEBIT",
		"CREDIT",
		"PURCHASE",
		"PAYMENT",
		"TED",
		"DOC",
		"PIX",
	}

	upperName := strings.ToUpper(name)
	for _, g := range generic {
		if upperName == g {
			return true
		}
	}
	return false
}
