package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/ofx"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [files...]",
		Short: "Import bank transactions from OFX/QFX files",
		Long: `Import bank transactions from OFX or QFX statement files exported
from a bank, or ledger entries from a JSON export of the client's ERP.

Examples:
  # Import a single statement
  recon import ~/Downloads/extrato_jan_2026.ofx

  # Import every statement in a directory
  recon import ~/Downloads/extratos/*.ofx

  # Import ledger entries alongside the statements
  recon import --entries ~/exports/acme/ledger.json ~/Downloads/*.ofx`,
		RunE: runImport,
	}

	cmd.Flags().BoolP("dry-run", "d", false, "Preview import without saving")
	cmd.Flags().String("entries", "", "JSON export of ledger entries to import")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	entriesPath, _ := cmd.Flags().GetString("entries")

	if len(args) == 0 && entriesPath == "" {
		return fmt.Errorf("nothing to import: pass OFX files and/or --entries")
	}

	// Expand globs and collect all files
	var allFiles []string
	for _, pattern := range args {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}
		if len(matches) == 0 {
			// If no glob matches, check if it's a direct file
			if _, err := os.Stat(pattern); err == nil {
				allFiles = append(allFiles, pattern)
			} else {
				slog.Warn("No files found matching pattern", "pattern", pattern)
			}
		} else {
			allFiles = append(allFiles, matches...)
		}
	}
	if len(allFiles) == 0 && entriesPath == "" {
		return fmt.Errorf("no files found to import")
	}

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	transactions, err := parseStatements(cmd, allFiles)
	if err != nil {
		return err
	}

	var entries []model.LedgerEntry
	if entriesPath != "" {
		entries, err = loadEntryExport(entriesPath)
		if err != nil {
			return err
		}
	}

	if dryRun {
		slog.Info("Dry run complete, nothing saved",
			"transactions", len(transactions),
			"entries", len(entries))
		return nil
	}

	if len(transactions) > 0 {
		if err := store.SaveTransactions(ctx, transactions); err != nil {
			return fmt.Errorf("failed to save transactions: %w", err)
		}
	}
	if len(entries) > 0 {
		if err := store.SaveLedgerEntries(ctx, entries); err != nil {
			return fmt.Errorf("failed to save ledger entries: %w", err)
		}
	}

	slog.Info("Import complete",
		"transactions", len(transactions),
		"entries", len(entries))

	return nil
}

// parseStatements parses every OFX file, deduplicating transactions by ID
// across files so overlapping statement exports import cleanly.
func parseStatements(cmd *cobra.Command, files []string) ([]model.BankTransaction, error) {
	if len(files) == 0 {
		return nil, nil
	}

	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Parsing statements..."),
	)

	parser := ofx.NewParser()
	seen := make(map[string]bool)
	var all []model.BankTransaction

	for _, path := range files {
		f, err := os.Open(path) //nolint:gosec // operator-supplied path
		if err != nil {
			slog.Error("Failed to open file", "file", path, "error", err)
			_ = bar.Add(1)
			continue
		}

		transactions, err := parser.ParseFile(cmd.Context(), f)
		_ = f.Close()
		if err != nil {
			slog.Error("Failed to parse OFX file", "file", path, "error", err)
			_ = bar.Add(1)
			continue
		}

		added := 0
		for _, tx := range transactions {
			if seen[tx.ID] {
				continue
			}
			seen[tx.ID] = true
			all = append(all, tx)
			added++
		}

		slog.Debug("Processed statement",
			"file", filepath.Base(path),
			"found", len(transactions),
			"added", added,
			"duplicates", len(transactions)-added)
		_ = bar.Add(1)
	}

	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)

	return all, nil
}

// loadEntryExport reads ledger entries from a JSON export. Entries with no
// status default to pending so they enter the classification queue.
func loadEntryExport(path string) ([]model.LedgerEntry, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to read entries export: %w", err)
	}

	var entries []model.LedgerEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse entries export: %w", err)
	}

	for i := range entries {
		if entries[i].Status == "" {
			entries[i].Status = model.StatusUnclassified
		}
		if err := entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("invalid entry %q: %w", entries[i].ID, err)
		}
	}

	return entries, nil
}
