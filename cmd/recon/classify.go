package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func classifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "classify",
		Short: "Classify unclassified ledger entries",
		Long: `Run the frequency classifier over a client's unclassified ledger
entries. Confident suggestions are applied directly; low-confidence ones are
parked as pending_review for a human decision, which is applied with
"recon classify correct".`,
		RunE: runClassify,
	}

	cmd.Flags().String("client", "", "client identifier (required)")
	cmd.Flags().String("from", "", "period start, YYYY-MM-DD (required)")
	cmd.Flags().String("to", "", "period end, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	cmd.AddCommand(classifyCorrectCmd())

	return cmd
}

func runClassify(cmd *cobra.Command, _ []string) error {
	clientID, _ := cmd.Flags().GetString("client")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return fmt.Errorf("invalid --from date %q: %w", fromStr, err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return fmt.Errorf("invalid --to date %q: %w", toStr, err)
	}
	to = to.Add(24*time.Hour - time.Nanosecond)

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine, err := initClassifier(ctx, store)
	if err != nil {
		return err
	}

	entries, err := store.GetLedgerEntries(ctx, clientID, from, to)
	if err != nil {
		return fmt.Errorf("failed to load entries: %w", err)
	}
	if len(entries) == 0 {
		slog.Info("No entries in period", "client", clientID)
		return nil
	}

	classified, err := engine.ClassifyEntries(ctx, entries)
	if err != nil {
		return err
	}

	if err := store.SaveLedgerEntries(ctx, classified); err != nil {
		return fmt.Errorf("failed to save classified entries: %w", err)
	}
	if err := store.SaveClassifierState(ctx, engine.Model().State()); err != nil {
		return fmt.Errorf("failed to save classifier state: %w", err)
	}

	return nil
}

func classifyCorrectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "correct <entry-id> <category>",
		Short: "Apply a manual category decision to one entry",
		Long: `Apply a human category decision to a ledger entry. The decision is
fed back into the classifier as training signal, so future entries with
similar descriptions inherit it.`,
		Args: cobra.ExactArgs(2),
		RunE: runClassifyCorrect,
	}
}

func runClassifyCorrect(cmd *cobra.Command, args []string) error {
	entryID, category := args[0], args[1]

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	engine, err := initClassifier(ctx, store)
	if err != nil {
		return err
	}

	entry, err := store.GetLedgerEntry(ctx, entryID)
	if err != nil {
		return fmt.Errorf("failed to load entry %s: %w", entryID, err)
	}

	if err := engine.Reclassify(ctx, entry, category); err != nil {
		return err
	}

	if err := store.UpdateLedgerEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to save entry: %w", err)
	}
	if err := store.SaveClassifierState(ctx, engine.Model().State()); err != nil {
		return fmt.Errorf("failed to save classifier state: %w", err)
	}

	slog.Info("Entry reclassified", "entry_id", entryID, "category", category)
	return nil
}
