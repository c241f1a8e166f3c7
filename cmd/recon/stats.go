package main

import (
	"fmt"
	"os"
	"time"

	"github.com/contaflow/recon-engine/internal/cli"
	"github.com/spf13/cobra"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show classifier statistics and the pending review queue",
		RunE:  runStats,
	}

	cmd.Flags().Int("limit", 20, "maximum review items to show")
	cmd.Flags().String("client", "", "also show reconciliation counts for this client")
	cmd.Flags().String("from", "", "period start for --client counts, YYYY-MM-DD")
	cmd.Flags().String("to", "", "period end for --client counts, YYYY-MM-DD")

	return cmd
}

func runStats(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	clientID, _ := cmd.Flags().GetString("client")

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

	cli.RenderClassifierStats(os.Stdout, engine.Model().Statistics())
	fmt.Println()

	items, err := store.GetPendingReviewItems(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to load review queue: %w", err)
	}
	cli.RenderReviewQueue(os.Stdout, items)

	if clientID == "" {
		return nil
	}

	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")
	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return fmt.Errorf("--client requires a valid --from date: %w", err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return fmt.Errorf("--client requires a valid --to date: %w", err)
	}
	to = to.Add(24*time.Hour - time.Nanosecond)

	records, err := store.GetReconciliationRecords(ctx, clientID, from, to)
	if err != nil {
		return fmt.Errorf("failed to load reconciliation records: %w", err)
	}
	entries, err := store.GetUnreconciledEntries(ctx, clientID, from, to)
	if err != nil {
		return fmt.Errorf("failed to load unreconciled entries: %w", err)
	}

	fmt.Println()
	fmt.Println(cli.TitleStyle.Render("Reconciliation " + clientID))
	byResolver := make(map[string]int)
	for _, r := range records {
		byResolver[string(r.ResolvedBy)]++
	}
	fmt.Printf("  reconciled pairs:      %d\n", len(records))
	for resolver, n := range byResolver {
		fmt.Printf("    %-20s %d\n", resolver, n)
	}
	fmt.Printf("  unreconciled entries:  %d\n", len(entries))

	return nil
}
