package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/contaflow/recon-engine/internal/cli"
	"github.com/spf13/cobra"
)

func resolveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Inspect and revert autonomous resolution actions",
		Long: `Inspect the audit log of autonomous mutations and revert individual
actions. Every correction, fabrication and duplicate suppression the resolver
makes is recorded with before/after state, so any single action can be undone
without replaying the run.`,
	}

	cmd.AddCommand(resolveLogCmd())
	cmd.AddCommand(resolveUndoCmd())
	cmd.AddCommand(resolveReviewCmd())

	return cmd
}

func resolveLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "List the audit actions recorded by a run",
		RunE:  runResolveLog,
	}
	cmd.Flags().String("run", "", "run identifier (required)")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func runResolveLog(cmd *cobra.Command, _ []string) error {
	runID, _ := cmd.Flags().GetString("run")

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	actions, err := store.GetAuditActionsByRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load audit actions: %w", err)
	}

	fmt.Println(cli.TitleStyle.Render("Audit actions for run " + runID))
	if len(actions) == 0 {
		fmt.Println(cli.SubtleStyle.Render("  none recorded"))
		return nil
	}
	for _, a := range actions {
		line := fmt.Sprintf("  %s  %-15s entry %s", a.ID, a.Kind, a.EntryID)
		if a.Undone {
			line += "  " + cli.WarningStyle.Render("(undone)")
		}
		fmt.Println(line)
	}
	fmt.Fprintln(os.Stdout)
	fmt.Println(cli.SubtleStyle.Render("revert one with: recon resolve undo <action-id>"))

	return nil
}

func resolveUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <action-id>",
		Short: "Revert a single autonomous action",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolveUndo,
	}
}

func runResolveUndo(cmd *cobra.Command, args []string) error {
	actionID := args[0]

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	action, err := store.GetAuditAction(ctx, actionID)
	if err != nil {
		return fmt.Errorf("failed to load action %s: %w", actionID, err)
	}

	if err := store.UndoAuditAction(ctx, actionID); err != nil {
		return fmt.Errorf("failed to undo action %s: %w", actionID, err)
	}

	slog.Info("Action reverted",
		"action_id", actionID,
		"kind", action.Kind,
		"entry_id", action.EntryID)
	return nil
}

func resolveReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <item-id>",
		Short: "Mark a review queue item as handled",
		Args:  cobra.ExactArgs(1),
		RunE:  runResolveReview,
	}
}

func runResolveReview(cmd *cobra.Command, args []string) error {
	itemID := args[0]

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := store.ResolveReviewItem(ctx, itemID); err != nil {
		return fmt.Errorf("failed to resolve review item %s: %w", itemID, err)
	}

	slog.Info("Review item resolved", "item_id", itemID)
	return nil
}
