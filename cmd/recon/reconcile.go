package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/contaflow/recon-engine/internal/banking"
	"github.com/contaflow/recon-engine/internal/cli"
	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/pipeline"
	"github.com/contaflow/recon-engine/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run the full reconciliation pipeline for one client period",
		Long: `Run the full pipeline for one client's ledger against one bank account
over a period: fetch, match, cross-validate, resolve. Autonomous mutations are
persisted with reversible audit actions; everything else lands in the review
queue.`,
		RunE: runReconcile,
	}

	addScopeFlags(cmd)
	cmd.Flags().Bool("fetch", false, "Fetch fresh transactions from the bank before reconciling")
	cmd.Flags().Bool("no-create", false, "Do not fabricate ledger entries for unmatched transactions")

	return cmd
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	scope, err := scopeFromFlags(cmd)
	if err != nil {
		return err
	}
	fetch, _ := cmd.Flags().GetBool("fetch")
	noCreate, _ := cmd.Flags().GetBool("no-create")

	ctx := cmd.Context()
	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer func() { _ = store.Close() }()

	classifier, err := initClassifier(ctx, store)
	if err != nil {
		return err
	}

	cfg := pipeline.DefaultConfig()
	if noCreate {
		cfg.Resolution.CreateMissingEntries = false
	}

	deps := pipeline.Deps{
		Storage:    store,
		Sources:    initSourceFetcher(),
		Notifier:   &logNotifier{},
		Classifier: classifier,
	}
	if fetch {
		bank, bankErr := initBankClient()
		if bankErr != nil {
			return bankErr
		}
		deps.Bank = bank
	}

	p, err := pipeline.New(cfg, deps)
	if err != nil {
		return err
	}

	result, err := p.Run(ctx, scope)
	if err != nil {
		return err
	}

	printRunResult(scope, result)
	return result.Err()
}

func printRunResult(scope pipeline.Scope, result *pipeline.RunResult) {
	report := cli.ReconciliationReport{
		RunID:       result.RunID,
		ClientID:    scope.ClientID,
		Account:     scope.Account,
		Validations: result.Validations,
	}
	if result.Match != nil {
		for _, rec := range result.Match.Records {
			if rec.ResolvedBy == model.ResolvedAutomatic {
				report.AutoMatched++
			} else {
				report.AssistedMatched++
			}
		}
		report.UnmatchedTxns = len(result.Match.UnmatchedTransactions)
		report.UnmatchedEntries = len(result.Match.UnmatchedEntries)
	}
	if result.Resolution != nil {
		report.DuplicatesResolved = result.Resolution.DuplicatesResolved
		report.DivergencesCorrected = result.Resolution.DivergencesCorrected
		report.EntriesCreated = result.Resolution.EntriesCreated
		report.TransactionsIgnored = result.Resolution.TransactionsIgnored
		report.StillPending = result.Resolution.StillPending
	}
	for _, se := range result.StageErrors {
		report.StageFailures = append(report.StageFailures, se.Error())
	}
	cli.RenderReconciliation(os.Stdout, report)
}

// initBankClient builds the open banking client from configuration.
func initBankClient() (service.TransactionFetcher, error) {
	cfg := banking.Config{
		ClientID:    viper.GetString("plaid.client_id"),
		Secret:      viper.GetString("plaid.secret"),
		Environment: viper.GetString("plaid.environment"),
		AccessToken: viper.GetString("plaid.access_token"),
	}
	client, err := banking.NewClient(cfg)
	if err != nil {
		return nil, common.NewUserError("bank fetch requires plaid.* settings in the config file", err)
	}
	return client, nil
}

// logNotifier surfaces review items in the logs. A webhook or messaging
// notifier can replace it without touching the pipeline.
type logNotifier struct{}

func (n *logNotifier) NotifyReviewQueue(_ context.Context, item model.ReviewItem) error {
	slog.Info("Review item queued",
		"id", item.ID,
		"kind", item.Kind,
		"ref_id", item.RefID,
		"reason", item.Reason)
	return nil
}
