package main

import (
	"fmt"
	"os"

	"github.com/contaflow/recon-engine/internal/cli"
	"github.com/contaflow/recon-engine/internal/common"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/validate"
	"github.com/spf13/cobra"
)

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Cross-validate two ingestion sources for one client period",
		Long: `Compare how two ingestion sources report the same records over a
period and list the field-level discrepancies. Reads the JSON source exports
configured under sources.dir, so it runs without the full pipeline.`,
		RunE: runValidate,
	}

	addScopeFlags(cmd)
	cmd.Flags().String("source-a", string(model.SourceERP), "first source to compare")
	cmd.Flags().String("source-b", string(model.SourceOpenBanking), "second source to compare")

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	scope, err := scopeFromFlags(cmd)
	if err != nil {
		return err
	}
	sourceA, _ := cmd.Flags().GetString("source-a")
	sourceB, _ := cmd.Flags().GetString("source-b")

	fetcher := initSourceFetcher()
	if fetcher == nil {
		return common.NewUserError("sources.dir must point at the JSON source exports", common.ErrMissingConfig)
	}

	checker, err := validate.New(validate.DefaultConfig())
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	a := validate.SourceSet{Source: model.SourceType(sourceA)}
	b := validate.SourceSet{Source: model.SourceType(sourceB)}

	if a.Records, err = fetcher.FetchSourceRecords(ctx, a.Source, scope.ClientID, scope.PeriodStart, scope.PeriodEnd); err != nil {
		return fmt.Errorf("failed to fetch %s records: %w", a.Source, err)
	}
	if b.Records, err = fetcher.FetchSourceRecords(ctx, b.Source, scope.ClientID, scope.PeriodStart, scope.PeriodEnd); err != nil {
		return fmt.Errorf("failed to fetch %s records: %w", b.Source, err)
	}

	result, err := checker.Validate(ctx, a, b)
	if err != nil {
		return err
	}

	fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("Cross-validation %s/%s", scope.ClientID, scope.Account)))
	cli.RenderValidation(os.Stdout, *result)

	return nil
}
