package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/contaflow/recon-engine/internal/classify"
	"github.com/contaflow/recon-engine/internal/config"
	"github.com/contaflow/recon-engine/internal/model"
	"github.com/contaflow/recon-engine/internal/pipeline"
	"github.com/contaflow/recon-engine/internal/service"
	"github.com/contaflow/recon-engine/internal/storage"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// initStorage initializes the storage service with proper path expansion.
func initStorage(ctx context.Context) (service.Storage, error) {
	// Get database path from config
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = "$HOME/.local/share/recon/recon.db"
	}

	// Expand tilde and environment variables
	dbPath = config.ExpandPath(dbPath)

	// Initialize storage
	store, err := storage.NewSQLiteStorage(dbPath)
	if err != nil {
		return nil, err
	}

	// Run migrations
	if err := store.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// initClassifier builds a classification engine seeded with the persisted
// model state, if any.
func initClassifier(ctx context.Context, store service.Storage) (*classify.Engine, error) {
	m := classify.NewModel()
	state, err := store.LoadClassifierState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load classifier state: %w", err)
	}
	if state != nil {
		m.Restore(state)
	}
	return classify.NewEngine(m, classify.DefaultConfig())
}

// addScopeFlags registers the client/account/period flags shared by every
// command that operates on one reconciliation scope.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("client", "", "client identifier (required)")
	cmd.Flags().String("account", "", "bank account identifier (required)")
	cmd.Flags().String("from", "", "period start, YYYY-MM-DD (required)")
	cmd.Flags().String("to", "", "period end, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("client")
	_ = cmd.MarkFlagRequired("account")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
}

// scopeFromFlags parses the scope flags into a pipeline scope.
func scopeFromFlags(cmd *cobra.Command) (pipeline.Scope, error) {
	clientID, _ := cmd.Flags().GetString("client")
	account, _ := cmd.Flags().GetString("account")
	fromStr, _ := cmd.Flags().GetString("from")
	toStr, _ := cmd.Flags().GetString("to")

	from, err := time.Parse("2006-01-02", fromStr)
	if err != nil {
		return pipeline.Scope{}, fmt.Errorf("invalid --from date %q: %w", fromStr, err)
	}
	to, err := time.Parse("2006-01-02", toStr)
	if err != nil {
		return pipeline.Scope{}, fmt.Errorf("invalid --to date %q: %w", toStr, err)
	}

	scope := pipeline.Scope{
		ClientID:    clientID,
		Account:     account,
		PeriodStart: from,
		PeriodEnd:   to.Add(24*time.Hour - time.Nanosecond),
	}
	if err := scope.Validate(); err != nil {
		return pipeline.Scope{}, err
	}
	return scope, nil
}

// fileSourceFetcher reads source records from JSON exports on disk, one file
// per source named <dir>/<source>.json. It stands in for the ERP, open
// banking and fiscal API connectors when running against exported data.
type fileSourceFetcher struct {
	dir string
}

// FetchSourceRecords ignores the client id: exports are already per-client.
func (f *fileSourceFetcher) FetchSourceRecords(_ context.Context, source model.SourceType, _ string, periodStart, periodEnd time.Time) ([]model.SourceRecord, error) {
	path := filepath.Join(f.dir, fmt.Sprintf("%s.json", source))
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("source export %s: %w", path, err)
	}

	var records []model.SourceRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("source export %s: %w", path, err)
	}

	filtered := make([]model.SourceRecord, 0, len(records))
	for _, r := range records {
		if r.Date.Before(periodStart) || r.Date.After(periodEnd) {
			continue
		}
		r.Source = source
		filtered = append(filtered, r)
	}

	return filtered, nil
}

// initSourceFetcher returns a file-backed source fetcher when the operator
// configured an export directory, nil otherwise.
func initSourceFetcher() service.SourceFetcher {
	dir := viper.GetString("sources.dir")
	if dir == "" {
		return nil
	}
	return &fileSourceFetcher{dir: config.ExpandPath(dir)}
}
