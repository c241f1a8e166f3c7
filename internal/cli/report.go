package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/contaflow/recon-engine/internal/classify"
	"github.com/contaflow/recon-engine/internal/model"
)

// ReconciliationReport is the printable summary of one pipeline run.
type ReconciliationReport struct {
	RunID                string
	ClientID             string
	Account              string
	AutoMatched          int
	AssistedMatched      int
	UnmatchedTxns        int
	UnmatchedEntries     int
	DuplicatesResolved   int
	DivergencesCorrected int
	EntriesCreated       int
	TransactionsIgnored  int
	StillPending         int
	Validations          []model.ValidationResult
	StageFailures        []string
}

// RenderReconciliation writes a human-readable run summary.
func RenderReconciliation(w io.Writer, r ReconciliationReport) {
	fmt.Fprintln(w, TitleStyle.Render(fmt.Sprintf("Reconciliation %s/%s", r.ClientID, r.Account)))
	fmt.Fprintln(w, SubtleStyle.Render("run "+r.RunID))
	fmt.Fprintln(w)

	fmt.Fprintln(w, BoldStyle.Render("Matching"))
	fmt.Fprintf(w, "  auto-matched:          %d\n", r.AutoMatched)
	fmt.Fprintf(w, "  assisted matches:      %d\n", r.AssistedMatched)
	fmt.Fprintf(w, "  unmatched transactions: %d\n", r.UnmatchedTxns)
	fmt.Fprintf(w, "  unmatched entries:     %d\n", r.UnmatchedEntries)
	fmt.Fprintln(w)

	fmt.Fprintln(w, BoldStyle.Render("Resolution"))
	fmt.Fprintf(w, "  duplicates resolved:   %d\n", r.DuplicatesResolved)
	fmt.Fprintf(w, "  divergences corrected: %d\n", r.DivergencesCorrected)
	fmt.Fprintf(w, "  entries created:       %d\n", r.EntriesCreated)
	fmt.Fprintf(w, "  transfers ignored:     %d\n", r.TransactionsIgnored)
	if r.StillPending > 0 {
		fmt.Fprintf(w, "  %s\n", WarningStyle.Render(fmt.Sprintf("still pending:         %d", r.StillPending)))
	} else {
		fmt.Fprintf(w, "  %s\n", SuccessStyle.Render("still pending:         0"))
	}

	if len(r.Validations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, BoldStyle.Render("Cross-validation"))
		for _, v := range r.Validations {
			RenderValidation(w, v)
		}
	}

	if len(r.StageFailures) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, ErrorStyle.Render("Stage failures"))
		for _, f := range r.StageFailures {
			fmt.Fprintf(w, "  %s\n", ErrorStyle.Render(f))
		}
	}
}

// RenderValidation writes one source-pair comparison.
func RenderValidation(w io.Writer, v model.ValidationResult) {
	pair := fmt.Sprintf("%s vs %s", v.SourceA, v.SourceB)
	if v.Skipped {
		fmt.Fprintf(w, "  %s: %s\n", pair, WarningStyle.Render("skipped: "+v.SkipReason))
		return
	}

	fmt.Fprintf(w, "  %s: %d joined, match rate %.0f%%\n", pair, v.JoinedPairs, v.MatchRate*100)
	if len(v.OnlyInA) > 0 {
		fmt.Fprintf(w, "    only in %s: %d\n", v.SourceA, len(v.OnlyInA))
	}
	if len(v.OnlyInB) > 0 {
		fmt.Fprintf(w, "    only in %s: %d\n", v.SourceB, len(v.OnlyInB))
	}
	for _, d := range v.Discrepancies {
		style := SubtleStyle
		switch d.Severity {
		case model.SeverityHigh:
			style = ErrorStyle
		case model.SeverityMedium:
			style = WarningStyle
		}
		fmt.Fprintf(w, "    %s\n", style.Render(fmt.Sprintf("[%s] %s: %s (%s=%s, %s=%s)",
			d.Severity, d.Field, d.Description, v.SourceA, d.SourceValue, v.SourceB, d.TargetValue)))
	}
}

// RenderReviewQueue writes the pending human review items.
func RenderReviewQueue(w io.Writer, items []model.ReviewItem) {
	fmt.Fprintln(w, TitleStyle.Render("Pending review"))
	if len(items) == 0 {
		fmt.Fprintln(w, SuccessStyle.Render("  queue is empty"))
		return
	}
	for _, item := range items {
		fmt.Fprintf(w, "  %s  %s  %s\n",
			SubtleStyle.Render(item.CreatedAt.Format("2006-01-02")),
			BoldStyle.Render(string(item.Kind)),
			item.Reason)
		fmt.Fprintf(w, "      %s\n", SubtleStyle.Render("id "+item.ID+"  ref "+item.RefID))
	}
}

// RenderClassifierStats writes the classifier's training statistics with
// categories ordered by example count.
func RenderClassifierStats(w io.Writer, stats classify.Statistics) {
	fmt.Fprintln(w, TitleStyle.Render("Classifier"))
	fmt.Fprintf(w, "  trained examples:    %d\n", stats.TrainedExamples)
	fmt.Fprintf(w, "  estimated precision: %.0f%%\n", stats.EstimatedPrecision*100)

	if len(stats.PerCategoryCounts) == 0 {
		return
	}

	type categoryCount struct {
		name  string
		count int
	}
	counts := make([]categoryCount, 0, len(stats.PerCategoryCounts))
	for name, n := range stats.PerCategoryCounts {
		counts = append(counts, categoryCount{name, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].name < counts[j].name
	})

	fmt.Fprintln(w, BoldStyle.Render("  categories:"))
	for _, c := range counts {
		fmt.Fprintf(w, "    %-30s %d\n", c.name, c.count)
	}
}
