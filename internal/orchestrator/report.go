package orchestrator

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"corpusqa/internal/domain"
)

// renderReport builds the human-readable aggregate report that is persisted
// as the run's final artifact. It embeds the question, the consolidated
// answer, timing and token statistics and the full processed-document list.
func renderReport(runID string, params domain.Parameters, model, answer string, docs []domain.Document, results []*domain.QAResult, totals domain.ResultTotals) string {
	var b strings.Builder

	b.WriteString("# Aggregate Result\n\n")
	fmt.Fprintf(&b, "Run:       %s\n", runID)
	fmt.Fprintf(&b, "Generated: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "Model:     %s\n", model)
	fmt.Fprintf(&b, "Templates: %s / %s\n", params.SingleTemplate, params.AggregateTemplate)
	if len(params.Categories) > 0 {
		fmt.Fprintf(&b, "Categories: %s\n", strings.Join(params.Categories, ", "))
	}
	fmt.Fprintf(&b, "\n## Question\n\n%s\n", params.Question)
	fmt.Fprintf(&b, "\n## Answer\n\n%s\n", answer)

	b.WriteString("\n## Statistics\n\n")
	fmt.Fprintf(&b, "Documents processed: %d\n", totals.SingleQACount)
	fmt.Fprintf(&b, "Degraded results:    %d\n", totals.ErrorCount)
	if totals.MapSeconds > 0 {
		fmt.Fprintf(&b, "Map phase:           %.1fs\n", totals.MapSeconds)
	}
	fmt.Fprintf(&b, "Reduce phase:        %.1fs\n", totals.ReduceSeconds)
	fmt.Fprintf(&b, "Total tokens:        %d (aggregate call: %d)\n", totals.TotalTokens, totals.AggregateTokens)

	b.WriteString("\n## Documents\n\n")
	tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
	if len(docs) > 0 {
		fmt.Fprintln(tw, "IDX\tCATEGORY\tNAME\tSIZE\tFINGERPRINT")
		for _, d := range docs {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
				d.Index, d.Category, d.Name, humanize.Bytes(uint64(d.Size)), d.Fingerprint)
		}
	} else {
		// Reduce-only resumes have no fresh index; list what the results carry.
		fmt.Fprintln(tw, "N\tDOCUMENT\tTOKENS\tSTATUS")
		for i, r := range results {
			status := "ok"
			if r.Error {
				status = "error"
			}
			fmt.Fprintf(tw, "%d\t%s\t%d\t%s\n", i, r.DocumentPath, r.Metadata.Tokens.Total, status)
		}
	}
	tw.Flush()

	return b.String()
}
