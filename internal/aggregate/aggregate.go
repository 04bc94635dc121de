// Package aggregate implements the reduce phase: all per-document answers
// are folded into one consolidated prompt and the backend is asked once for
// the final combined answer.
package aggregate

import (
	"context"
	"fmt"
	"strings"

	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/logging"
	"corpusqa/internal/prompts"
)

// Aggregator performs the single consolidation call of a run.
type Aggregator struct {
	Backend   llm.Generator
	Templates *prompts.Loader
	Options   llm.Options
	Log       *logging.Logger
}

// BuildPrompt renders the consolidated reduce prompt. Every result appears
// as its own numbered block carrying the document's identity, in the order
// given, so the backend can attribute claims to documents.
func (a *Aggregator) BuildPrompt(question string, results []*domain.QAResult, templateName string) (string, error) {
	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "### Document %d: %s\n", i+1, r.DocumentPath)
		if r.Error {
			b.WriteString("(this document's answer is degraded; its QA pass failed)\n")
		}
		b.WriteString(r.Answer)
		b.WriteString("\n\n")
	}

	return a.Templates.Execute(prompts.KindAggregate, templateName, map[string]string{
		"question":         question,
		"document_answers": strings.TrimRight(b.String(), "\n"),
	})
}

// Aggregate invokes the backend exactly once with the consolidated prompt.
// There is no retry here: a failed reduce is re-run against the same
// persisted map results.
func (a *Aggregator) Aggregate(ctx context.Context, question string, results []*domain.QAResult, templateName string) (string, domain.TokenUsage, error) {
	prompt, err := a.BuildPrompt(question, results, templateName)
	if err != nil {
		return "", domain.TokenUsage{}, fmt.Errorf("build aggregate prompt: %w", err)
	}

	a.Log.Printf("reduce: consolidating %d answers (prompt %d bytes)", len(results), len(prompt))
	resp, err := a.Backend.Generate(ctx, prompt, a.Options)
	if err != nil {
		return "", domain.TokenUsage{}, fmt.Errorf("aggregate call: %w", err)
	}

	usage := domain.TokenUsage{
		Prompt:     resp.PromptTokens,
		Completion: resp.CompletionTokens,
		Total:      resp.TotalTokens(),
	}
	if a.Options.NumCtx > 0 {
		usage.Remaining = a.Options.NumCtx - usage.Total
	}
	return resp.Text, usage, nil
}
