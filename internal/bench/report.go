package bench

import (
	"fmt"
	"strings"
	"time"
)

// Markdown renders a benchmark report for writing to disk, with a YAML
// frontmatter header so downstream tooling can index the file.
func Markdown(r *Report) string {
	var b strings.Builder

	b.WriteString("---\n")
	fmt.Fprintf(&b, "session: %s\n", r.SessionID)
	fmt.Fprintf(&b, "question_set: %s\n", r.Set.Name)
	fmt.Fprintf(&b, "template: %s\n", r.Template)
	fmt.Fprintf(&b, "model: %s\n", r.Model)
	fmt.Fprintf(&b, "generated: %s\n", time.Now().Format(time.RFC3339))
	if r.DryRun {
		b.WriteString("dry_run: true\n")
	}
	b.WriteString("---\n\n")

	fmt.Fprintf(&b, "# Benchmark: %s\n", r.Set.Name)
	if r.Set.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", r.Set.Description)
	}
	if !r.DryRun {
		fmt.Fprintf(&b, "\n%d answers, %d failed, %.1fs total\n",
			len(r.Answers), r.Failed, r.Elapsed.Seconds())
	}

	for _, a := range r.Answers {
		fmt.Fprintf(&b, "\n## %s: %s\n\n", a.QuestionID, a.Question)
		fmt.Fprintf(&b, "Document: %s\n", a.Document)
		if r.DryRun {
			continue
		}
		fmt.Fprintf(&b, "Time: %.1fs, tokens: %d\n\n", a.Seconds, a.Tokens)
		if a.Error {
			b.WriteString("**FAILED**\n\n")
		}
		b.WriteString(a.Answer)
		b.WriteString("\n")
		if a.Expected != "" {
			b.WriteString("\nExpected:\n")
			for _, line := range strings.Split(strings.TrimRight(a.Expected, "\n"), "\n") {
				fmt.Fprintf(&b, "> %s\n", line)
			}
		}
	}
	return b.String()
}
