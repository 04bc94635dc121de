// Package qa runs the per-document question-answering pass: a Worker handles
// one document end to end, a Mapper fans Workers out over the whole corpus
// under a concurrency cap.
package qa

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/logging"
	"corpusqa/internal/prompts"
)

// maxHistoryTurns caps how many prior exchanges the interactive mode folds
// into the prompt.
const maxHistoryTurns = 5

// historyMarker is the split point inside single-QA templates where prior
// conversation turns are inserted, between the document and the question.
const historyMarker = "\n---\n"

// Exchange is one prior question/answer turn of an interactive session.
type Exchange struct {
	Question string
	Answer   string
}

// Worker answers a question against a single document. It is stateless and
// safe to share across goroutines.
type Worker struct {
	Backend   llm.Generator
	Templates *prompts.Loader
	Retry     RetryPolicy
	Options   llm.Options
	Log       *logging.Logger
}

// Answer loads the document, renders the prompt and queries the backend,
// retrying on short answers per the retry policy. Exhausted retries still
// return a result, with Error set; only load/template failures and a backend
// that never produced a response return an error.
func (w *Worker) Answer(ctx context.Context, doc domain.Document, question, templateName string, history []Exchange) (*domain.QAResult, error) {
	start := time.Now()

	loadStart := time.Now()
	text, err := readDocument(doc.Path)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", doc.RelativePath, err)
	}
	loadDur := time.Since(loadStart)

	buildStart := time.Now()
	prompt, err := w.Templates.Execute(prompts.KindSingle, templateName, map[string]string{
		"document":      text,
		"category":      doc.Category,
		"document_name": doc.Name,
		"question":      question,
	})
	if err != nil {
		return nil, fmt.Errorf("build prompt for %s: %w", doc.RelativePath, err)
	}
	prompt = insertHistory(prompt, history)
	buildDur := time.Since(buildStart)

	var (
		resp    *llm.Response
		answer  string
		lastErr error
	)
	queryStart := time.Now()
	for attempt := 1; attempt <= w.Retry.MaxAttempts; attempt++ {
		var r *llm.Response
		r, lastErr = w.Backend.Generate(ctx, prompt, w.Options)
		if lastErr != nil {
			w.Log.Printf("doc %d (%s) attempt %d/%d failed: %v",
				doc.Index, doc.Name, attempt, w.Retry.MaxAttempts, lastErr)
			continue
		}
		resp, answer = r, r.Text
		if w.Retry.Acceptable(answer) {
			break
		}
		w.Log.Printf("doc %d (%s) attempt %d/%d: answer too short (%d runes)",
			doc.Index, doc.Name, attempt, w.Retry.MaxAttempts, utf8.RuneCountInString(answer))
	}
	queryDur := time.Since(queryStart)

	if resp == nil {
		return nil, fmt.Errorf("query backend for %s: %w", doc.RelativePath, lastErr)
	}

	result := &domain.QAResult{
		DocumentPath: doc.RelativePath,
		Question:     question,
		Template:     templateName,
		Answer:       answer,
		Error:        !w.Retry.Acceptable(answer),
		Metadata: domain.ResultMetadata{
			Model:          w.Backend.Model(),
			DocumentLength: utf8.RuneCountInString(text),
			PromptLength:   utf8.RuneCountInString(prompt),
			ContextLength:  w.Options.NumCtx,
			Timing: domain.Timing{
				DocumentLoad: loadDur.Seconds(),
				PromptBuild:  buildDur.Seconds(),
				LLMQuery:     queryDur.Seconds(),
				Total:        time.Since(start).Seconds(),
			},
			Tokens: domain.TokenUsage{
				Prompt:     resp.PromptTokens,
				Completion: resp.CompletionTokens,
				Total:      resp.TotalTokens(),
			},
		},
	}
	if w.Options.NumCtx > 0 {
		result.Metadata.Tokens.Remaining = w.Options.NumCtx - resp.TotalTokens()
	}
	return result, nil
}

// readDocument reads a file as UTF-8, falling back to Shift-JIS for legacy
// corpus exports.
func readDocument(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if utf8.Valid(raw) {
		return string(raw), nil
	}
	decoded, _, err := transform.Bytes(japanese.ShiftJIS.NewDecoder(), raw)
	if err != nil {
		return "", fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return string(decoded), nil
}

// insertHistory places prior conversation turns at the template's split
// marker, keeping only the most recent turns. The last marker is used so
// document text containing a horizontal rule cannot shift the insertion
// point.
func insertHistory(prompt string, history []Exchange) string {
	if len(history) == 0 {
		return prompt
	}
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}

	var b strings.Builder
	b.WriteString("Previous exchanges about this document:\n")
	for _, h := range history {
		fmt.Fprintf(&b, "\nQ: %s\nA: %s\n", h.Question, h.Answer)
	}

	i := strings.LastIndex(prompt, historyMarker)
	if i < 0 {
		return prompt + "\n" + b.String()
	}
	return prompt[:i+len(historyMarker)] + "\n" + b.String() + prompt[i+len(historyMarker):]
}
