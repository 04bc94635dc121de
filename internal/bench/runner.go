package bench

import (
	"context"
	"time"

	"github.com/google/uuid"

	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/logging"
	"corpusqa/internal/prompts"
	"corpusqa/internal/qa"
)

// RunOptions tune one benchmark execution.
type RunOptions struct {
	// Template overrides the set's template; empty falls back to the set,
	// then to "baseline".
	Template string

	// DryRun resolves every question's target document and stops before any
	// backend call. Nothing is recorded.
	DryRun bool
}

// Report is the in-memory outcome of one benchmark execution.
type Report struct {
	SessionID string
	Set       *QuestionSet
	Template  string
	Model     string
	Answers   []*Answer
	Failed    int
	Elapsed   time.Duration
	DryRun    bool
}

// Runner executes question sets through the same QA worker the map phase
// uses, so benchmark numbers reflect production behavior.
type Runner struct {
	Backend   llm.Generator
	Templates *prompts.Loader
	Retry     qa.RetryPolicy
	Options   llm.Options
	Parallel  int
	Store     *Store
	Log       *logging.Logger
}

func (r *Runner) template(set *QuestionSet, opts RunOptions) string {
	switch {
	case opts.Template != "":
		return opts.Template
	case set.Template != "":
		return set.Template
	default:
		return "baseline"
	}
}

// Run executes every question of the set. Questions with a document prefix
// run against that one document; questions without one fan out over all
// given documents. A failed question never aborts the session.
func (r *Runner) Run(ctx context.Context, set *QuestionSet, docs []domain.Document, opts RunOptions) (*Report, error) {
	template := r.template(set, opts)
	report := &Report{
		SessionID: uuid.NewString(),
		Set:       set,
		Template:  template,
		Model:     r.Backend.Model(),
		DryRun:    opts.DryRun,
	}

	// Resolve all targets up front so a bad prefix surfaces before any
	// backend time is spent.
	targets := make(map[string][]domain.Document, len(set.Questions))
	for _, q := range set.Questions {
		if q.Document == "" {
			targets[q.ID] = docs
			continue
		}
		doc, err := ResolveDocument(docs, q.Document)
		if err != nil {
			return nil, err
		}
		targets[q.ID] = []domain.Document{doc}
	}

	if opts.DryRun {
		for _, q := range set.Questions {
			for _, doc := range targets[q.ID] {
				report.Answers = append(report.Answers, &Answer{
					SessionID:  report.SessionID,
					QuestionID: q.ID,
					Question:   q.Question,
					Document:   doc.RelativePath,
					Expected:   q.Expected,
				})
			}
		}
		return report, nil
	}

	started := time.Now()
	if r.Store != nil {
		if err := r.Store.CreateSession(&Session{
			ID:          report.SessionID,
			QuestionSet: set.Name,
			Template:    template,
			Model:       report.Model,
			StartedAt:   started,
			Total:       len(set.Questions),
		}); err != nil {
			return nil, err
		}
	}

	worker := &qa.Worker{
		Backend:   r.Backend,
		Templates: r.Templates,
		Retry:     r.Retry,
		Options:   r.Options,
		Log:       r.Log,
	}
	mapper := &qa.Mapper{Worker: worker, Parallel: r.Parallel, Log: r.Log}

	for _, q := range set.Questions {
		results, err := mapper.RunAll(ctx, targets[q.ID], q.Question, template)
		if err != nil {
			return nil, err
		}
		for _, res := range results {
			a := &Answer{
				SessionID:  report.SessionID,
				QuestionID: q.ID,
				Question:   q.Question,
				Document:   res.DocumentPath,
				Answer:     res.Answer,
				Expected:   q.Expected,
				Error:      res.Error,
				Seconds:    res.Metadata.Timing.Total,
				Tokens:     res.Metadata.Tokens.Total,
			}
			if a.Error {
				report.Failed++
			}
			report.Answers = append(report.Answers, a)
			if r.Store != nil {
				if err := r.Store.SaveAnswer(a); err != nil {
					return nil, err
				}
			}
		}
	}
	report.Elapsed = time.Since(started)

	if r.Store != nil {
		if err := r.Store.FinishSession(report.SessionID, time.Now(), report.Failed); err != nil {
			return nil, err
		}
	}
	r.Log.Printf("bench %s: %d questions, %d failed, %.1fs",
		set.Name, len(set.Questions), report.Failed, report.Elapsed.Seconds())
	return report, nil
}
