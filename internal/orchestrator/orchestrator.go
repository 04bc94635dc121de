// Package orchestrator drives one run through its phases: setup (index the
// corpus, allocate run state), map (parallel per-document QA), reduce
// (consolidation call) and finalize (report plus terminal metadata). Phase
// failures are written to the run's metadata with a phase-specific status
// before being returned, so a dead run shows where it died.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"corpusqa/internal/aggregate"
	"corpusqa/internal/domain"
	"corpusqa/internal/indexer"
	"corpusqa/internal/llm"
	"corpusqa/internal/logging"
	"corpusqa/internal/prompts"
	"corpusqa/internal/qa"
	"corpusqa/internal/runstore"
)

// Request describes a new map-reduce execution.
type Request struct {
	RunID      string // optional explicit run id
	CorpusRoot string
	Pattern    string
	Parameters domain.Parameters
}

// ResumeRequest re-enters the reduce phase of an existing run using its
// persisted map results. The aggregate template may differ from the one the
// run was created with.
type ResumeRequest struct {
	RunID             string
	AggregateTemplate string
}

// Outcome is what a finished run hands back to the caller.
type Outcome struct {
	RunID     string
	Answer    string
	Report    string
	Documents []domain.Document
	Results   []*domain.QAResult
	Totals    domain.ResultTotals
}

// Orchestrator wires the engine's components together. One orchestration at
// a time per run id; the run store's metadata merge is not concurrency-safe
// across orchestrations of the same run.
type Orchestrator struct {
	Backend   llm.Generator
	Templates *prompts.Loader
	Store     *runstore.Store
	Options   llm.Options
	Retry     qa.RetryPolicy

	// Echo, when set, mirrors the run log to it (normally stderr).
	Echo io.Writer
}

// Run executes a complete new run. On phase failure the returned error wraps
// the phase error and the run's metadata carries the matching status.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Outcome, error) {
	// SETUP: allocate run state first so even an indexing failure leaves an
	// inspectable run directory behind.
	runID, err := o.Store.CreateRun(req.RunID)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	log, err := logging.New(o.Store.RunDir(runID))
	if err != nil {
		return nil, err
	}
	defer log.Close()
	log = log.WithEcho(o.Echo)
	log.Printf("run %s: question %q", runID, req.Parameters.Question)

	docs, err := o.setup(runID, req, log)
	if err != nil {
		o.recordFailure(runID, domain.StatusSetupFailed, err, log)
		return nil, fmt.Errorf("setup: %w", err)
	}

	// MAP
	mapStart := time.Now()
	results, err := o.mapPhase(ctx, runID, docs, req.Parameters, log)
	if err != nil {
		o.recordFailure(runID, domain.StatusSingleQAFailed, err, log)
		return nil, fmt.Errorf("map phase: %w", err)
	}
	mapSeconds := time.Since(mapStart).Seconds()

	// REDUCE
	reduceStart := time.Now()
	answer, usage, err := o.reduce(ctx, req.Parameters.Question, results, req.Parameters.AggregateTemplate, log)
	if err != nil {
		o.recordFailure(runID, domain.StatusFailed, err, log)
		return nil, fmt.Errorf("reduce phase: %w", err)
	}
	reduceSeconds := time.Since(reduceStart).Seconds()

	// FINALIZE
	totals := buildTotals(results, usage, mapSeconds, reduceSeconds)
	out := &Outcome{
		RunID:     runID,
		Answer:    answer,
		Documents: docs,
		Results:   results,
		Totals:    totals,
	}
	out.Report = renderReport(runID, req.Parameters, o.Backend.Model(), answer, docs, results, totals)

	if err := o.finalize(runID, out, log); err != nil {
		o.recordFailure(runID, domain.StatusFinalizationFailed, err, log)
		return nil, fmt.Errorf("finalize: %w", err)
	}
	log.Printf("run %s completed: %d documents, %d errors, map %.1fs, reduce %.1fs",
		runID, totals.SingleQACount, totals.ErrorCount, totals.MapSeconds, totals.ReduceSeconds)
	return out, nil
}

// ResumeReduce skips setup and map entirely: it loads the persisted map
// results of an existing run and re-runs reduce plus finalize. Safe to call
// repeatedly against the same run id; the aggregate result is overwritten.
func (o *Orchestrator) ResumeReduce(ctx context.Context, req ResumeRequest) (*Outcome, error) {
	meta, err := o.Store.LoadMetadata(req.RunID)
	if err != nil {
		return nil, err
	}

	log, err := logging.New(o.Store.RunDir(req.RunID))
	if err != nil {
		return nil, err
	}
	defer log.Close()
	log = log.WithEcho(o.Echo)

	params := parametersFrom(meta)
	if req.AggregateTemplate != "" {
		params.AggregateTemplate = req.AggregateTemplate
	}
	if params.AggregateTemplate == "" {
		params.AggregateTemplate = "consensus"
	}

	results, err := o.Store.LoadSingleResults(req.RunID)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("run %s has no persisted map results to reduce", req.RunID)
	}
	if err := o.Store.UpdateMetadata(req.RunID, runstore.Metadata{
		"mode": string(domain.ModeResumeReduce),
	}); err != nil {
		return nil, err
	}
	log.Printf("resume reduce for %s: %d persisted results, template %s",
		req.RunID, len(results), params.AggregateTemplate)

	reduceStart := time.Now()
	answer, usage, err := o.reduce(ctx, params.Question, results, params.AggregateTemplate, log)
	if err != nil {
		o.recordFailure(req.RunID, domain.StatusFailed, err, log)
		return nil, fmt.Errorf("reduce phase: %w", err)
	}
	reduceSeconds := time.Since(reduceStart).Seconds()

	totals := buildTotals(results, usage, 0, reduceSeconds)
	out := &Outcome{
		RunID:   req.RunID,
		Answer:  answer,
		Results: results,
		Totals:  totals,
	}
	out.Report = renderReport(req.RunID, params, o.Backend.Model(), answer, nil, results, totals)

	if err := o.finalize(req.RunID, out, log); err != nil {
		o.recordFailure(req.RunID, domain.StatusFinalizationFailed, err, log)
		return nil, fmt.Errorf("finalize: %w", err)
	}
	if req.AggregateTemplate != "" {
		if err := o.Store.UpdateMetadata(req.RunID, runstore.Metadata{
			"parameters": params,
		}); err != nil {
			return nil, err
		}
	}
	log.Printf("resume reduce for %s completed", req.RunID)
	return out, nil
}

func (o *Orchestrator) setup(runID string, req Request, log *logging.Logger) ([]domain.Document, error) {
	idx, err := indexer.New(req.CorpusRoot)
	if err != nil {
		return nil, err
	}
	docs, err := idx.Scan(req.Pattern)
	if err != nil {
		return nil, err
	}
	if len(req.Parameters.Categories) > 0 {
		docs = indexer.FilterByCategory(docs, req.Parameters.Categories)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents matched under %s", req.CorpusRoot)
	}

	// Fail on a missing template here, before any backend call is spent.
	if _, _, err := o.Templates.Load(prompts.KindSingle, req.Parameters.SingleTemplate); err != nil {
		return nil, err
	}
	if _, _, err := o.Templates.Load(prompts.KindAggregate, req.Parameters.AggregateTemplate); err != nil {
		return nil, err
	}

	refs := make([]domain.DocumentRef, len(docs))
	for i, d := range docs {
		refs[i] = d.Ref()
	}
	if err := o.Store.UpdateMetadata(runID, runstore.Metadata{
		"status":     string(domain.StatusRunning),
		"mode":       string(domain.ModeNew),
		"parameters": req.Parameters,
		"documents":  refs,
		"model":      o.Backend.Model(),
	}); err != nil {
		return nil, err
	}
	log.Printf("setup: %d documents selected", len(docs))
	return docs, nil
}

func (o *Orchestrator) mapPhase(ctx context.Context, runID string, docs []domain.Document, params domain.Parameters, log *logging.Logger) ([]*domain.QAResult, error) {
	worker := &qa.Worker{
		Backend:   o.Backend,
		Templates: o.Templates,
		Retry:     o.Retry,
		Options:   o.Options,
		Log:       log,
	}
	mapper := &qa.Mapper{
		Worker:   worker,
		Parallel: params.Parallel,
		Log:      log,
		Checkpoint: func(doc domain.Document, res *domain.QAResult) error {
			_, _, err := o.Store.SaveSingleResult(runID, doc, res)
			return err
		},
	}
	return mapper.RunAll(ctx, docs, params.Question, params.SingleTemplate)
}

func (o *Orchestrator) reduce(ctx context.Context, question string, results []*domain.QAResult, templateName string, log *logging.Logger) (string, domain.TokenUsage, error) {
	agg := &aggregate.Aggregator{
		Backend:   o.Backend,
		Templates: o.Templates,
		Options:   o.Options,
		Log:       log,
	}
	return agg.Aggregate(ctx, question, results, templateName)
}

func (o *Orchestrator) finalize(runID string, out *Outcome, log *logging.Logger) error {
	if err := o.Store.SaveAggregateResult(runID, out.Report); err != nil {
		return err
	}
	return o.Store.UpdateMetadata(runID, runstore.Metadata{
		"status":  string(domain.StatusCompleted),
		"results": out.Totals,
	})
}

// recordFailure best-effort writes the failure status and error text into
// run metadata. The original phase error is what the caller gets; a metadata
// write failure on this path is only logged.
func (o *Orchestrator) recordFailure(runID string, status domain.RunStatus, cause error, log *logging.Logger) {
	log.Printf("run %s %s: %v", runID, status, cause)
	if err := o.Store.UpdateMetadata(runID, runstore.Metadata{
		"status": string(status),
		"error":  cause.Error(),
	}); err != nil && !errors.Is(err, runstore.ErrRunNotFound) {
		log.Printf("record failure for %s: %v", runID, err)
	}
}

func buildTotals(results []*domain.QAResult, aggUsage domain.TokenUsage, mapSeconds, reduceSeconds float64) domain.ResultTotals {
	t := domain.ResultTotals{
		SingleQACount:   len(results),
		AggregateTokens: aggUsage.Total,
		MapSeconds:      mapSeconds,
		ReduceSeconds:   reduceSeconds,
	}
	for _, r := range results {
		if r.Error {
			t.ErrorCount++
		}
		t.TotalTokens += r.Metadata.Tokens.Total
	}
	t.TotalTokens += aggUsage.Total
	return t
}

// parametersFrom rebuilds run parameters from the loosely-typed metadata map.
func parametersFrom(meta runstore.Metadata) domain.Parameters {
	var p domain.Parameters
	raw, ok := meta["parameters"].(map[string]any)
	if !ok {
		return p
	}
	p.Question, _ = raw["question"].(string)
	p.SingleTemplate, _ = raw["single_template"].(string)
	p.AggregateTemplate, _ = raw["aggregate_template"].(string)
	if f, ok := raw["parallel"].(float64); ok {
		p.Parallel = int(f)
	}
	if cats, ok := raw["categories"].([]any); ok {
		for _, c := range cats {
			if s, ok := c.(string); ok {
				p.Categories = append(p.Categories, s)
			}
		}
	}
	return p
}
