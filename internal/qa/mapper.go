package qa

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"corpusqa/internal/domain"
	"corpusqa/internal/logging"
)

// DefaultParallel is the worker pool width when none is configured.
const DefaultParallel = 3

// Mapper fans one Worker invocation per document out over a bounded pool.
// Worker failures never abort the batch: they degrade to synthetic error
// results so the output always holds exactly one result per document, in
// document index order. Only Checkpoint failures are fatal, since run state
// on disk can no longer be trusted after one.
type Mapper struct {
	Worker   *Worker
	Parallel int

	// Checkpoint, when set, persists each result as soon as its worker
	// finishes. Workers touch disjoint documents, so no locking is needed.
	Checkpoint func(doc domain.Document, res *domain.QAResult) error

	Log *logging.Logger
}

// RunAll answers the question against every document and returns the results
// in document index order, independent of completion order.
func (m *Mapper) RunAll(ctx context.Context, docs []domain.Document, question, templateName string) ([]*domain.QAResult, error) {
	parallel := m.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}

	results := make([]*domain.QAResult, len(docs))

	var g errgroup.Group
	g.SetLimit(parallel)
	for i, doc := range docs {
		g.Go(func() error {
			res, err := m.Worker.Answer(ctx, doc, question, templateName, nil)
			if err != nil {
				m.Log.Printf("doc %d (%s): degraded to error result: %v", doc.Index, doc.Name, err)
				res = syntheticErrorResult(doc, question, templateName, err)
			}
			results[i] = res
			if m.Checkpoint != nil {
				if cerr := m.Checkpoint(doc, res); cerr != nil {
					return fmt.Errorf("checkpoint document %d: %w", doc.Index, cerr)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	errCount := 0
	for _, r := range results {
		if r.Error {
			errCount++
		}
	}
	m.Log.Printf("map phase done: %d documents, %d with errors", len(results), errCount)
	return results, nil
}

// syntheticErrorResult stands in for a document whose worker failed outright,
// carrying the failure text as the answer.
func syntheticErrorResult(doc domain.Document, question, templateName string, err error) *domain.QAResult {
	return &domain.QAResult{
		DocumentPath: doc.RelativePath,
		Question:     question,
		Template:     templateName,
		Answer:       fmt.Sprintf("Error: %v", err),
		Error:        true,
	}
}
