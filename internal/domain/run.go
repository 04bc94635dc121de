package domain

import "time"

// Parameters are the caller-supplied inputs of a run
type Parameters struct {
	Question          string   `json:"question"`
	SingleTemplate    string   `json:"single_template"`
	AggregateTemplate string   `json:"aggregate_template"`
	Parallel          int      `json:"parallel"`
	Categories        []string `json:"categories,omitempty"`
}

// ResultTotals summarizes a finished (or failed) run
type ResultTotals struct {
	SingleQACount   int     `json:"single_qa_count"`
	ErrorCount      int     `json:"error_count"`
	TotalTokens     int     `json:"total_tokens"`
	AggregateTokens int     `json:"aggregate_tokens"`
	MapSeconds      float64 `json:"map_seconds"`
	ReduceSeconds   float64 `json:"reduce_seconds"`
}

// Run is the persisted metadata of one map-reduce execution
type Run struct {
	RunID      string        `json:"run_id"`
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at,omitzero"`
	Status     RunStatus     `json:"status"`
	Error      string        `json:"error,omitempty"`
	Parameters Parameters    `json:"parameters"`
	Documents  []DocumentRef `json:"documents"`
	Results    ResultTotals  `json:"results"`
}
