// Package llm defines the text-generation backend contract and its Ollama
// implementation. The engine only ever sees this boundary: prompt in,
// text plus usage metadata out.
package llm

import (
	"context"
	"errors"
	"time"
)

// ErrConnection marks backend-unreachable failures so callers can show a
// specific message instead of a raw transport error.
var ErrConnection = errors.New("backend unreachable")

// Options are the per-call generation parameters
type Options struct {
	Temperature      float64
	TopP             float64
	RepeatPenalty    float64
	FrequencyPenalty float64
	NumPredict       int
	NumCtx           int
}

// Response is one completed generation
type Response struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	LoadDuration     time.Duration
	PromptDuration   time.Duration
	EvalDuration     time.Duration
}

// TotalTokens returns prompt plus completion tokens
func (r *Response) TotalTokens() int {
	return r.PromptTokens + r.CompletionTokens
}

// Generator is the LLM backend seen by the QA worker and the aggregator
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (*Response, error)
	Model() string
}
