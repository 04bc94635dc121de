package domain

// Timing records per-step durations of one QA invocation, in seconds
type Timing struct {
	DocumentLoad float64 `json:"document_load_time"`
	PromptBuild  float64 `json:"prompt_creation_time"`
	LLMQuery     float64 `json:"llm_query_time"`
	Total        float64 `json:"total_time"`
}

// TokenUsage records backend token accounting for one call
type TokenUsage struct {
	Prompt     int `json:"prompt_tokens"`
	Completion int `json:"completion_tokens"`
	Total      int `json:"total_tokens"`
	Remaining  int `json:"remaining_tokens,omitempty"`
}

// ResultMetadata holds execution metadata attached to a QAResult
type ResultMetadata struct {
	Model          string     `json:"model,omitempty"`
	DocumentLength int        `json:"document_length"`
	PromptLength   int        `json:"prompt_length"`
	ContextLength  int        `json:"context_length,omitempty"`
	Timing         Timing     `json:"timing"`
	Tokens         TokenUsage `json:"tokens"`
}

// QAResult is the outcome of one per-document QA invocation.
// Error is set when retries were exhausted or the worker failed outright;
// the result is still returned so the batch never has holes.
type QAResult struct {
	DocumentPath string         `json:"document_path"`
	Question     string         `json:"question"`
	Template     string         `json:"template"`
	Answer       string         `json:"answer"`
	Metadata     ResultMetadata `json:"metadata"`
	Error        bool           `json:"error,omitempty"`
}
