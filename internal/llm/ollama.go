package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client talks to an Ollama server over its HTTP API
type Client struct {
	host   string
	model  string
	client *http.Client
}

// NewClient creates a client for the given Ollama host and model name
func NewClient(host, model string, timeout time.Duration) *Client {
	return &Client{
		host:  strings.TrimRight(host, "/"),
		model: model,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Model returns the configured model name
func (c *Client) Model() string {
	return c.model
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
	TotalDuration   int64  `json:"total_duration"`
	LoadDuration    int64  `json:"load_duration"`
	PromptDuration  int64  `json:"prompt_eval_duration"`
	EvalDuration    int64  `json:"eval_duration"`
	Error           string `json:"error,omitempty"`
}

// Generate runs one non-streaming completion
func (c *Client) Generate(ctx context.Context, prompt string, opts Options) (*Response, error) {
	options := map[string]any{
		"temperature":       opts.Temperature,
		"top_p":             opts.TopP,
		"repeat_penalty":    opts.RepeatPenalty,
		"frequency_penalty": opts.FrequencyPenalty,
	}
	if opts.NumPredict > 0 {
		options["num_predict"] = opts.NumPredict
	}
	if opts.NumCtx > 0 {
		options["num_ctx"] = opts.NumCtx
	}

	payload, err := json.Marshal(generateRequest{
		Model:   c.model,
		Prompt:  prompt,
		Stream:  false,
		Options: options,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrConnection, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return nil, fmt.Errorf("unexpected response shape: %w", err)
	}
	if gr.Error != "" {
		return nil, fmt.Errorf("backend error: %s", gr.Error)
	}
	if !gr.Done {
		return nil, fmt.Errorf("unexpected response shape: incomplete generation")
	}

	return &Response{
		Text:             strings.TrimSpace(gr.Response),
		PromptTokens:     gr.PromptEvalCount,
		CompletionTokens: gr.EvalCount,
		TotalDuration:    time.Duration(gr.TotalDuration),
		LoadDuration:     time.Duration(gr.LoadDuration),
		PromptDuration:   time.Duration(gr.PromptDuration),
		EvalDuration:     time.Duration(gr.EvalDuration),
	}, nil
}

type showRequest struct {
	Model string `json:"model"`
}

type showResponse struct {
	Modelfile string `json:"modelfile"`
}

// ContextLength asks the server for the model's configured num_ctx.
// Returns 0 if the model file does not declare one.
func (c *Client) ContextLength(ctx context.Context) (int, error) {
	payload, err := json.Marshal(showRequest{Model: c.model})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/show", bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrConnection, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("backend returned %d", resp.StatusCode)
	}

	var sr showResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return 0, fmt.Errorf("unexpected response shape: %w", err)
	}

	for _, line := range strings.Split(sr.Modelfile, "\n") {
		fields := strings.Fields(strings.TrimSpace(line))
		if len(fields) >= 3 && fields[0] == "PARAMETER" && fields[1] == "num_ctx" {
			n, err := strconv.Atoi(fields[2])
			if err != nil {
				return 0, nil
			}
			return n, nil
		}
	}
	return 0, nil
}
