package aggregate

import (
	"context"
	"errors"
	"strings"
	"testing"

	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/prompts"
)

type stubBackend struct {
	calls    int
	generate func(prompt string) (*llm.Response, error)
}

func (s *stubBackend) Generate(_ context.Context, prompt string, _ llm.Options) (*llm.Response, error) {
	s.calls++
	return s.generate(prompt)
}

func (s *stubBackend) Model() string { return "stub-model" }

func sampleResults() []*domain.QAResult {
	return []*domain.QAResult{
		{DocumentPath: "housing/guide.txt", Answer: "Answer from guide"},
		{DocumentPath: "housing/faq.txt", Answer: "Answer from faq"},
		{DocumentPath: "tax/rates.txt", Answer: "Error: backend unreachable", Error: true},
	}
}

func TestBuildPrompt_PreservesIdentityAndOrder(t *testing.T) {
	a := &Aggregator{Templates: prompts.NewLoader()}

	prompt, err := a.BuildPrompt("What applies?", sampleResults(), "consensus")
	if err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(prompt, "What applies?") {
		t.Error("prompt missing the question")
	}
	order := []string{"housing/guide.txt", "Answer from guide", "housing/faq.txt", "Answer from faq", "tax/rates.txt"}
	pos := -1
	for _, want := range order {
		i := strings.Index(prompt, want)
		if i < 0 {
			t.Fatalf("prompt missing %q", want)
		}
		if i < pos {
			t.Errorf("%q out of order", want)
		}
		pos = i
	}
	if !strings.Contains(prompt, "degraded") {
		t.Error("degraded result not marked in prompt")
	}
}

func TestAggregate_SingleBackendCall(t *testing.T) {
	backend := &stubBackend{generate: func(string) (*llm.Response, error) {
		return &llm.Response{Text: "Final combined answer.", PromptTokens: 500, CompletionTokens: 50}, nil
	}}
	a := &Aggregator{
		Backend:   backend,
		Templates: prompts.NewLoader(),
		Options:   llm.Options{NumCtx: 8192},
	}

	answer, usage, err := a.Aggregate(context.Background(), "Q", sampleResults(), "consensus")
	if err != nil {
		t.Fatal(err)
	}
	if backend.calls != 1 {
		t.Errorf("calls = %d, want exactly 1", backend.calls)
	}
	if answer != "Final combined answer." {
		t.Errorf("answer = %q", answer)
	}
	if usage.Total != 550 || usage.Remaining != 8192-550 {
		t.Errorf("usage = %+v", usage)
	}
}

func TestAggregate_BackendErrorSurfaces(t *testing.T) {
	sentinel := errors.New("model overloaded")
	backend := &stubBackend{generate: func(string) (*llm.Response, error) {
		return nil, sentinel
	}}
	a := &Aggregator{Backend: backend, Templates: prompts.NewLoader()}

	_, _, err := a.Aggregate(context.Background(), "Q", sampleResults(), "consensus")
	if !errors.Is(err, sentinel) {
		t.Errorf("err = %v, want backend error surfaced", err)
	}
	if backend.calls != 1 {
		t.Errorf("calls = %d, no retry allowed here", backend.calls)
	}
}
