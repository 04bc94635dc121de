package qa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/transform"

	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/prompts"
)

type stubBackend struct {
	mu       sync.Mutex
	calls    int
	generate func(prompt string) (*llm.Response, error)
}

func (s *stubBackend) Generate(_ context.Context, prompt string, _ llm.Options) (*llm.Response, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.generate(prompt)
}

func (s *stubBackend) Model() string { return "stub-model" }

func (s *stubBackend) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func respond(text string) func(string) (*llm.Response, error) {
	return func(string) (*llm.Response, error) {
		return &llm.Response{Text: text, PromptTokens: 100, CompletionTokens: 20}, nil
	}
}

func writeDoc(t *testing.T, root, rel, content string) domain.Document {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	category := "root"
	if dir := filepath.Dir(rel); dir != "." {
		category = filepath.Base(dir)
	}
	name := strings.TrimSuffix(filepath.Base(rel), filepath.Ext(rel))
	return domain.Document{
		Path:         path,
		RelativePath: rel,
		Name:         name,
		Category:     category,
	}
}

func newWorker(backend llm.Generator) *Worker {
	return &Worker{
		Backend:   backend,
		Templates: prompts.NewLoader(),
		Retry:     DefaultRetryPolicy(),
		Options:   llm.Options{NumCtx: 4096},
	}
}

func TestWorker_AcceptableAnswerFirstTry(t *testing.T) {
	root := t.TempDir()
	doc := writeDoc(t, root, "housing/guide.txt", "Vacant houses must be registered within 30 days.")

	backend := &stubBackend{generate: respond("Registration is required within 30 days.")}
	w := newWorker(backend)

	res, err := w.Answer(context.Background(), doc, "What is the deadline?", "baseline", nil)
	if err != nil {
		t.Fatal(err)
	}
	if backend.callCount() != 1 {
		t.Errorf("calls = %d, want 1", backend.callCount())
	}
	if res.Error {
		t.Error("Error flag set on acceptable answer")
	}
	if res.DocumentPath != "housing/guide.txt" {
		t.Errorf("DocumentPath = %q", res.DocumentPath)
	}
	if res.Metadata.Model != "stub-model" {
		t.Errorf("Model = %q", res.Metadata.Model)
	}
	if res.Metadata.Tokens.Total != 120 {
		t.Errorf("Tokens.Total = %d, want 120", res.Metadata.Tokens.Total)
	}
	if res.Metadata.Tokens.Remaining != 4096-120 {
		t.Errorf("Tokens.Remaining = %d", res.Metadata.Tokens.Remaining)
	}
	if res.Metadata.Timing.Total < 0 || res.Metadata.Timing.LLMQuery < 0 {
		t.Errorf("negative timing: %+v", res.Metadata.Timing)
	}
	if res.Metadata.DocumentLength == 0 || res.Metadata.PromptLength == 0 {
		t.Errorf("lengths not recorded: %+v", res.Metadata)
	}
}

func TestWorker_ShortAnswerRetriesThenDegrades(t *testing.T) {
	root := t.TempDir()
	doc := writeDoc(t, root, "guide.txt", "content")

	backend := &stubBackend{generate: respond("12345678")}
	w := newWorker(backend)

	res, err := w.Answer(context.Background(), doc, "Q", "baseline", nil)
	if err != nil {
		t.Fatalf("degraded answer must not be an error, got %v", err)
	}
	if backend.callCount() != 3 {
		t.Errorf("calls = %d, want 3", backend.callCount())
	}
	if !res.Error {
		t.Error("Error flag not set after exhausted retries")
	}
	if res.Answer != "12345678" {
		t.Errorf("Answer = %q, want the last insufficient answer", res.Answer)
	}
}

func TestWorker_BackendDownExhaustsRetries(t *testing.T) {
	root := t.TempDir()
	doc := writeDoc(t, root, "guide.txt", "content")

	backend := &stubBackend{generate: func(string) (*llm.Response, error) {
		return nil, fmt.Errorf("%w: connection refused", llm.ErrConnection)
	}}
	w := newWorker(backend)

	_, err := w.Answer(context.Background(), doc, "Q", "baseline", nil)
	if err == nil {
		t.Fatal("expected error when backend never responds")
	}
	if !errors.Is(err, llm.ErrConnection) {
		t.Errorf("err = %v, want ErrConnection", err)
	}
	if backend.callCount() != 3 {
		t.Errorf("calls = %d, want 3", backend.callCount())
	}
}

func TestWorker_MissingDocument(t *testing.T) {
	doc := domain.Document{Path: "/nonexistent/doc.txt", RelativePath: "doc.txt", Name: "doc", Category: "root"}
	backend := &stubBackend{generate: respond("ignored")}
	w := newWorker(backend)

	_, err := w.Answer(context.Background(), doc, "Q", "baseline", nil)
	if err == nil {
		t.Fatal("expected error for unreadable document")
	}
	if backend.callCount() != 0 {
		t.Error("backend called despite load failure")
	}
}

func TestWorker_PromptContainsDocumentAndQuestion(t *testing.T) {
	root := t.TempDir()
	doc := writeDoc(t, root, "housing/guide.txt", "Article 9 applies here.")

	var prompt string
	backend := &stubBackend{generate: func(p string) (*llm.Response, error) {
		prompt = p
		return &llm.Response{Text: "A long enough answer."}, nil
	}}
	w := newWorker(backend)

	if _, err := w.Answer(context.Background(), doc, "Which article?", "baseline", nil); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Article 9 applies here.", "Which article?", "housing", "guide"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestInsertHistory(t *testing.T) {
	prompt := "doc part\n---\nQuestion: Q"
	history := []Exchange{{Question: "prior Q", Answer: "prior A"}}

	out := insertHistory(prompt, history)
	if !strings.Contains(out, "prior Q") || !strings.Contains(out, "prior A") {
		t.Errorf("history not inserted: %q", out)
	}
	if strings.Index(out, "prior Q") > strings.Index(out, "Question: Q") {
		t.Error("history inserted after the question")
	}
}

func TestInsertHistory_CapsTurns(t *testing.T) {
	prompt := "doc\n---\nQ"
	var history []Exchange
	for i := 0; i < 8; i++ {
		history = append(history, Exchange{Question: fmt.Sprintf("q%d", i), Answer: fmt.Sprintf("a%d", i)})
	}

	out := insertHistory(prompt, history)
	if strings.Contains(out, "q2") {
		t.Error("old turn beyond the cap was kept")
	}
	for i := 3; i < 8; i++ {
		if !strings.Contains(out, fmt.Sprintf("q%d", i)) {
			t.Errorf("recent turn q%d dropped", i)
		}
	}
}

func TestReadDocument_ShiftJISFallback(t *testing.T) {
	encoded, _, err := transform.Bytes(japanese.ShiftJIS.NewEncoder(), []byte("空き家は登録が必要です。"))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "sjis.txt")
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		t.Fatal(err)
	}

	text, err := readDocument(path)
	if err != nil {
		t.Fatal(err)
	}
	if text != "空き家は登録が必要です。" {
		t.Errorf("decoded = %q", text)
	}
}
