package bench

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"corpusqa/internal/domain"
	"corpusqa/internal/llm"
	"corpusqa/internal/prompts"
	"corpusqa/internal/qa"
)

type stubBackend struct {
	generate func(prompt string) (*llm.Response, error)
}

func (s *stubBackend) Generate(_ context.Context, prompt string, _ llm.Options) (*llm.Response, error) {
	return s.generate(prompt)
}

func (s *stubBackend) Model() string { return "stub-model" }

const sampleSet = `
name: housing-eval
description: Housing regulation questions.
template: baseline
questions:
  - id: deadline
    question: What is the registration deadline?
    document: housing/guide
    expected: Within 30 days.
  - question: Who enforces the rules?
    document: housing/faq
`

func writeSet(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "set.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func corpusDocs(t *testing.T, rels ...string) []domain.Document {
	t.Helper()
	root := t.TempDir()
	docs := make([]domain.Document, len(rels))
	for i, rel := range rels {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("body of "+rel), 0o644); err != nil {
			t.Fatal(err)
		}
		docs[i] = domain.Document{
			Index:        i,
			Path:         path,
			RelativePath: rel,
			Name:         strings.TrimSuffix(filepath.Base(rel), ".txt"),
			Category:     filepath.Base(filepath.Dir(rel)),
		}
	}
	return docs
}

func TestLoadQuestionSet(t *testing.T) {
	set, err := LoadQuestionSet(writeSet(t, sampleSet))
	if err != nil {
		t.Fatal(err)
	}
	if set.Name != "housing-eval" || len(set.Questions) != 2 {
		t.Fatalf("set = %+v", set)
	}
	if set.Questions[0].ID != "deadline" {
		t.Errorf("explicit id lost: %q", set.Questions[0].ID)
	}
	if set.Questions[1].ID != "q2" {
		t.Errorf("missing id not defaulted: %q", set.Questions[1].ID)
	}
}

func TestLoadQuestionSet_Invalid(t *testing.T) {
	for name, content := range map[string]string{
		"no name":      "questions:\n  - question: Q\n",
		"no questions": "name: x\n",
		"empty text":   "name: x\nquestions:\n  - id: a\n",
	} {
		if _, err := LoadQuestionSet(writeSet(t, content)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestResolveDocument(t *testing.T) {
	docs := corpusDocs(t, "housing/guide.txt", "housing/guards.txt", "tax/rates.txt")

	doc, err := ResolveDocument(docs, "housing/guide")
	if err != nil {
		t.Fatal(err)
	}
	if doc.RelativePath != "housing/guide.txt" {
		t.Errorf("resolved %q", doc.RelativePath)
	}

	if _, err := ResolveDocument(docs, "housing/gu"); err == nil {
		t.Error("ambiguous prefix accepted")
	}
	if _, err := ResolveDocument(docs, "water/"); err == nil {
		t.Error("unknown prefix accepted")
	}
}

func TestStore_SessionRoundTrip(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	sess := &Session{
		ID:          "sess-1",
		QuestionSet: "housing-eval",
		Template:    "baseline",
		Model:       "stub-model",
		StartedAt:   time.Now(),
		Total:       2,
	}
	if err := s.CreateSession(sess); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAnswer(&Answer{SessionID: "sess-1", QuestionID: "q1", Question: "Q", Answer: "A", Seconds: 1.5, Tokens: 120}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAnswer(&Answer{SessionID: "sess-1", QuestionID: "q2", Question: "Q2", Error: true}); err != nil {
		t.Fatal(err)
	}
	if err := s.FinishSession("sess-1", time.Now(), 1); err != nil {
		t.Fatal(err)
	}

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].Failed != 1 || sessions[0].Total != 2 {
		t.Fatalf("sessions = %+v", sessions)
	}

	answers, err := s.SessionAnswers("sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 || answers[0].QuestionID != "q1" || !answers[1].Error {
		t.Fatalf("answers = %+v", answers)
	}
}

func newRunner(t *testing.T, backend llm.Generator) *Runner {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "bench.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return &Runner{
		Backend:   backend,
		Templates: prompts.NewLoader(),
		Retry:     qa.DefaultRetryPolicy(),
		Store:     store,
	}
}

func TestRunner_DryRunMakesNoBackendCalls(t *testing.T) {
	calls := 0
	backend := &stubBackend{generate: func(string) (*llm.Response, error) {
		calls++
		return &llm.Response{Text: "unused"}, nil
	}}
	r := newRunner(t, backend)
	set, err := LoadQuestionSet(writeSet(t, sampleSet))
	if err != nil {
		t.Fatal(err)
	}
	docs := corpusDocs(t, "housing/guide.txt", "housing/faq.txt")

	report, err := r.Run(context.Background(), set, docs, RunOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("backend called %d times during dry run", calls)
	}
	if len(report.Answers) != 2 {
		t.Fatalf("answers = %d", len(report.Answers))
	}
	if report.Answers[0].Document != "housing/guide.txt" {
		t.Errorf("resolved %q", report.Answers[0].Document)
	}

	sessions, _ := r.Store.ListSessions()
	if len(sessions) != 0 {
		t.Error("dry run recorded a session")
	}
}

func TestRunner_RecordsSessionAndAnswers(t *testing.T) {
	backend := &stubBackend{generate: func(prompt string) (*llm.Response, error) {
		return &llm.Response{Text: "An adequate answer.", PromptTokens: 50, CompletionTokens: 10}, nil
	}}
	r := newRunner(t, backend)
	set, err := LoadQuestionSet(writeSet(t, sampleSet))
	if err != nil {
		t.Fatal(err)
	}
	docs := corpusDocs(t, "housing/guide.txt", "housing/faq.txt")

	report, err := r.Run(context.Background(), set, docs, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Answers) != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v", report)
	}

	answers, err := r.Store.SessionAnswers(report.SessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(answers) != 2 {
		t.Fatalf("persisted answers = %d", len(answers))
	}
	if answers[0].Answer != "An adequate answer." || answers[0].Tokens != 60 {
		t.Errorf("answers[0] = %+v", answers[0])
	}
}

func TestRunner_FanOutQuestionCoversAllDocuments(t *testing.T) {
	backend := &stubBackend{generate: func(prompt string) (*llm.Response, error) {
		return &llm.Response{Text: "An adequate answer."}, nil
	}}
	r := newRunner(t, backend)
	docs := corpusDocs(t, "a/one.txt", "a/two.txt", "b/three.txt")
	set := &QuestionSet{
		Name:      "fanout",
		Questions: []Question{{ID: "all", Question: "What applies everywhere?"}},
	}

	report, err := r.Run(context.Background(), set, docs, RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Answers) != 3 {
		t.Fatalf("answers = %d, want one per document", len(report.Answers))
	}
	for i, a := range report.Answers {
		if a.Document != docs[i].RelativePath {
			t.Errorf("answers[%d].Document = %q", i, a.Document)
		}
	}
}

func TestMarkdown(t *testing.T) {
	report := &Report{
		SessionID: "sess-9",
		Set:       &QuestionSet{Name: "housing-eval", Description: "desc"},
		Template:  "baseline",
		Model:     "stub-model",
		Answers: []*Answer{
			{QuestionID: "q1", Question: "Deadline?", Document: "housing/guide.txt", Answer: "30 days.", Expected: "Within 30 days.", Seconds: 2, Tokens: 60},
		},
	}

	md := Markdown(report)
	if !strings.HasPrefix(md, "---\n") {
		t.Error("missing frontmatter")
	}
	for _, want := range []string{"session: sess-9", "question_set: housing-eval", "Deadline?", "30 days.", "> Within 30 days."} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
	if n := strings.Count(md, fmt.Sprintf("## %s", "q1")); n != 1 {
		t.Errorf("question heading count = %d", n)
	}
}
