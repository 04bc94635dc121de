package runstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"corpusqa/internal/domain"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testDoc(index int, category, name string) domain.Document {
	return domain.Document{
		Index:        index,
		Path:         "/corpus/" + category + "/" + name + ".txt",
		RelativePath: category + "/" + name + ".txt",
		Name:         name,
		Category:     category,
	}
}

func testResult(doc domain.Document, answer string) *domain.QAResult {
	return &domain.QAResult{
		DocumentPath: doc.RelativePath,
		Question:     "Q",
		Template:     "baseline",
		Answer:       answer,
	}
}

func TestCreateRun_GeneratedIDsAreSequential(t *testing.T) {
	s := New(t.TempDir())
	s.Now = fixedClock(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC))

	first, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}

	if first != "2025-03-14_0001" {
		t.Errorf("first = %q", first)
	}
	if second != "2025-03-14_0002" {
		t.Errorf("second = %q", second)
	}
}

func TestCreateRun_SkipsPreSeededDirectory(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "2025-03-14_0001"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := New(base)
	s.Now = fixedClock(time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC))

	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}
	if id != "2025-03-14_0002" {
		t.Errorf("id = %q, want the next free sequence", id)
	}
}

func TestCreateRun_ExplicitID(t *testing.T) {
	s := New(t.TempDir())

	id, err := s.CreateRun("experiment-7")
	if err != nil {
		t.Fatal(err)
	}
	if id != "experiment-7" {
		t.Errorf("id = %q", id)
	}

	meta, err := s.LoadMetadata(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta["status"] != string(domain.StatusCreated) {
		t.Errorf("status = %v", meta["status"])
	}
}

func TestUpdateMetadata_MergePreservesFields(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.UpdateMetadata(id, Metadata{
		"status":     "running",
		"parameters": map[string]any{"question": "Q"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateMetadata(id, Metadata{"status": "completed"}); err != nil {
		t.Fatal(err)
	}

	meta, err := s.LoadMetadata(id)
	if err != nil {
		t.Fatal(err)
	}
	if meta["status"] != "completed" {
		t.Errorf("status = %v", meta["status"])
	}
	params, ok := meta["parameters"].(map[string]any)
	if !ok || params["question"] != "Q" {
		t.Errorf("parameters lost in merge: %v", meta["parameters"])
	}
	if meta["created_at"] == nil || meta["updated_at"] == nil {
		t.Errorf("timestamps missing: %v", meta)
	}
}

func TestLoadMetadata_MissingRun(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.LoadMetadata("no-such-run")
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("err = %v, want ErrRunNotFound", err)
	}
}

func TestSingleResults_RoundTripInIndexOrder(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}

	// Save out of order; loading must come back in index order.
	for _, i := range []int{2, 0, 1} {
		doc := testDoc(i, "housing", "doc")
		if _, _, err := s.SaveSingleResult(id, doc, testResult(doc, string(rune('a'+i)))); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.LoadSingleResults(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 3 {
		t.Fatalf("len = %d", len(results))
	}
	for i, r := range results {
		if r.Answer != string(rune('a'+i)) {
			t.Errorf("results[%d].Answer = %q", i, r.Answer)
		}
	}
}

func TestSaveSingleResult_WritesBothRepresentations(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}

	doc := testDoc(0, "housing", "guide line") // space must be sanitized
	res := testResult(doc, "The answer.")
	jsonPath, textPath, err := s.SaveSingleResult(id, doc, res)
	if err != nil {
		t.Fatal(err)
	}

	if filepath.Base(jsonPath) != "000_housing_guide_line.json" {
		t.Errorf("json name = %q", filepath.Base(jsonPath))
	}
	text, err := os.ReadFile(textPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(text), "The answer.") {
		t.Errorf("text rendering missing answer: %q", text)
	}
}

func TestAggregateResult_OverwriteIsIdempotent(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.SaveAggregateResult(id, "first"); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAggregateResult(id, "second"); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadAggregateResult(id)
	if err != nil {
		t.Fatal(err)
	}
	if got != "second" {
		t.Errorf("aggregate = %q", got)
	}
}

func TestListRuns_SortedAndEmptyBase(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "missing"))
	ids, err := s.ListRuns()
	if err != nil || len(ids) != 0 {
		t.Fatalf("ids = %v, err = %v", ids, err)
	}

	s = New(t.TempDir())
	for _, id := range []string{"b-run", "a-run"} {
		if _, err := s.CreateRun(id); err != nil {
			t.Fatal(err)
		}
	}
	ids, err = s.ListRuns()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "a-run" || ids[1] != "b-run" {
		t.Errorf("ids = %v", ids)
	}
}

func TestGetSummary(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateMetadata(id, Metadata{
		"status":     "completed",
		"parameters": map[string]any{"question": "What applies?"},
	}); err != nil {
		t.Fatal(err)
	}

	good := testDoc(0, "c", "good")
	bad := testDoc(1, "c", "bad")
	if _, _, err := s.SaveSingleResult(id, good, testResult(good, "fine")); err != nil {
		t.Fatal(err)
	}
	badRes := testResult(bad, "Error: boom")
	badRes.Error = true
	if _, _, err := s.SaveSingleResult(id, bad, badRes); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveAggregateResult(id, "report"); err != nil {
		t.Fatal(err)
	}

	sum, err := s.GetSummary(id)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Status != "completed" || sum.Question != "What applies?" {
		t.Errorf("summary = %+v", sum)
	}
	if sum.ResultCount != 2 || sum.ErrorCount != 1 || !sum.HasAggregate {
		t.Errorf("summary counts = %+v", sum)
	}
}

func TestCleanup(t *testing.T) {
	s := New(t.TempDir())
	id, err := s.CreateRun("")
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Cleanup(id); err != nil {
		t.Fatal(err)
	}
	if _, err := s.LoadMetadata(id); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("run still loadable after cleanup: %v", err)
	}
	if err := s.Cleanup(id); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("second cleanup err = %v", err)
	}
}
