// Package runstore owns the on-disk state of runs. Each run is one directory
// under the base dir holding a metadata file, per-document result pairs and
// the final aggregate answer, so a run survives process restarts and its
// reduce phase can be re-executed from persisted map results.
package runstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"corpusqa/internal/domain"
)

const (
	metadataFile  = "metadata.json"
	resultsSubdir = "single_qa"
	aggregateFile = "aggregate_result.txt"
)

// ErrRunNotFound marks operations against a run id that has no directory.
var ErrRunNotFound = errors.New("run not found")

// Metadata is the persisted run header. Updates use merge semantics so
// phase-boundary writes never clobber fields written earlier.
type Metadata = map[string]any

// Store reads and writes run state under one base directory.
type Store struct {
	baseDir string

	// Now is replaceable for tests of run-id generation.
	Now func() time.Time
}

// New creates a store rooted at baseDir. The directory is created lazily on
// the first run creation.
func New(baseDir string) *Store {
	return &Store{baseDir: baseDir, Now: time.Now}
}

// BaseDir returns the directory that holds all runs.
func (s *Store) BaseDir() string { return s.baseDir }

// RunDir returns the directory of one run, where callers may place run-scoped
// files such as the log.
func (s *Store) RunDir(runID string) string { return s.runDir(runID) }

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.baseDir, runID)
}

func (s *Store) resultsDir(runID string) string {
	return filepath.Join(s.baseDir, runID, resultsSubdir)
}

// CreateRun allocates the directory for a new run and writes its initial
// metadata. An empty explicitID generates "YYYY-MM-DD_NNNN" with the sequence
// incremented past any name already taken that day.
func (s *Store) CreateRun(explicitID string) (string, error) {
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return "", fmt.Errorf("ensure base dir: %w", err)
	}

	runID := explicitID
	if runID == "" {
		date := s.Now().Format("2006-01-02")
		for seq := 1; ; seq++ {
			candidate := fmt.Sprintf("%s_%04d", date, seq)
			err := os.Mkdir(s.runDir(candidate), 0o755)
			if err == nil {
				runID = candidate
				break
			}
			if !errors.Is(err, fs.ErrExist) {
				return "", fmt.Errorf("create run dir: %w", err)
			}
		}
	} else if err := os.MkdirAll(s.runDir(runID), 0o755); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	if err := os.MkdirAll(s.resultsDir(runID), 0o755); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}

	meta := Metadata{
		"run_id":     runID,
		"created_at": s.Now().Format(time.RFC3339),
		"status":     string(domain.StatusCreated),
	}
	if err := s.SaveMetadata(runID, meta); err != nil {
		return "", err
	}
	return runID, nil
}

// SaveMetadata writes the full metadata file, replacing what was there.
func (s *Store) SaveMetadata(runID string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	return writeFileAtomic(filepath.Join(s.runDir(runID), metadataFile), data)
}

// LoadMetadata reads a run's metadata. A missing run is ErrRunNotFound.
func (s *Store) LoadMetadata(runID string) (Metadata, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), metadataFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata %s: %w", runID, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse metadata %s: %w", runID, err)
	}
	return meta, nil
}

// UpdateMetadata merges updates into the existing metadata and refreshes
// updated_at. Fields absent from updates are preserved. Callers must not
// invoke this concurrently for one run id; it is a read-modify-write.
func (s *Store) UpdateMetadata(runID string, updates Metadata) error {
	meta, err := s.LoadMetadata(runID)
	if err != nil {
		return err
	}
	for k, v := range updates {
		meta[k] = v
	}
	meta["updated_at"] = s.Now().Format(time.RFC3339)
	return s.SaveMetadata(runID, meta)
}

// ResultFilename is the per-document stem: zero-padded index, category and
// document name, so a directory listing sorts in document order.
func ResultFilename(doc domain.Document) string {
	return fmt.Sprintf("%03d_%s_%s", doc.Index, sanitize(doc.Category), sanitize(doc.Name))
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}

// SaveSingleResult persists one map-phase result in both representations:
// structured JSON and a human-readable text rendering. Safe to call again
// for the same document; the previous pair is replaced.
func (s *Store) SaveSingleResult(runID string, doc domain.Document, res *domain.QAResult) (jsonPath, textPath string, err error) {
	stem := filepath.Join(s.resultsDir(runID), ResultFilename(doc))
	jsonPath = stem + ".json"
	textPath = stem + ".txt"

	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal result %d: %w", doc.Index, err)
	}
	if err := writeFileAtomic(jsonPath, data); err != nil {
		return "", "", err
	}
	if err := writeFileAtomic(textPath, []byte(renderResultText(doc, res))); err != nil {
		return "", "", err
	}
	return jsonPath, textPath, nil
}

func renderResultText(doc domain.Document, res *domain.QAResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", res.DocumentPath)
	fmt.Fprintf(&b, "Category: %s\n", doc.Category)
	fmt.Fprintf(&b, "Question: %s\n", res.Question)
	fmt.Fprintf(&b, "Template: %s\n", res.Template)
	if res.Error {
		b.WriteString("Status:   ERROR\n")
	}
	fmt.Fprintf(&b, "\n%s\n", res.Answer)
	m := res.Metadata
	fmt.Fprintf(&b, "\n--\nmodel=%s tokens=%d/%d time=%.1fs\n",
		m.Model, m.Tokens.Prompt, m.Tokens.Completion, m.Timing.Total)
	return b.String()
}

// LoadSingleResults returns a run's persisted map results ordered by result
// filename, which embeds the zero-padded document index.
func (s *Store) LoadSingleResults(runID string) ([]*domain.QAResult, error) {
	if _, err := s.LoadMetadata(runID); err != nil {
		return nil, err
	}
	paths, err := filepath.Glob(filepath.Join(s.resultsDir(runID), "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list results %s: %w", runID, err)
	}
	sort.Strings(paths)

	results := make([]*domain.QAResult, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read result %s: %w", filepath.Base(p), err)
		}
		var res domain.QAResult
		if err := json.Unmarshal(data, &res); err != nil {
			return nil, fmt.Errorf("parse result %s: %w", filepath.Base(p), err)
		}
		results = append(results, &res)
	}
	return results, nil
}

// SaveAggregateResult writes the final report, replacing any previous one so
// a reduce-only re-run is an idempotent overwrite.
func (s *Store) SaveAggregateResult(runID, report string) error {
	return writeFileAtomic(filepath.Join(s.runDir(runID), aggregateFile), []byte(report))
}

// LoadAggregateResult reads the final report of a run.
func (s *Store) LoadAggregateResult(runID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.runDir(runID), aggregateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("run %s has no aggregate result yet", runID)
	}
	if err != nil {
		return "", fmt.Errorf("read aggregate result %s: %w", runID, err)
	}
	return string(data), nil
}

// ListRuns returns all run ids, sorted, which for generated ids is
// chronological order.
func (s *Store) ListRuns() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Summary is the condensed view of one run used by listings.
type Summary struct {
	RunID         string
	Status        string
	CreatedAt     string
	UpdatedAt     string
	Question      string
	ResultCount   int
	ErrorCount    int
	HasAggregate  bool
}

// GetSummary condenses a run's persisted state without loading full answers.
func (s *Store) GetSummary(runID string) (*Summary, error) {
	meta, err := s.LoadMetadata(runID)
	if err != nil {
		return nil, err
	}

	sum := &Summary{RunID: runID}
	sum.Status, _ = meta["status"].(string)
	sum.CreatedAt, _ = meta["created_at"].(string)
	sum.UpdatedAt, _ = meta["updated_at"].(string)
	if params, ok := meta["parameters"].(map[string]any); ok {
		sum.Question, _ = params["question"].(string)
	}

	paths, _ := filepath.Glob(filepath.Join(s.resultsDir(runID), "*.json"))
	sum.ResultCount = len(paths)
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		var res domain.QAResult
		if json.Unmarshal(data, &res) == nil && res.Error {
			sum.ErrorCount++
		}
	}

	if _, err := os.Stat(filepath.Join(s.runDir(runID), aggregateFile)); err == nil {
		sum.HasAggregate = true
	}
	return sum, nil
}

// Cleanup removes a run directory and everything under it. Runs are never
// removed by the engine; this exists for the explicit cleanup command only.
func (s *Store) Cleanup(runID string) error {
	if runID == "" {
		return errors.New("cleanup: empty run id")
	}
	if _, err := os.Stat(s.runDir(runID)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return os.RemoveAll(s.runDir(runID))
}

// writeFileAtomic writes via a temp file and rename so readers never see a
// half-written file.
func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
