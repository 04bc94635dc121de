package indexer

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"corpusqa/internal/domain"
)

// Indexer discovers documents under a corpus root
type Indexer struct {
	Root string
}

// New creates an Indexer. A nonexistent root is a configuration error.
func New(root string) (*Indexer, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("corpus root not found: %s", root)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("corpus root is not a directory: %s", root)
	}
	return &Indexer{Root: root}, nil
}

// Scan recursively enumerates files whose base name matches pattern,
// sorts them by relative path and assigns indices 0..N-1 in that order.
func (ix *Indexer) Scan(pattern string) ([]domain.Document, error) {
	var docs []domain.Document

	err := filepath.WalkDir(ix.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ok, err := filepath.Match(pattern, d.Name())
		if err != nil {
			return fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if !ok {
			return nil
		}

		doc, err := ix.describe(path, d)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", ix.Root, err)
	}

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].RelativePath < docs[j].RelativePath
	})
	for i := range docs {
		docs[i].Index = i
	}

	return docs, nil
}

func (ix *Indexer) describe(path string, d fs.DirEntry) (domain.Document, error) {
	rel, err := filepath.Rel(ix.Root, path)
	if err != nil {
		return domain.Document{}, err
	}

	category := "root"
	if dir := filepath.Dir(rel); dir != "." {
		category = filepath.Base(dir)
	}

	info, err := d.Info()
	if err != nil {
		return domain.Document{}, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))

	return domain.Document{
		Path:         abs,
		RelativePath: rel,
		Name:         name,
		Category:     category,
		Size:         info.Size(),
		Fingerprint:  fingerprint(path),
	}, nil
}

// fingerprint returns a short content hash. A read failure must not abort
// the scan, so it falls back to hashing the path instead.
func fingerprint(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		data = []byte(path)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])[:8]
}

// FilterByCategory keeps only documents whose category is in the requested
// set and reassigns indices 0..M-1 over the filtered subset. Indices are
// not stable across a filter operation.
func FilterByCategory(docs []domain.Document, categories []string) []domain.Document {
	want := make(map[string]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}

	filtered := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		if want[d.Category] {
			d.Index = len(filtered)
			filtered = append(filtered, d)
		}
	}
	return filtered
}
