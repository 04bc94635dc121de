package indexer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"corpusqa/internal/domain"
)

// Stats summarizes a document set
type Stats struct {
	TotalDocuments int
	TotalSize      int64
	Categories     []string
	CategoryCounts map[string]int
}

// ComputeStats aggregates counts and sizes over a document set
func ComputeStats(docs []domain.Document) Stats {
	st := Stats{CategoryCounts: make(map[string]int)}
	for _, d := range docs {
		st.TotalDocuments++
		st.TotalSize += d.Size
		st.CategoryCounts[d.Category]++
	}
	for c := range st.CategoryCounts {
		st.Categories = append(st.Categories, c)
	}
	sort.Strings(st.Categories)
	return st
}

// String renders the stats as a short human-readable block
func (s Stats) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "documents: %d\n", s.TotalDocuments)
	fmt.Fprintf(&b, "total size: %s\n", humanize.Bytes(uint64(s.TotalSize)))
	if s.TotalDocuments > 0 {
		fmt.Fprintf(&b, "average size: %s\n", humanize.Bytes(uint64(s.TotalSize/int64(s.TotalDocuments))))
	}
	for _, c := range s.Categories {
		fmt.Fprintf(&b, "  %s: %d\n", c, s.CategoryCounts[c])
	}
	return b.String()
}
