package domain

// Document describes one file discovered under the corpus root.
// Indices are contiguous 0..N-1 over the currently selected set, assigned
// after sorting by relative path; filtering reassigns them from zero.
type Document struct {
	Index        int    `json:"index"`
	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
	Name         string `json:"filename"`
	Category     string `json:"category"`
	Size         int64  `json:"size"`
	Fingerprint  string `json:"fingerprint"`
}

// DocumentRef is the compact form persisted in run metadata
type DocumentRef struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// Ref returns the compact reference for run metadata
func (d Document) Ref() DocumentRef {
	return DocumentRef{Index: d.Index, Path: d.RelativePath}
}
