package prompts

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Template kinds; each kind lives in its own subdirectory.
const (
	KindSingle    = "single_qa"
	KindAggregate = "aggregate_qa"
)

// Loader manages prompt templates with override support. Templates are plain
// text assets with named placeholders, executed against a map of values so
// they stay portable across template sets.
type Loader struct {
	overrideDirs []string // Directories to check for overrides (in priority order)
	cache        map[string]*template.Template
	metaCache    map[string]*TemplateMeta
	mu           sync.RWMutex
}

// TemplateMeta holds optional frontmatter metadata of a template.
type TemplateMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NewLoader creates a loader with the given override directories.
// Directories are checked in order; first match wins.
func NewLoader(overrideDirs ...string) *Loader {
	return &Loader{
		overrideDirs: overrideDirs,
		cache:        make(map[string]*template.Template),
		metaCache:    make(map[string]*TemplateMeta),
	}
}

// DefaultLoader creates a loader with standard override paths:
// 1. Project-local: .corpusqa/prompts/
// 2. User config: ~/.config/corpusqa/prompts/
func DefaultLoader(projectRoot string) *Loader {
	home, _ := os.UserHomeDir()
	dirs := []string{}

	if projectRoot != "" {
		dirs = append(dirs, filepath.Join(projectRoot, ".corpusqa", "prompts"))
	}
	dirs = append(dirs, filepath.Join(home, ".config", "corpusqa", "prompts"))

	return NewLoader(dirs...)
}

// loadContent loads raw content from override dirs or embedded FS.
func (l *Loader) loadContent(rel string) ([]byte, error) {
	for _, dir := range l.overrideDirs {
		fullPath := filepath.Join(dir, filepath.FromSlash(rel))
		if data, err := os.ReadFile(fullPath); err == nil {
			return data, nil
		}
	}
	return fs.ReadFile(embeddedFS, path.Join("templates", rel))
}

// parseFrontmatter splits content into frontmatter and body.
func parseFrontmatter(content []byte) (*TemplateMeta, string, error) {
	str := string(content)

	if !strings.HasPrefix(str, "---\n") {
		return nil, str, nil // No frontmatter
	}

	end := strings.Index(str[4:], "\n---\n")
	if end == -1 {
		return nil, str, nil // Malformed, treat as no frontmatter
	}

	frontmatter := str[4 : 4+end]
	body := str[4+end+5:]

	var meta TemplateMeta
	if err := yaml.Unmarshal([]byte(frontmatter), &meta); err != nil {
		return nil, "", fmt.Errorf("parse frontmatter: %w", err)
	}

	return &meta, body, nil
}

// Load parses the named template of the given kind.
// A missing name produces an error listing the available templates.
func (l *Loader) Load(kind, name string) (*template.Template, *TemplateMeta, error) {
	key := path.Join(kind, name+".txt")

	l.mu.RLock()
	if tmpl, ok := l.cache[key]; ok {
		meta := l.metaCache[key]
		l.mu.RUnlock()
		return tmpl, meta, nil
	}
	l.mu.RUnlock()

	content, err := l.loadContent(key)
	if err != nil {
		available, _ := l.List(kind)
		return nil, nil, fmt.Errorf("template %q not found (available: %s)",
			name, strings.Join(available, ", "))
	}

	meta, body, err := parseFrontmatter(content)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", key, err)
	}

	tmpl, err := template.New(key).Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, nil, fmt.Errorf("compile template %s: %w", key, err)
	}

	l.mu.Lock()
	l.cache[key] = tmpl
	l.metaCache[key] = meta
	l.mu.Unlock()

	return tmpl, meta, nil
}

// Execute renders the named template with the given placeholder values.
func (l *Loader) Execute(kind, name string, values map[string]string) (string, error) {
	tmpl, _, err := l.Load(kind, name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, values); err != nil {
		return "", fmt.Errorf("execute %s/%s: %w", kind, name, err)
	}
	return buf.String(), nil
}

// List returns the available template names of a kind, embedded and
// overridden combined, sorted.
func (l *Loader) List(kind string) ([]string, error) {
	seen := make(map[string]bool)

	entries, err := fs.ReadDir(embeddedFS, path.Join("templates", kind))
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
			seen[strings.TrimSuffix(e.Name(), ".txt")] = true
		}
	}

	for _, dir := range l.overrideDirs {
		dirEntries, err := os.ReadDir(filepath.Join(dir, kind))
		if err != nil {
			continue
		}
		for _, e := range dirEntries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".txt") {
				seen[strings.TrimSuffix(e.Name(), ".txt")] = true
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ClearCache clears the template cache (useful for tests).
func (l *Loader) ClearCache() {
	l.mu.Lock()
	l.cache = make(map[string]*template.Template)
	l.metaCache = make(map[string]*TemplateMeta)
	l.mu.Unlock()
}
