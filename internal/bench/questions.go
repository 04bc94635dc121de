// Package bench runs curated question sets against the corpus and records
// every answer, so template and model changes can be compared across
// sessions instead of eyeballed.
package bench

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"corpusqa/internal/domain"
)

// Question is one benchmark item. Document selects the target by relative
// path prefix; an empty Document means the question runs against every
// indexed document via the normal map phase.
type Question struct {
	ID       string `yaml:"id"`
	Question string `yaml:"question"`
	Document string `yaml:"document,omitempty"`
	Expected string `yaml:"expected,omitempty"`
}

// QuestionSet is a named collection of benchmark questions loaded from YAML.
type QuestionSet struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Template    string     `yaml:"template,omitempty"`
	Questions   []Question `yaml:"questions"`
}

// LoadQuestionSet parses a question-set file.
func LoadQuestionSet(path string) (*QuestionSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question set: %w", err)
	}
	var set QuestionSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parse question set %s: %w", path, err)
	}
	if set.Name == "" {
		return nil, fmt.Errorf("question set %s has no name", path)
	}
	if len(set.Questions) == 0 {
		return nil, fmt.Errorf("question set %q has no questions", set.Name)
	}
	for i, q := range set.Questions {
		if q.ID == "" {
			set.Questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
		if q.Question == "" {
			return nil, fmt.Errorf("question %d of %q is empty", i+1, set.Name)
		}
	}
	return &set, nil
}

// ResolveDocument finds the document a question targets by relative-path
// prefix. Ambiguous prefixes are an error so a typo cannot silently pick
// the wrong document.
func ResolveDocument(docs []domain.Document, prefix string) (domain.Document, error) {
	var matches []domain.Document
	for _, d := range docs {
		if strings.HasPrefix(d.RelativePath, prefix) {
			matches = append(matches, d)
		}
	}
	switch len(matches) {
	case 0:
		return domain.Document{}, fmt.Errorf("no document matches prefix %q", prefix)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.RelativePath
		}
		return domain.Document{}, fmt.Errorf("prefix %q is ambiguous: %s", prefix, strings.Join(names, ", "))
	}
}
