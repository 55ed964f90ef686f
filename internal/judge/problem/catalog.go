// Package problem serves the built-in catalog of coding questions.
package problem

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Difficulty levels accepted in the catalog.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Problem is one catalog question with its hidden test cases.
type Problem struct {
	ID          string            `yaml:"id" json:"id"`
	Title       string            `yaml:"title" json:"title"`
	Prompt      string            `yaml:"prompt" json:"prompt"`
	Difficulty  string            `yaml:"difficulty" json:"difficulty"`
	StarterCode map[string]string `yaml:"starterCode" json:"starter_code,omitempty"`
	TestCases   []model.TestCase  `yaml:"testCases" json:"test_cases"`
}

// Summary is the listing view of a problem.
type Summary struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Difficulty string   `json:"difficulty"`
	Languages  []string `json:"languages,omitempty"`
	TestCases  int      `json:"test_cases"`
}

type catalogFile struct {
	Problems []Problem `yaml:"problems"`
}

// Catalog is an immutable, validated set of problems.
type Catalog struct {
	problems map[string]Problem
	order    []string
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.CatalogInvalid, "read problem catalog: %v", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, appErr.Wrapf(err, appErr.CatalogInvalid, "parse problem catalog: %v", err)
	}
	return New(file.Problems)
}

// New validates problems and indexes them by id.
func New(problems []Problem) (*Catalog, error) {
	c := &Catalog{problems: make(map[string]Problem, len(problems))}
	for i, p := range problems {
		if err := validate(p); err != nil {
			return nil, appErr.Newf(appErr.CatalogInvalid, "problem %d: %v", i, err)
		}
		if _, dup := c.problems[p.ID]; dup {
			return nil, appErr.Newf(appErr.CatalogInvalid, "problem %s declared twice", p.ID)
		}
		p.Difficulty = strings.ToLower(p.Difficulty)
		c.problems[p.ID] = p
		c.order = append(c.order, p.ID)
	}
	return c, nil
}

func validate(p Problem) error {
	if p.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%s: title is required", p.ID)
	}
	switch strings.ToLower(p.Difficulty) {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
	default:
		return fmt.Errorf("%s: unknown difficulty %q", p.ID, p.Difficulty)
	}
	if len(p.TestCases) == 0 {
		return fmt.Errorf("%s: at least one test case is required", p.ID)
	}
	return nil
}

// List returns problem summaries in catalog order.
func (c *Catalog) List(ctx context.Context) []Summary {
	out := make([]Summary, 0, len(c.order))
	for _, id := range c.order {
		p := c.problems[id]
		langs := make([]string, 0, len(p.StarterCode))
		for lang := range p.StarterCode {
			langs = append(langs, lang)
		}
		sort.Strings(langs)
		out = append(out, Summary{
			ID:         p.ID,
			Title:      p.Title,
			Difficulty: p.Difficulty,
			Languages:  langs,
			TestCases:  len(p.TestCases),
		})
	}
	return out
}

// Get returns one problem.
func (c *Catalog) Get(ctx context.Context, id string) (Problem, error) {
	p, ok := c.problems[id]
	if !ok {
		return Problem{}, appErr.Newf(appErr.ProblemNotFound, "problem %s not found", id)
	}
	return p, nil
}

// Submission builds a submission that judges source against the problem's test cases.
func (c *Catalog) Submission(ctx context.Context, problemID, language, source string) (model.Submission, error) {
	p, err := c.Get(ctx, problemID)
	if err != nil {
		return model.Submission{}, err
	}
	cases := make([]model.TestCase, len(p.TestCases))
	copy(cases, p.TestCases)
	return model.Submission{
		Language:   language,
		SourceCode: source,
		TestCases:  cases,
	}, nil
}
