package problem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	appErr "codejudge/pkg/errors"
)

const sampleCatalog = `
problems:
  - id: reverse-string
    title: Reverse a String
    prompt: Read one line and print it reversed.
    difficulty: Easy
    starterCode:
      python: "s = input()\n"
      javascript: "const s = require('fs').readFileSync(0, 'utf8').trim();\n"
    testCases:
      - input: "hello\n"
        expectedOutput: "olleh\n"
      - input: "python\n"
        expectedOutput: "nohtyp\n"
  - id: fibonacci
    title: Fibonacci Sequence
    difficulty: medium
    testCases:
      - input: "5\n"
        expectedOutput: "[0, 1, 1, 2, 3]\n"
`

func TestParseAndList(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	list := c.List(context.Background())
	if len(list) != 2 || list[0].ID != "reverse-string" || list[1].ID != "fibonacci" {
		t.Fatalf("unexpected listing %+v", list)
	}
	if list[0].Difficulty != DifficultyEasy || list[0].TestCases != 2 {
		t.Fatalf("unexpected summary %+v", list[0])
	}
	if len(list[0].Languages) != 2 || list[0].Languages[0] != "javascript" {
		t.Fatalf("languages should be sorted, got %v", list[0].Languages)
	}

	p, err := c.Get(context.Background(), "reverse-string")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.TestCases[1].ExpectedOutput != "nohtyp\n" {
		t.Fatalf("unexpected test case %+v", p.TestCases[1])
	}
}

func TestGetUnknown(t *testing.T) {
	c, _ := Parse([]byte(sampleCatalog))
	if _, err := c.Get(context.Background(), "nope"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}
	if _, err := c.Submission(context.Background(), "nope", "python", "x"); !appErr.Is(err, appErr.ProblemNotFound) {
		t.Fatalf("expected ProblemNotFound, got %v", err)
	}
}

func TestSubmissionCopiesTestCases(t *testing.T) {
	c, _ := Parse([]byte(sampleCatalog))
	sub, err := c.Submission(context.Background(), "reverse-string", "python", "print(input()[::-1])")
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if sub.Language != "python" || len(sub.TestCases) != 2 {
		t.Fatalf("unexpected submission %+v", sub)
	}
	sub.TestCases[0].Input = "mutated"
	p, _ := c.Get(context.Background(), "reverse-string")
	if p.TestCases[0].Input != "hello\n" {
		t.Fatalf("catalog must not share test case storage")
	}
}

func TestInvalidCatalogs(t *testing.T) {
	cases := map[string]string{
		"no id":     "problems:\n  - title: x\n    difficulty: easy\n    testCases: [{input: a, expectedOutput: a}]\n",
		"no cases":  "problems:\n  - id: a\n    title: x\n    difficulty: easy\n",
		"bad level": "problems:\n  - id: a\n    title: x\n    difficulty: brutal\n    testCases: [{input: a, expectedOutput: a}]\n",
		"duplicate": "problems:\n  - {id: a, title: x, difficulty: easy, testCases: [{input: a}]}\n  - {id: a, title: y, difficulty: easy, testCases: [{input: a}]}\n",
		"malformed": "problems: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); !appErr.Is(err, appErr.CatalogInvalid) {
			t.Fatalf("%s: expected CatalogInvalid, got %v", name, err)
		}
	}
}

func TestLoadShippedCatalog(t *testing.T) {
	path := filepath.Join("..", "..", "..", "configs", "problems.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("catalog not found: %v", err)
	}
	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	for _, id := range []string{"reverse-string", "fibonacci"} {
		p, err := c.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if p.StarterCode["python"] == "" || p.StarterCode["javascript"] == "" {
			t.Fatalf("%s should ship starter code for both languages", id)
		}
	}
}
