package profile

import (
	"context"
	"reflect"
	"testing"

	appErr "codejudge/pkg/errors"
)

func testLanguages() []LanguageSpec {
	return []LanguageSpec{
		{ID: JavaScript, Name: "JavaScript", SourceFile: "main.js", RunCmdTpl: "node {src}"},
		{ID: Python, Name: "Python", SourceFile: "main.py", RunCmdTpl: "python3 -I -S {src}", SeccompProfile: "python.json"},
	}
}

func TestNewLocalRepositoryRejectsUnknownLanguage(t *testing.T) {
	langs := append(testLanguages(), LanguageSpec{ID: "ruby", SourceFile: "main.rb", RunCmdTpl: "ruby {src}"})
	if _, err := NewLocalRepository(langs, ""); err == nil {
		t.Fatalf("expected error for unsupported language id")
	}
}

func TestNewLocalRepositoryValidation(t *testing.T) {
	cases := []struct {
		name string
		lang LanguageSpec
	}{
		{"source with dir", LanguageSpec{ID: Python, SourceFile: "../main.py", RunCmdTpl: "python3 {src}"}},
		{"missing src placeholder", LanguageSpec{ID: Python, SourceFile: "main.py", RunCmdTpl: "python3 main.py"}},
		{"negative multiplier", LanguageSpec{ID: Python, SourceFile: "main.py", RunCmdTpl: "python3 {src}", TimeMultiplier: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewLocalRepository([]LanguageSpec{tc.lang}, ""); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
	dup := []LanguageSpec{testLanguages()[1], testLanguages()[1]}
	if _, err := NewLocalRepository(dup, ""); err == nil {
		t.Fatalf("expected duplicate error")
	}
}

func TestGetLanguageSpec(t *testing.T) {
	repo, err := NewLocalRepository(testLanguages(), "default.json")
	if err != nil {
		t.Fatalf("new repository failed: %v", err)
	}
	ctx := context.Background()
	lang, err := repo.GetLanguageSpec(ctx, Python)
	if err != nil || lang.SourceFile != "main.py" {
		t.Fatalf("unexpected lookup: %+v %v", lang, err)
	}
	if _, err := repo.GetLanguageSpec(ctx, "cobol"); appErr.GetCode(err) != appErr.LanguageNotSupported {
		t.Fatalf("expected LanguageNotSupported, got %v", err)
	}
	list := repo.ListLanguages(ctx)
	if len(list) != 2 || list[0].ID != JavaScript || list[1].ID != Python {
		t.Fatalf("unexpected list order: %+v", list)
	}
}

func TestResolveProfile(t *testing.T) {
	repo, err := NewLocalRepository(testLanguages(), "default.json")
	if err != nil {
		t.Fatalf("new repository failed: %v", err)
	}
	iso, err := repo.Resolve(JavaScript)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if iso.SeccompProfile != "default.json" || !iso.DisableNetwork || len(iso.ReadOnlyPaths) == 0 {
		t.Fatalf("unexpected profile: %+v", iso)
	}
	iso, _ = repo.Resolve(Python)
	if iso.SeccompProfile != "python.json" {
		t.Fatalf("language seccomp profile should win, got %q", iso.SeccompProfile)
	}
	if _, err := repo.Resolve("missing"); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}

func TestRenderCommand(t *testing.T) {
	lang := LanguageSpec{ID: Python, SourceFile: "main.py", RunCmdTpl: "python3 -I {src} --dir '{dir}'"}
	argv, err := lang.RenderCommand("/work/run 1")
	if err != nil {
		t.Fatalf("render failed: %v", err)
	}
	want := []string{"python3", "-I", "/work/run 1/main.py", "--dir", "/work/run 1"}
	if !reflect.DeepEqual(argv, want) {
		t.Fatalf("unexpected argv %q", argv)
	}
}
