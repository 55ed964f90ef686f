// Package profile describes the scripting languages the sandbox can run.
package profile

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
)

// Supported language ids. Configuration may only declare these two.
const (
	Python     = "python"
	JavaScript = "javascript"
)

// SupportedIDs lists every language id accepted by the service.
var SupportedIDs = []string{Python, JavaScript}

// LanguageSpec defines how a submission in one language is written and run.
// RunCmdTpl may reference {src} (source file path) and {dir} (scratch dir).
type LanguageSpec struct {
	ID               string   `yaml:"id" json:"id"`
	Name             string   `yaml:"name" json:"name"`
	Version          string   `yaml:"version" json:"version,omitempty"`
	SourceFile       string   `yaml:"sourceFile" json:"-"`
	RunCmdTpl        string   `yaml:"runCmd" json:"-"`
	Env              []string `yaml:"env" json:"-"`
	Image            string   `yaml:"image" json:"-"`
	RootFS           string   `yaml:"rootfs" json:"-"`
	SeccompProfile   string   `yaml:"seccompProfile" json:"-"`
	TimeMultiplier   float64  `yaml:"timeMultiplier" json:"time_multiplier,omitempty"`
	MemoryMultiplier float64  `yaml:"memoryMultiplier" json:"memory_multiplier,omitempty"`
}

// IsSupported reports whether id names one of the two supported languages.
func IsSupported(id string) bool {
	for _, s := range SupportedIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Validate checks a configured language entry.
func (l LanguageSpec) Validate() error {
	if !IsSupported(l.ID) {
		return fmt.Errorf("language %q is not one of %s", l.ID, strings.Join(SupportedIDs, ", "))
	}
	if l.SourceFile == "" || filepath.Base(l.SourceFile) != l.SourceFile {
		return fmt.Errorf("language %s: sourceFile must be a bare file name", l.ID)
	}
	if !strings.Contains(l.RunCmdTpl, "{src}") {
		return fmt.Errorf("language %s: runCmd must reference {src}", l.ID)
	}
	if l.TimeMultiplier < 0 || l.MemoryMultiplier < 0 {
		return fmt.Errorf("language %s: multipliers must not be negative", l.ID)
	}
	return nil
}

// RenderCommand splits the run template into argv and expands the
// placeholders per argument, so paths with spaces stay one argument.
func (l LanguageSpec) RenderCommand(dir string) ([]string, error) {
	argv, err := shlex.Split(l.RunCmdTpl)
	if err != nil {
		return nil, fmt.Errorf("split run command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("run command is empty")
	}
	r := strings.NewReplacer("{src}", filepath.Join(dir, l.SourceFile), "{dir}", dir)
	for i, arg := range argv {
		argv[i] = r.Replace(arg)
	}
	return argv, nil
}
