// Package engine provides the isolated execution backends.
package engine

import (
	"context"
	"fmt"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// Backend names accepted in configuration.
const (
	BackendProcess     = "process"
	BackendDocker      = "docker"
	BackendUnsupported = "unsupported"
)

// Engine executes a RunSpec inside an isolated sandbox.
// A returned error means the sandbox itself failed; program faults are
// reported through the RunResult.
type Engine interface {
	Name() string
	Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error)
	KillSubmission(ctx context.Context, submissionID string) error
}

// New builds the engine selected by cfg.Backend.
func New(cfg Config, resolver ProfileResolver) (Engine, error) {
	switch cfg.Backend {
	case BackendProcess, "":
		return newProcessEngine(cfg, resolver)
	case BackendDocker:
		return NewDockerEngine(cfg.Docker)
	case BackendUnsupported:
		return NewUnsupportedEngine("sandbox backend disabled by configuration"), nil
	default:
		return nil, fmt.Errorf("unknown sandbox backend %q", cfg.Backend)
	}
}

func validateRunSpec(runSpec spec.RunSpec) error {
	if runSpec.SubmissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	if runSpec.TestID == "" {
		return fmt.Errorf("test id is required")
	}
	if runSpec.WorkDir == "" {
		return fmt.Errorf("work dir is required")
	}
	if len(runSpec.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if runSpec.Profile == "" {
		return fmt.Errorf("profile is required")
	}
	return nil
}
