package engine

import (
	"context"
	"errors"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
)

type unsupportedEngine struct {
	reason string
}

// NewUnsupportedEngine returns an engine that fails every run with an isolation error.
func NewUnsupportedEngine(reason string) Engine {
	return &unsupportedEngine{reason: reason}
}

func (u *unsupportedEngine) Name() string { return BackendUnsupported }

func (u *unsupportedEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	return result.RunResult{}, appErr.IsolationError(errors.New(u.reason), "construct")
}

func (u *unsupportedEngine) KillSubmission(ctx context.Context, submissionID string) error {
	return nil
}
