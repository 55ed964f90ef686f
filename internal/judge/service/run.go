package service

import (
	"context"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/executor"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/google/uuid"
)

// Run executes a program once with caller-provided stdin and returns the
// raw result without judging it. Unlike Submit, the caller's context
// cancels an in-flight run.
func (s *Service) Run(ctx context.Context, language, source, input string) (model.ExecutionResult, error) {
	if _, err := s.languages.GetLanguageSpec(ctx, language); err != nil {
		return model.ExecutionResult{}, err
	}
	if err := s.validateProgram(source); err != nil {
		return model.ExecutionResult{}, err
	}
	if len(input) > s.maxInputBytes {
		return model.ExecutionResult{}, appErr.Newf(appErr.InputTooLarge, "input exceeds %d bytes", s.maxInputBytes)
	}
	if err := s.acquireSlot(ctx); err != nil {
		return model.ExecutionResult{}, err
	}
	defer s.releaseSlot()

	id := uuid.NewString()
	return s.executor.Execute(logger.WithSubmission(ctx, id), executor.Request{
		SubmissionID: id,
		TestIndex:    -1,
		Language:     language,
		Source:       source,
		Input:        input,
		Limits:       s.limits,
	})
}
