package service

import (
	"context"
	"regexp"
	"strings"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/google/uuid"
)

const maxSubmissionIDLen = 64

var submissionIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]*$`)

// resolveID returns the caller's id when it is a usable token, or a fresh uuid.
func resolveID(id string) (string, error) {
	if id == "" {
		return uuid.NewString(), nil
	}
	if len(id) > maxSubmissionIDLen || !submissionIDPattern.MatchString(id) {
		return "", appErr.New(appErr.InvalidSubmissionID).
			WithDetail("reason", "must be 1-64 letters, digits, '-' or '_'")
	}
	return id, nil
}

// validate rejects a submission before anything runs.
func (s *Service) validate(ctx context.Context, sub model.Submission) error {
	if _, err := s.languages.GetLanguageSpec(ctx, sub.Language); err != nil {
		return err
	}
	if len(sub.TestCases) == 0 {
		return appErr.New(appErr.NoTestCases)
	}
	if len(sub.TestCases) > s.maxTestCases {
		return appErr.Newf(appErr.TooManyTestCases, "submission has %d test cases, at most %d allowed", len(sub.TestCases), s.maxTestCases)
	}
	if err := s.validateProgram(sub.SourceCode); err != nil {
		return err
	}
	return s.validateCases(sub.TestCases)
}

func (s *Service) validateProgram(source string) error {
	if strings.TrimSpace(source) == "" {
		return appErr.ValidationError("source_code", "required")
	}
	if len(source) > s.maxSourceBytes {
		return appErr.Newf(appErr.CodeTooLarge, "source code is %d bytes, at most %d allowed", len(source), s.maxSourceBytes)
	}
	return nil
}

func (s *Service) validateCases(cases []model.TestCase) error {
	for i, tc := range cases {
		if len(tc.Input) > s.maxInputBytes || len(tc.ExpectedOutput) > s.maxInputBytes {
			return appErr.Newf(appErr.InputTooLarge, "test case %d exceeds %d bytes", i, s.maxInputBytes).
				WithDetail("test_case_index", i)
		}
	}
	return nil
}
