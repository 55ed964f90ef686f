package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestGetCodeThroughWrappedChain(t *testing.T) {
	base := New(LanguageNotSupported)
	wrapped := fmt.Errorf("submit: %w", base)

	if got := GetCode(wrapped); got != LanguageNotSupported {
		t.Fatalf("expected %d, got %d", LanguageNotSupported, got)
	}
	if !Is(wrapped, LanguageNotSupported) {
		t.Fatalf("expected Is to match through fmt wrapping")
	}
	if GetCode(stderrors.New("plain")) != InternalServerError {
		t.Fatalf("plain errors should map to InternalServerError")
	}
	if GetCode(nil) != Success {
		t.Fatalf("nil should map to Success")
	}
}

func TestHTTPStatusMapping(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code ErrorCode
		want int
	}{
		{Success, 200},
		{ValidationFailed, 400},
		{NoTestCases, 400},
		{LanguageNotSupported, 400},
		{SubmissionNotFound, 404},
		{SubmissionFinished, 409},
		{TooManyRequests, 429},
		{JudgeQueueFull, 503},
		{IsolationFailure, 500},
	}
	for _, tc := range cases {
		if got := tc.code.HTTPStatus(); got != tc.want {
			t.Fatalf("code %d: expected %d, got %d", tc.code, tc.want, got)
		}
	}
}

func TestIsolationErrorKeepsCause(t *testing.T) {
	cause := stderrors.New("clone: operation not permitted")
	err := IsolationError(cause, "start")
	if err.Code != IsolationFailure {
		t.Fatalf("unexpected code %d", err.Code)
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause in chain")
	}
	if err.Details["stage"] != "start" {
		t.Fatalf("expected stage detail, got %v", err.Details)
	}
}

func TestIsValidation(t *testing.T) {
	if !NoTestCases.IsValidation() || !LanguageNotSupported.IsValidation() {
		t.Fatalf("expected validation codes")
	}
	if IsolationFailure.IsValidation() || JudgeQueueFull.IsValidation() {
		t.Fatalf("unexpected validation code")
	}
}
