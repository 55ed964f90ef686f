// Package harness decides pass or fail for one test case.
package harness

import (
	"strings"

	"codejudge/internal/judge/model"
	appErr "codejudge/pkg/errors"

	"github.com/pmezard/go-difflib/difflib"
)

// MaxDiffBytes caps the unified diff attached to a failed verdict.
const MaxDiffBytes = 4 << 10

const diffTruncated = "\n... diff truncated\n"

// Normalize strips trailing spaces, tabs and carriage returns from every
// line, then drops trailing newlines.
func Normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

// Judge compares one completed execution with the expected output.
// Any run that did not complete fails regardless of what it printed.
func Judge(index int, expected string, exec model.ExecutionResult) model.Verdict {
	v := model.Verdict{
		TestCaseIndex:   index,
		ActualOutput:    exec.Stdout,
		ExecutionResult: &exec,
	}
	if exec.TerminatedBy != model.TerminatedCompleted {
		return v
	}
	want, got := Normalize(expected), Normalize(exec.Stdout)
	if want == got {
		v.Passed = true
		return v
	}
	v.Diff = Diff(want, got)
	return v
}

// Fault records a test case whose sandbox could not be built or torn down.
// The client sees only the code's generic message; err's detail may carry
// host paths and belongs in the service log.
func Fault(index int, exec model.ExecutionResult, err error) model.Verdict {
	exec.TerminatedBy = model.TerminatedIsolationFailure
	code := appErr.GetCode(err)
	return model.Verdict{
		TestCaseIndex:   index,
		ActualOutput:    exec.Stdout,
		ExecutionResult: &exec,
		Error: &model.VerdictError{
			Code:    int(code),
			Message: code.Message(),
		},
	}
}

// Unscheduled records a test case that never got an execution slot. It
// carries no execution result, so it says nothing about sandbox health.
func Unscheduled(index int) model.Verdict {
	return model.Verdict{
		TestCaseIndex: index,
		Error: &model.VerdictError{
			Code:    int(appErr.JudgeQueueFull),
			Message: appErr.JudgeQueueFull.Message(),
		},
	}
}

// Cancelled records a test case skipped because the submission was cancelled.
func Cancelled(index int) model.Verdict {
	return model.Verdict{TestCaseIndex: index, Cancelled: true}
}

// Diff renders a unified diff of expected against actual, capped at MaxDiffBytes.
func Diff(expected, actual string) string {
	out, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	if len(out) > MaxDiffBytes {
		out = out[:MaxDiffBytes] + diffTruncated
	}
	return out
}
