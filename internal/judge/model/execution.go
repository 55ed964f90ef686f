package model

import "time"

// TerminationReason says how one execution ended.
type TerminationReason string

const (
	TerminatedCompleted        TerminationReason = "completed"
	TerminatedTimeout          TerminationReason = "timeout"
	TerminatedMemoryExceeded   TerminationReason = "memory_exceeded"
	TerminatedOutputExceeded   TerminationReason = "output_exceeded"
	TerminatedRuntimeError     TerminationReason = "runtime_error"
	TerminatedIsolationFailure TerminationReason = "isolation_failure"
)

// ExecutionResult is produced once per (submission, test case) pair.
type ExecutionResult struct {
	Stdout       string            `json:"stdout"`
	Stderr       string            `json:"stderr"`
	TerminatedBy TerminationReason `json:"terminated_by"`
	DurationMs   int64             `json:"duration_ms"`
	ExitCode     int               `json:"exit_code"`
	Signal       string            `json:"signal,omitempty"`
	MemoryBytes  int64             `json:"memory_bytes,omitempty"`
	Truncated    bool              `json:"truncated,omitempty"`
}

// VerdictError describes a sandbox fault recorded against one test case.
type VerdictError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Verdict is the outcome of one test case.
type Verdict struct {
	TestCaseIndex   int              `json:"test_case_index"`
	Passed          bool             `json:"passed"`
	Cancelled       bool             `json:"cancelled,omitempty"`
	ActualOutput    string           `json:"actual_output"`
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`
	Diff            string           `json:"diff,omitempty"`
	Error           *VerdictError    `json:"error,omitempty"`
}

// Alert surfaces a fault that affected the whole submission.
type Alert struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Report is the complete, ordered outcome of one submission.
type Report struct {
	SubmissionID  string          `json:"submission_id"`
	Language      string          `json:"language"`
	State         SubmissionState `json:"state"`
	Verdicts      []Verdict       `json:"verdicts"`
	OverallPassed bool            `json:"overall_passed"`
	Cancelled     bool            `json:"cancelled,omitempty"`
	Alert         *Alert          `json:"alert,omitempty"`
	ReceivedAt    time.Time       `json:"received_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}

// AllPassed is the logical AND over verdicts; an empty list does not pass.
func AllPassed(verdicts []Verdict) bool {
	if len(verdicts) == 0 {
		return false
	}
	for _, v := range verdicts {
		if !v.Passed {
			return false
		}
	}
	return true
}
