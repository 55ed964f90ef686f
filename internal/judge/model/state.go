package model

import "time"

// SubmissionState is a step in a submission's lifecycle.
type SubmissionState string

const (
	StateReceived    SubmissionState = "received"
	StateValidating  SubmissionState = "validating"
	StateExecuting   SubmissionState = "executing"
	StateAggregating SubmissionState = "aggregating"
	StateCompleted   SubmissionState = "completed"
	StateRejected    SubmissionState = "rejected"
	StateCancelled   SubmissionState = "cancelled"
)

var transitions = map[SubmissionState][]SubmissionState{
	StateReceived:    {StateValidating},
	StateValidating:  {StateExecuting, StateRejected},
	StateExecuting:   {StateAggregating, StateCancelled},
	StateAggregating: {StateCompleted},
}

// CanTransition reports whether the lifecycle allows moving from one state to another.
func CanTransition(from, to SubmissionState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s SubmissionState) Terminal() bool {
	return s == StateCompleted || s == StateRejected || s == StateCancelled
}

// SubmissionStatus is the short-lived progress record kept for polling.
type SubmissionStatus struct {
	SubmissionID string          `json:"submission_id"`
	Language     string          `json:"language,omitempty"`
	State        SubmissionState `json:"state"`
	CurrentCase  int             `json:"current_case"`
	TotalCases   int             `json:"total_cases"`
	Report       *Report         `json:"report,omitempty"`
	Error        *VerdictError   `json:"error,omitempty"`
	UpdatedAt    time.Time       `json:"updated_at"`
}
