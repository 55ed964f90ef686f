// Package observer defines metrics hooks for sandbox execution.
package observer

import "context"

// MetricsRecorder records sandbox and submission metrics.
type MetricsRecorder interface {
	ObserveRun(ctx context.Context, languageID string, terminatedBy string, durationMs int64, memoryBytes int64, outputBytes int64)
	ObserveSubmission(ctx context.Context, languageID string, state string)
	ObserveIsolationAlert(ctx context.Context, languageID string)
	SetActiveExecutions(n int)
	SetPendingSubmissions(n int)
	ObserveRateLimited()
}

// NoopMetricsRecorder is a default recorder that does nothing.
type NoopMetricsRecorder struct{}

func (NoopMetricsRecorder) ObserveRun(ctx context.Context, languageID string, terminatedBy string, durationMs int64, memoryBytes int64, outputBytes int64) {
}

func (NoopMetricsRecorder) ObserveSubmission(ctx context.Context, languageID string, state string) {}

func (NoopMetricsRecorder) ObserveIsolationAlert(ctx context.Context, languageID string) {}

func (NoopMetricsRecorder) SetActiveExecutions(n int) {}

func (NoopMetricsRecorder) SetPendingSubmissions(n int) {}

func (NoopMetricsRecorder) ObserveRateLimited() {}
