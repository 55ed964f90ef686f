// Package result defines raw sandbox execution data reported by an engine.
package result

// RunResult captures what the engine observed about one program run.
// Output streams are not part of it; they go to the RunSpec writers.
type RunResult struct {
	ExitCode int
	// Signal is set when the program died from a signal.
	Signal      string
	TimeMs      int64
	WallTimeMs  int64
	MemoryBytes int64
	OomKilled   bool
	TimedOut    bool
}

// Faulted reports whether the program ended abnormally.
func (r RunResult) Faulted() bool {
	return r.ExitCode != 0 || r.Signal != ""
}
