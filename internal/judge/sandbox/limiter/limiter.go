// Package limiter bounds one execution attempt by wall clock, memory and output size.
package limiter

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

// TruncationMarker is appended to the stream whose write crossed the output cap.
const TruncationMarker = "\n[output truncated]"

// DefaultGrace is how long past the wall limit the unit may take to report
// before its context expires.
const DefaultGrace = 2 * time.Second

// Unit is one execution attempt. It must stop when ctx is done and write the
// program's streams to stdout and stderr.
type Unit func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error)

// Outcome is the classified result of a limited execution.
type Outcome struct {
	Stdout       string
	Stderr       string
	TerminatedBy model.TerminationReason
	DurationMs   int64
	ExitCode     int
	Signal       string
	MemoryBytes  int64
	Truncated    bool
}

// Limiter enforces one limit set. It holds no state between runs.
type Limiter struct {
	limits spec.ResourceLimit
	grace  time.Duration
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithGrace overrides DefaultGrace.
func WithGrace(d time.Duration) Option {
	return func(l *Limiter) {
		if d >= 0 {
			l.grace = d
		}
	}
}

// New returns a limiter for limits; unset values take the defaults.
func New(limits spec.ResourceLimit, opts ...Option) *Limiter {
	l := &Limiter{limits: limits.WithDefaults(), grace: DefaultGrace}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limits returns the effective limit set.
func (l *Limiter) Limits() spec.ResourceLimit {
	return l.limits
}

// Run executes unit under the limits. A non-nil error means the unit itself
// failed (sandbox fault) or the parent context ended; program misbehavior is
// always reported through Outcome.TerminatedBy.
func (l *Limiter) Run(ctx context.Context, unit Unit) (Outcome, error) {
	if unit == nil {
		return Outcome{}, errors.New("limiter: nil unit")
	}
	wall := time.Duration(l.limits.WallTimeMs) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, wall+l.grace)
	defer cancel()

	b := &budget{remaining: l.limits.OutputBytes, onExceed: cancel}
	stdout := &cappedStream{budget: b}
	stderr := &cappedStream{budget: b}

	start := time.Now()
	res, runErr := unit(runCtx, stdout, stderr)
	elapsed := time.Since(start)

	out := Outcome{
		Stdout:      stdout.String(),
		Stderr:      stderr.String(),
		DurationMs:  res.WallTimeMs,
		ExitCode:    res.ExitCode,
		Signal:      res.Signal,
		MemoryBytes: res.MemoryBytes,
		Truncated:   b.isExceeded(),
	}
	if out.DurationMs <= 0 {
		out.DurationMs = elapsed.Milliseconds()
	}
	if runErr != nil {
		out.TerminatedBy = model.TerminatedIsolationFailure
		return out, runErr
	}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	out.TerminatedBy = l.classify(res, runCtx.Err(), out.Truncated)
	return out, nil
}

func (l *Limiter) classify(res result.RunResult, ctxErr error, truncated bool) model.TerminationReason {
	switch {
	case truncated:
		return model.TerminatedOutputExceeded
	case res.TimedOut, errors.Is(ctxErr, context.DeadlineExceeded), res.WallTimeMs > l.limits.WallTimeMs:
		return model.TerminatedTimeout
	case res.OomKilled, l.limits.MemoryBytes > 0 && res.MemoryBytes > l.limits.MemoryBytes:
		return model.TerminatedMemoryExceeded
	case res.Faulted():
		return model.TerminatedRuntimeError
	default:
		return model.TerminatedCompleted
	}
}

// budget is the byte allowance shared by stdout and stderr.
type budget struct {
	mu        sync.Mutex
	remaining int64
	exceeded  bool
	onExceed  context.CancelFunc
}

func (b *budget) isExceeded() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exceeded
}

// cappedStream never fails a write so the program is stopped by the
// cancelled context rather than by a broken pipe.
type cappedStream struct {
	budget *budget
	buf    bytes.Buffer
}

func (s *cappedStream) Write(p []byte) (int, error) {
	b := s.budget
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.exceeded {
		return len(p), nil
	}
	if int64(len(p)) <= b.remaining {
		s.buf.Write(p)
		b.remaining -= int64(len(p))
		return len(p), nil
	}
	s.buf.Write(p[:b.remaining])
	b.remaining = 0
	s.buf.WriteString(TruncationMarker)
	b.exceeded = true
	b.onExceed()
	return len(p), nil
}

func (s *cappedStream) String() string {
	s.budget.mu.Lock()
	defer s.budget.mu.Unlock()
	return s.buf.String()
}
