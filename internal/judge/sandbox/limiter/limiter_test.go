package limiter

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
)

func TestRunClassification(t *testing.T) {
	t.Parallel()
	limits := spec.ResourceLimit{WallTimeMs: 1000, MemoryBytes: 1 << 20, OutputBytes: 1024}
	cases := []struct {
		name string
		res  result.RunResult
		want model.TerminationReason
	}{
		{"completed", result.RunResult{WallTimeMs: 10}, model.TerminatedCompleted},
		{"non-zero exit", result.RunResult{ExitCode: 1}, model.TerminatedRuntimeError},
		{"signal", result.RunResult{ExitCode: 139, Signal: "SIGSEGV"}, model.TerminatedRuntimeError},
		{"engine timeout", result.RunResult{ExitCode: 137, Signal: "SIGKILL", TimedOut: true}, model.TerminatedTimeout},
		{"wall over limit", result.RunResult{WallTimeMs: 1500}, model.TerminatedTimeout},
		{"oom", result.RunResult{ExitCode: 137, Signal: "SIGKILL", OomKilled: true}, model.TerminatedMemoryExceeded},
		{"peak over limit", result.RunResult{MemoryBytes: 2 << 20}, model.TerminatedMemoryExceeded},
		{"timeout beats oom", result.RunResult{TimedOut: true, OomKilled: true}, model.TerminatedTimeout},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out, err := New(limits).Run(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
				return tc.res, nil
			})
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}
			if out.TerminatedBy != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, out.TerminatedBy)
			}
		})
	}
}

func TestRunCapturesStreams(t *testing.T) {
	out, err := New(spec.DefaultLimits()).Run(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		io.WriteString(stdout, "olleh\n")
		io.WriteString(stderr, "debug\n")
		return result.RunResult{WallTimeMs: 12, MemoryBytes: 4096}, nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.Stdout != "olleh\n" || out.Stderr != "debug\n" {
		t.Fatalf("unexpected streams %q %q", out.Stdout, out.Stderr)
	}
	if out.DurationMs != 12 || out.MemoryBytes != 4096 || out.Truncated {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunTruncatesCombinedOutput(t *testing.T) {
	limits := spec.ResourceLimit{WallTimeMs: 5000, OutputBytes: 10}
	var cancelled bool
	out, err := New(limits).Run(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		io.WriteString(stdout, "123456")
		n, werr := io.WriteString(stderr, "abcdefgh")
		if werr != nil || n != 8 {
			t.Errorf("write over the cap should be absorbed, got n=%d err=%v", n, werr)
		}
		io.WriteString(stdout, "dropped")
		select {
		case <-ctx.Done():
			cancelled = true
		case <-time.After(time.Second):
		}
		return result.RunResult{ExitCode: 137, Signal: "SIGKILL"}, nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !cancelled {
		t.Fatalf("expected the unit context to be cancelled once the cap was crossed")
	}
	if out.TerminatedBy != model.TerminatedOutputExceeded || !out.Truncated {
		t.Fatalf("expected output_exceeded, got %+v", out)
	}
	if out.Stdout != "123456" {
		t.Fatalf("unexpected stdout %q", out.Stdout)
	}
	if out.Stderr != "abcd"+TruncationMarker {
		t.Fatalf("unexpected stderr %q", out.Stderr)
	}
}

func TestRunOutputExactlyAtCap(t *testing.T) {
	limits := spec.ResourceLimit{OutputBytes: 4}
	out, err := New(limits).Run(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		io.WriteString(stdout, "abcd")
		return result.RunResult{}, nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.TerminatedBy != model.TerminatedCompleted || out.Stdout != "abcd" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestRunDeadlineWithoutEngineReport(t *testing.T) {
	limits := spec.ResourceLimit{WallTimeMs: 20}
	out, err := New(limits, WithGrace(0)).Run(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		io.WriteString(stdout, "partial")
		<-ctx.Done()
		return result.RunResult{ExitCode: 137, Signal: "SIGKILL"}, nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out.TerminatedBy != model.TerminatedTimeout {
		t.Fatalf("expected timeout, got %s", out.TerminatedBy)
	}
	if !strings.HasPrefix(out.Stdout, "partial") {
		t.Fatalf("partial output should be kept, got %q", out.Stdout)
	}
}

func TestRunUnitError(t *testing.T) {
	boom := errors.New("clone failed")
	out, err := New(spec.DefaultLimits()).Run(context.Background(), func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		return result.RunResult{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected unit error, got %v", err)
	}
	if out.TerminatedBy != model.TerminatedIsolationFailure {
		t.Fatalf("expected isolation_failure, got %s", out.TerminatedBy)
	}
}

func TestRunParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(spec.DefaultLimits()).Run(ctx, func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		return result.RunResult{ExitCode: 137, Signal: "SIGKILL"}, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	got := New(spec.ResourceLimit{}).Limits()
	if got != spec.DefaultLimits() {
		t.Fatalf("expected defaults, got %+v", got)
	}
}
