// Package executor runs one untrusted program against one input inside a
// sandbox engine, bounded by the resource limiter.
package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"codejudge/internal/judge/model"
	"codejudge/internal/judge/sandbox/engine"
	"codejudge/internal/judge/sandbox/limiter"
	"codejudge/internal/judge/sandbox/observer"
	"codejudge/internal/judge/sandbox/profile"
	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Config controls scratch areas and default limits.
type Config struct {
	// WorkRoot holds one scratch directory per execution.
	WorkRoot string
	Limits   spec.ResourceLimit
	// Grace is added to the wall limit before the limiter gives up on the engine.
	Grace time.Duration
}

// Request describes one execution. TestIndex is negative for free runs.
type Request struct {
	SubmissionID string
	TestIndex    int
	Language     string
	Source       string
	Input        string
	// Limits overrides Config.Limits field by field.
	Limits spec.ResourceLimit
}

// Executor is the Isolated Executor front. It keeps no state between calls.
type Executor struct {
	eng     engine.Engine
	langs   profile.LanguageRepository
	cfg     Config
	metrics observer.MetricsRecorder
}

// NewExecutor creates an executor backed by eng.
func NewExecutor(eng engine.Engine, langs profile.LanguageRepository, cfg Config) *Executor {
	return NewExecutorWithObserver(eng, langs, cfg, observer.NoopMetricsRecorder{})
}

// NewExecutorWithObserver creates an executor with metrics hooks.
func NewExecutorWithObserver(eng engine.Engine, langs profile.LanguageRepository, cfg Config, metrics observer.MetricsRecorder) *Executor {
	if metrics == nil {
		metrics = observer.NoopMetricsRecorder{}
	}
	if cfg.WorkRoot == "" {
		cfg.WorkRoot = filepath.Join(os.TempDir(), "codejudge")
	}
	if cfg.Grace <= 0 {
		cfg.Grace = limiter.DefaultGrace
	}
	cfg.Limits = cfg.Limits.WithDefaults()
	return &Executor{eng: eng, langs: langs, cfg: cfg, metrics: metrics}
}

// Execute runs req once. A returned error is either a validation error
// (unknown language) or an IsolationFailure; the result then carries
// terminated_by=isolation_failure. Program faults are never errors.
func (e *Executor) Execute(ctx context.Context, req Request) (model.ExecutionResult, error) {
	lang, err := e.langs.GetLanguageSpec(ctx, req.Language)
	if err != nil {
		return model.ExecutionResult{}, err
	}
	limits := mergeLimits(e.cfg.Limits, req.Limits).Scale(lang.TimeMultiplier, lang.MemoryMultiplier)

	dir, err := e.prepareScratch(lang, req.Source)
	if err != nil {
		return e.isolationFailure(ctx, lang.ID, appErr.IsolationError(err, "construct"))
	}
	defer e.removeScratch(ctx, dir)

	cmd, err := lang.RenderCommand(dir)
	if err != nil {
		return e.isolationFailure(ctx, lang.ID, appErr.IsolationError(err, "construct"))
	}

	runSpec := spec.RunSpec{
		SubmissionID: req.SubmissionID,
		TestID:       testID(req.TestIndex),
		WorkDir:      dir,
		Cmd:          cmd,
		Env:          lang.Env,
		Profile:      lang.ID,
		Image:        lang.Image,
		Limits:       limits,
	}
	lim := limiter.New(limits, limiter.WithGrace(e.cfg.Grace))
	outcome, runErr := lim.Run(ctx, func(ctx context.Context, stdout, stderr io.Writer) (result.RunResult, error) {
		rs := runSpec
		rs.Stdin = strings.NewReader(req.Input)
		rs.Stdout = stdout
		rs.Stderr = stderr
		return e.eng.Run(ctx, rs)
	})

	res := model.ExecutionResult{
		Stdout:       outcome.Stdout,
		Stderr:       outcome.Stderr,
		TerminatedBy: outcome.TerminatedBy,
		DurationMs:   outcome.DurationMs,
		ExitCode:     outcome.ExitCode,
		Signal:       outcome.Signal,
		MemoryBytes:  outcome.MemoryBytes,
		Truncated:    outcome.Truncated,
	}
	if runErr != nil {
		if ctx.Err() != nil {
			return res, runErr
		}
		if !appErr.Is(runErr, appErr.IsolationFailure) {
			runErr = appErr.IsolationError(runErr, "run")
		}
		res.TerminatedBy = model.TerminatedIsolationFailure
		e.metrics.ObserveRun(ctx, lang.ID, string(res.TerminatedBy), res.DurationMs, 0, 0)
		logger.Warn(ctx, "sandbox isolation failure",
			zap.String("engine", e.eng.Name()),
			zap.String("language", lang.ID),
			zap.Int("test_index", req.TestIndex),
			zap.Error(runErr),
		)
		return res, runErr
	}
	e.metrics.ObserveRun(ctx, lang.ID, string(res.TerminatedBy), res.DurationMs, res.MemoryBytes,
		int64(len(res.Stdout)+len(res.Stderr)))
	logger.Debug(ctx, "execution finished",
		zap.String("language", lang.ID),
		zap.Int("test_index", req.TestIndex),
		zap.String("terminated_by", string(res.TerminatedBy)),
		zap.Int64("duration_ms", res.DurationMs),
	)
	return res, nil
}

// Abort kills whatever the engine is still running for a submission.
func (e *Executor) Abort(ctx context.Context, submissionID string) error {
	return e.eng.KillSubmission(ctx, submissionID)
}

// Engine reports the backend name.
func (e *Executor) Engine() string {
	return e.eng.Name()
}

func (e *Executor) isolationFailure(ctx context.Context, languageID string, err error) (model.ExecutionResult, error) {
	e.metrics.ObserveRun(ctx, languageID, string(model.TerminatedIsolationFailure), 0, 0, 0)
	logger.Warn(ctx, "sandbox scratch setup failed", zap.String("language", languageID), zap.Error(err))
	return model.ExecutionResult{TerminatedBy: model.TerminatedIsolationFailure}, err
}

// prepareScratch creates an exclusive scratch directory holding only the
// source file. Both stay world-readable so unprivileged sandbox users can
// load the program.
func (e *Executor) prepareScratch(lang profile.LanguageSpec, source string) (string, error) {
	if err := os.MkdirAll(e.cfg.WorkRoot, 0o755); err != nil {
		return "", fmt.Errorf("create work root: %w", err)
	}
	dir, err := os.MkdirTemp(e.cfg.WorkRoot, "run-")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	if err := os.Chmod(dir, 0o755); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("chmod scratch dir: %w", err)
	}
	srcPath := filepath.Join(dir, lang.SourceFile)
	if err := os.WriteFile(srcPath, []byte(source), 0o644); err != nil {
		_ = os.RemoveAll(dir)
		return "", fmt.Errorf("write source: %w", err)
	}
	return dir, nil
}

func (e *Executor) removeScratch(ctx context.Context, dir string) {
	if err := os.RemoveAll(dir); err != nil {
		logger.Warn(ctx, "remove scratch dir failed", zap.String("dir", dir), zap.Error(err))
	}
}

func mergeLimits(base, override spec.ResourceLimit) spec.ResourceLimit {
	if override.WallTimeMs > 0 {
		base.WallTimeMs = override.WallTimeMs
	}
	if override.CPUTimeMs > 0 {
		base.CPUTimeMs = override.CPUTimeMs
	}
	if override.MemoryBytes > 0 {
		base.MemoryBytes = override.MemoryBytes
	}
	if override.OutputBytes > 0 {
		base.OutputBytes = override.OutputBytes
	}
	if override.StackBytes > 0 {
		base.StackBytes = override.StackBytes
	}
	if override.PIDs > 0 {
		base.PIDs = override.PIDs
	}
	return base.WithDefaults()
}

func testID(index int) string {
	if index < 0 {
		return "run"
	}
	return fmt.Sprintf("case-%d", index)
}
