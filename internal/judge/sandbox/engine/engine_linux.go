//go:build linux

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

// Output still buffered in the pipes is drained for at most this long after exit.
const drainTimeout = 2 * time.Second

type processEngine struct {
	cfg       Config
	resolver  ProfileResolver
	registry  map[string][]string
	registryM sync.Mutex
}

func newProcessEngine(cfg Config, resolver ProfileResolver) (Engine, error) {
	if resolver == nil {
		return nil, fmt.Errorf("profile resolver is required")
	}
	if cfg.HelperPath == "" {
		cfg.HelperPath = "sandbox-init"
	}
	if cfg.RootDir == "" {
		cfg.RootDir = os.TempDir()
	}
	if cfg.EnableCgroup && cfg.CgroupRoot == "" {
		return nil, fmt.Errorf("cgroup root is required when cgroups are enabled")
	}
	return &processEngine{
		cfg:      cfg,
		resolver: resolver,
		registry: make(map[string][]string),
	}, nil
}

func (e *processEngine) Name() string { return BackendProcess }

func (e *processEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, appErr.IsolationError(err, "validate")
	}

	isoProfile, err := e.resolver.Resolve(runSpec.Profile)
	if err != nil {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("resolve profile: %w", err), "construct")
	}
	if e.cfg.SeccompDir != "" && isoProfile.SeccompProfile != "" && !filepath.IsAbs(isoProfile.SeccompProfile) {
		isoProfile.SeccompProfile = filepath.Join(e.cfg.SeccompDir, isoProfile.SeccompProfile)
	}

	var policy []byte
	if e.cfg.EnableSeccomp && isoProfile.SeccompProfile != "" {
		// Read here: the helper runs as the sandbox id and may not reach the file.
		if policy, err = os.ReadFile(isoProfile.SeccompProfile); err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("read seccomp profile: %w", err), "construct")
		}
	}

	hostUID, hostGID := e.sandboxIDs()
	rootDir := ""
	if e.cfg.EnableNamespaces {
		if err := handOver(runSpec.WorkDir, hostUID, hostGID); err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("hand over scratch dir: %w", err), "construct")
		}
	}
	if e.cfg.EnableNamespaces && isoProfile.RootFS == "" {
		rootDir, err = os.MkdirTemp(e.cfg.RootDir, "root-")
		if err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("create sandbox root: %w", err), "construct")
		}
		// Mounts live in the helper's namespace; the host only sees an empty dir.
		defer os.RemoveAll(rootDir)
		if err := handOver(rootDir, hostUID, hostGID); err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("hand over sandbox root: %w", err), "construct")
		}
	}

	cgroupPath := ""
	cgroupFD := -1
	if e.cfg.EnableCgroup {
		var cleanup func()
		cgroupPath, cleanup, err = createRunCgroup(e.cfg.CgroupRoot, runSpec.SubmissionID, runSpec.TestID)
		if err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("create cgroup: %w", err), "construct")
		}
		defer cleanup()
		if err := applyCgroupLimits(cgroupPath, runSpec.Limits); err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("apply cgroup limits: %w", err), "construct")
		}
		dir, err := os.Open(cgroupPath)
		if err != nil {
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("open cgroup: %w", err), "construct")
		}
		defer dir.Close()
		cgroupFD = int(dir.Fd())
		e.registerCgroup(runSpec.SubmissionID, cgroupPath)
		defer e.unregisterCgroup(runSpec.SubmissionID, cgroupPath)
	}

	payload, err := json.Marshal(initRequest{
		WorkDir:       runSpec.WorkDir,
		Cmd:           runSpec.Cmd,
		Env:           runSpec.Env,
		RootDir:       rootDir,
		BindMounts:    runSpec.BindMounts,
		Limits:        runSpec.Limits,
		Isolation:     isoProfile,
		SeccompPolicy: policy,
		EnableSeccomp: e.cfg.EnableSeccomp,
		EnableNs:      e.cfg.EnableNamespaces,
		CgroupLimited: e.cfg.EnableCgroup,
	})
	if err != nil {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("encode init request: %w", err), "construct")
	}

	pipes, err := newStdioPipes()
	if err != nil {
		return result.RunResult{}, appErr.IsolationError(err, "construct")
	}
	defer pipes.closeParent()

	var helperOut, helperDiag bytes.Buffer
	cmd := exec.Command(e.cfg.HelperPath)
	cmd.SysProcAttr = buildSysProcAttr(isoProfile, e.cfg.EnableNamespaces, cgroupFD, hostUID, hostGID)
	cmd.Env = []string{}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &helperOut
	cmd.Stderr = &helperDiag
	cmd.ExtraFiles = pipes.childFiles()

	start := time.Now()
	if err := cmd.Start(); err != nil {
		pipes.closeChild()
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("start helper: %w", err), "start")
	}
	pipes.closeChild()

	var copies sync.WaitGroup
	copies.Add(2)
	go func() {
		defer copies.Done()
		drain(runSpec.Stdout, pipes.stdoutR)
	}()
	go func() {
		defer copies.Done()
		drain(runSpec.Stderr, pipes.stderrR)
	}()
	go feed(pipes.stdinW, runSpec.Stdin)

	var timedOut atomic.Bool
	done := make(chan struct{})
	go func() {
		var wallTimer <-chan time.Time
		if wallLimit := durationFromMs(runSpec.Limits.WallTimeMs); wallLimit > 0 {
			timer := time.NewTimer(wallLimit)
			defer timer.Stop()
			wallTimer = timer.C
		}
		select {
		case <-ctx.Done():
			e.kill(cmd.Process.Pid, cgroupPath)
		case <-wallTimer:
			timedOut.Store(true)
			e.kill(cmd.Process.Pid, cgroupPath)
		case <-done:
		}
	}()

	waitErr := cmd.Wait()
	close(done)
	wallTimeMs := time.Since(start).Milliseconds()
	pipes.awaitDrain(&copies)

	state := cmd.ProcessState
	if state == nil {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("wait helper: %w", waitErr), "wait")
	}
	if state.ExitCode() == helperSetupExitCode && helperDiag.Len() > 0 {
		diag := strings.TrimSpace(helperDiag.String())
		logger.Warn(ctx, "sandbox helper setup failed", zap.String("stderr", diag))
		return result.RunResult{}, appErr.IsolationError(errors.New(diag), "construct")
	}
	if helperOut.Len() > 0 {
		logger.Debug(ctx, "sandbox helper stdout", zap.String("stdout", helperOut.String()))
	}

	return result.RunResult{
		ExitCode:    exitCode(state),
		Signal:      signalName(state),
		TimeMs:      cpuTimeMs(state),
		WallTimeMs:  wallTimeMs,
		MemoryBytes: memoryPeakBytes(cgroupPath, state),
		OomKilled:   wasOomKilled(cgroupPath),
		TimedOut:    timedOut.Load(),
	}, nil
}

// sandboxIDs picks the host ids behind the sandbox's uid 0. A root service
// maps it to an unprivileged id; anyone else can only map their own ids.
func (e *processEngine) sandboxIDs() (int, int) {
	if os.Getuid() != 0 {
		return os.Getuid(), os.Getgid()
	}
	uid, gid := e.cfg.SandboxUID, e.cfg.SandboxGID
	if uid <= 0 {
		uid = DefaultSandboxID
	}
	if gid <= 0 {
		gid = DefaultSandboxID
	}
	return uid, gid
}

// handOver gives dir and everything under it to the sandbox ids so the
// mapped program owns its scratch area. Other host files stay unmapped.
func handOver(dir string, uid, gid int) error {
	if uid == os.Getuid() && gid == os.Getgid() {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, _ os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}

func (e *processEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	for _, cgroupPath := range e.snapshotCgroups(submissionID) {
		if err := killCgroup(cgroupPath); err != nil {
			logger.Warn(ctx, "kill cgroup failed", zap.String("cgroup", cgroupPath), zap.Error(err))
		}
	}
	return nil
}

func (e *processEngine) kill(pid int, cgroupPath string) {
	if pid > 0 {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
	}
	if cgroupPath != "" {
		_ = killCgroup(cgroupPath)
	}
}

func (e *processEngine) registerCgroup(submissionID, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	e.registry[submissionID] = append(e.registry[submissionID], cgroupPath)
}

func (e *processEngine) unregisterCgroup(submissionID, cgroupPath string) {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	paths := e.registry[submissionID]
	updated := paths[:0]
	for _, p := range paths {
		if p != cgroupPath {
			updated = append(updated, p)
		}
	}
	if len(updated) == 0 {
		delete(e.registry, submissionID)
		return
	}
	e.registry[submissionID] = updated
}

func (e *processEngine) snapshotCgroups(submissionID string) []string {
	e.registryM.Lock()
	defer e.registryM.Unlock()
	paths := e.registry[submissionID]
	out := make([]string, len(paths))
	copy(out, paths)
	return out
}

// stdioPipes carries the program's standard streams across the helper exec.
type stdioPipes struct {
	stdinR, stdinW   *os.File
	stdoutR, stdoutW *os.File
	stderrR, stderrW *os.File
}

func newStdioPipes() (*stdioPipes, error) {
	p := &stdioPipes{}
	var err error
	if p.stdinR, p.stdinW, err = os.Pipe(); err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	if p.stdoutR, p.stdoutW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	if p.stderrR, p.stderrW, err = os.Pipe(); err != nil {
		p.closeAll()
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}
	return p, nil
}

// childFiles become fds 3, 4 and 5 in the helper.
func (p *stdioPipes) childFiles() []*os.File {
	return []*os.File{p.stdinR, p.stdoutW, p.stderrW}
}

func (p *stdioPipes) closeChild() {
	closeFiles(p.stdinR, p.stdoutW, p.stderrW)
}

func (p *stdioPipes) closeParent() {
	closeFiles(p.stdinW, p.stdoutR, p.stderrR)
}

func (p *stdioPipes) closeAll() {
	p.closeChild()
	p.closeParent()
}

// awaitDrain waits for the output copies, cutting them off if a stray
// descendant keeps a pipe open.
func (p *stdioPipes) awaitDrain(copies *sync.WaitGroup) {
	closeFiles(p.stdinW)
	drained := make(chan struct{})
	go func() {
		copies.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(drainTimeout):
		closeFiles(p.stdoutR, p.stderrR)
		<-drained
	}
}

func closeFiles(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

func drain(dst io.Writer, src *os.File) {
	if dst == nil {
		dst = io.Discard
	}
	_, _ = io.Copy(dst, src)
}

func feed(dst *os.File, src io.Reader) {
	defer dst.Close()
	if src == nil {
		return
	}
	// EPIPE here means the program exited without reading all input.
	_, _ = io.Copy(dst, src)
}

func buildSysProcAttr(profile security.IsolationProfile, enableNamespaces bool, cgroupFD, hostUID, hostGID int) *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
	if cgroupFD >= 0 {
		// The helper is born inside the run cgroup, so nothing escapes the limits.
		attr.UseCgroupFD = true
		attr.CgroupFD = cgroupFD
	}
	if !enableNamespaces {
		return attr
	}

	cloneFlags := uintptr(syscall.CLONE_NEWNS | syscall.CLONE_NEWPID | syscall.CLONE_NEWUTS | syscall.CLONE_NEWIPC)
	if profile.DisableNetwork {
		cloneFlags |= syscall.CLONE_NEWNET
	}
	cloneFlags |= syscall.CLONE_NEWUSER

	attr.Cloneflags = cloneFlags
	attr.GidMappingsEnableSetgroups = false
	attr.UidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      hostUID,
		Size:        1,
	}}
	attr.GidMappings = []syscall.SysProcIDMap{{
		ContainerID: 0,
		HostID:      hostGID,
		Size:        1,
	}}
	return attr
}
