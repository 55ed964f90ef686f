package engine

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"syscall"
	"time"

	"codejudge/internal/judge/sandbox/result"
	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"
	"codejudge/pkg/utils/logger"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/zap"
)

const (
	defaultContainerWorkDir = "/workspace"
	defaultTmpfsSize        = "16m"
	defaultStopTimeout      = 5 * time.Second
	// Unprivileged uid:gid the program runs as inside the container.
	containerUser = "65534:65534"
)

type dockerClient interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error)
	ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// DockerEngine runs every program in its own throwaway container.
type DockerEngine struct {
	cli       dockerClient
	cfg       DockerConfig
	registry  map[string][]string
	registryM sync.Mutex
}

// NewDockerEngine connects to the daemon named by cfg.Host or the DOCKER_* environment.
func NewDockerEngine(cfg DockerConfig) (*DockerEngine, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return newDockerEngine(cli, cfg), nil
}

func newDockerEngine(cli dockerClient, cfg DockerConfig) *DockerEngine {
	if cfg.WorkDir == "" {
		cfg.WorkDir = defaultContainerWorkDir
	}
	if cfg.TmpfsSize == "" {
		cfg.TmpfsSize = defaultTmpfsSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	return &DockerEngine{cli: cli, cfg: cfg, registry: make(map[string][]string)}
}

func (d *DockerEngine) Name() string { return BackendDocker }

func (d *DockerEngine) Run(ctx context.Context, runSpec spec.RunSpec) (result.RunResult, error) {
	if err := validateRunSpec(runSpec); err != nil {
		return result.RunResult{}, appErr.IsolationError(err, "validate")
	}
	image := runSpec.Image
	if image == "" {
		image = d.cfg.DefaultImage
	}
	if image == "" {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("no container image for profile %s", runSpec.Profile), "construct")
	}

	// Teardown must run even when the caller's context is already gone.
	bg := context.WithoutCancel(ctx)

	resp, err := d.cli.ContainerCreate(ctx, d.containerConfig(runSpec, image), d.hostConfig(runSpec), nil, nil, "")
	if err != nil {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("create container: %w", err), "construct")
	}
	id := resp.ID
	d.register(runSpec.SubmissionID, id)
	defer func() {
		d.unregister(runSpec.SubmissionID, id)
		if err := d.cli.ContainerRemove(bg, id, container.RemoveOptions{Force: true}); err != nil {
			logger.Warn(ctx, "remove container failed", zap.String("container", id), zap.Error(err))
		}
	}()

	attach, err := d.cli.ContainerAttach(ctx, id, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("attach container: %w", err), "construct")
	}
	defer attach.Close()

	stdout, stderr := runSpec.Stdout, runSpec.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	outDone := make(chan struct{})
	go func() {
		defer close(outDone)
		_, _ = stdcopy.StdCopy(stdout, stderr, attach.Reader)
	}()

	start := time.Now()
	if err := d.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("start container: %w", err), "start")
	}
	go func() {
		if runSpec.Stdin != nil && attach.Conn != nil {
			_, _ = io.Copy(attach.Conn, runSpec.Stdin)
		}
		_ = attach.CloseWrite()
	}()

	statusCh, errCh := d.cli.ContainerWait(bg, id, container.WaitConditionNotRunning)
	var wallTimer <-chan time.Time
	if runSpec.Limits.WallTimeMs > 0 {
		timer := time.NewTimer(time.Duration(runSpec.Limits.WallTimeMs) * time.Millisecond)
		defer timer.Stop()
		wallTimer = timer.C
	}

	var (
		status   container.WaitResponse
		timedOut bool
		killed   bool
	)
	select {
	case status = <-statusCh:
	case err := <-errCh:
		return result.RunResult{}, appErr.IsolationError(fmt.Errorf("wait container: %w", err), "wait")
	case <-wallTimer:
		timedOut = true
		killed = true
	case <-ctx.Done():
		killed = true
	}
	if killed {
		if err := d.cli.ContainerKill(bg, id, "KILL"); err != nil {
			logger.Warn(ctx, "kill container failed", zap.String("container", id), zap.Error(err))
		}
		select {
		case status = <-statusCh:
		case err := <-errCh:
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("wait killed container: %w", err), "teardown")
		case <-time.After(d.cfg.StopTimeout):
			return result.RunResult{}, appErr.IsolationError(fmt.Errorf("container %s did not stop", id), "teardown")
		}
	}
	wallTimeMs := time.Since(start).Milliseconds()

	select {
	case <-outDone:
	case <-time.After(drainWait):
		logger.Warn(ctx, "container output did not drain", zap.String("container", id))
	}

	res := result.RunResult{
		ExitCode:   int(status.StatusCode),
		WallTimeMs: wallTimeMs,
		TimeMs:     wallTimeMs,
		TimedOut:   timedOut,
	}
	if status.StatusCode > 128 && status.StatusCode < 128+65 {
		res.Signal = syscall.Signal(status.StatusCode - 128).String()
	}
	inspect, err := d.cli.ContainerInspect(bg, id)
	if err != nil {
		logger.Warn(ctx, "inspect container failed", zap.String("container", id), zap.Error(err))
		return res, nil
	}
	if inspect.ContainerJSONBase != nil && inspect.State != nil && inspect.State.OOMKilled {
		res.OomKilled = true
		res.MemoryBytes = runSpec.Limits.MemoryBytes
	}
	return res, nil
}

// Output left in the attach stream after exit is read for at most this long.
const drainWait = 2 * time.Second

func (d *DockerEngine) containerConfig(runSpec spec.RunSpec, image string) *container.Config {
	return &container.Config{
		Image:           image,
		Cmd:             rebaseArgs(runSpec.Cmd, runSpec.WorkDir, d.cfg.WorkDir),
		Env:             runSpec.Env,
		WorkingDir:      d.cfg.WorkDir,
		User:            containerUser,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
		Labels: map[string]string{
			"codejudge.submission": runSpec.SubmissionID,
			"codejudge.test":       runSpec.TestID,
		},
	}
}

func (d *DockerEngine) hostConfig(runSpec spec.RunSpec) *container.HostConfig {
	limits := runSpec.Limits
	hc := &container.HostConfig{
		Binds:          []string{runSpec.WorkDir + ":" + d.cfg.WorkDir + ":ro"},
		NetworkMode:    "none",
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		ReadonlyRootfs: true,
		LogConfig:      container.LogConfig{Type: "none"},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=" + d.cfg.TmpfsSize + ",mode=1777",
		},
		Resources: container.Resources{
			NanoCPUs: 1_000_000_000,
		},
	}
	if limits.MemoryBytes > 0 {
		hc.Resources.Memory = limits.MemoryBytes
		hc.Resources.MemorySwap = limits.MemoryBytes
	}
	if limits.PIDs > 0 {
		pids := limits.PIDs
		hc.Resources.PidsLimit = &pids
	}
	return hc
}

func (d *DockerEngine) KillSubmission(ctx context.Context, submissionID string) error {
	if submissionID == "" {
		return fmt.Errorf("submission id is required")
	}
	d.registryM.Lock()
	ids := append([]string(nil), d.registry[submissionID]...)
	d.registryM.Unlock()
	for _, id := range ids {
		if err := d.cli.ContainerKill(ctx, id, "KILL"); err != nil {
			logger.Warn(ctx, "kill container failed", zap.String("container", id), zap.Error(err))
		}
	}
	return nil
}

func (d *DockerEngine) register(submissionID, id string) {
	d.registryM.Lock()
	defer d.registryM.Unlock()
	d.registry[submissionID] = append(d.registry[submissionID], id)
}

func (d *DockerEngine) unregister(submissionID, id string) {
	d.registryM.Lock()
	defer d.registryM.Unlock()
	ids := d.registry[submissionID]
	kept := ids[:0]
	for _, v := range ids {
		if v != id {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(d.registry, submissionID)
		return
	}
	d.registry[submissionID] = kept
}

// rebaseArgs rewrites host scratch paths in argv to where the scratch dir is mounted.
func rebaseArgs(argv []string, hostDir, containerDir string) []string {
	out := make([]string, len(argv))
	for i, arg := range argv {
		if arg == hostDir || strings.HasPrefix(arg, hostDir+"/") {
			arg = containerDir + strings.TrimPrefix(arg, hostDir)
		}
		out[i] = arg
	}
	return out
}
