package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"codejudge/internal/judge/sandbox/spec"
	appErr "codejudge/pkg/errors"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	specs "github.com/opencontainers/image-spec/specs-go/v1"
)

type fakeDockerClient struct {
	mu         sync.Mutex
	nextID     int
	createErr  error
	created    []*container.HostConfig
	configs    []*container.Config
	stdout     string
	stderr     string
	exitCode   int64
	block      bool
	oomKilled  bool
	killed     chan struct{}
	killCalls  []string
	removed    []string
	stdinSeen  bytes.Buffer
	stdinDone  chan struct{}
	inspectErr error
	// Exit only after this many stdin bytes arrived, like a program reading its input.
	waitForStdin int
}

func newFakeDockerClient() *fakeDockerClient {
	return &fakeDockerClient{killed: make(chan struct{}), stdinDone: make(chan struct{})}
}

func (f *fakeDockerClient) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *specs.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.nextID++
	f.configs = append(f.configs, config)
	f.created = append(f.created, hostConfig)
	return container.CreateResponse{ID: fmt.Sprintf("container-%d", f.nextID)}, nil
}

func (f *fakeDockerClient) ContainerAttach(ctx context.Context, containerID string, options container.AttachOptions) (types.HijackedResponse, error) {
	var muxed bytes.Buffer
	if f.stdout != "" {
		_, _ = stdcopy.NewStdWriter(&muxed, stdcopy.Stdout).Write([]byte(f.stdout))
	}
	if f.stderr != "" {
		_, _ = stdcopy.NewStdWriter(&muxed, stdcopy.Stderr).Write([]byte(f.stderr))
	}
	clientEnd, serverEnd := net.Pipe()
	go func() {
		defer close(f.stdinDone)
		buf := make([]byte, 512)
		for {
			n, err := serverEnd.Read(buf)
			f.mu.Lock()
			f.stdinSeen.Write(buf[:n])
			f.mu.Unlock()
			if err != nil {
				return
			}
		}
	}()
	return types.HijackedResponse{Conn: clientEnd, Reader: bufio.NewReader(&muxed)}, nil
}

func (f *fakeDockerClient) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return nil
}

func (f *fakeDockerClient) ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	statusCh := make(chan container.WaitResponse, 1)
	errCh := make(chan error, 1)
	go func() {
		if f.block {
			<-f.killed
			statusCh <- container.WaitResponse{StatusCode: 137}
			return
		}
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			f.mu.Lock()
			n := f.stdinSeen.Len()
			f.mu.Unlock()
			if n >= f.waitForStdin {
				break
			}
			time.Sleep(time.Millisecond)
		}
		statusCh <- container.WaitResponse{StatusCode: f.exitCode}
	}()
	return statusCh, errCh
}

func (f *fakeDockerClient) ContainerInspect(ctx context.Context, containerID string) (container.InspectResponse, error) {
	if f.inspectErr != nil {
		return container.InspectResponse{}, f.inspectErr
	}
	return container.InspectResponse{
		ContainerJSONBase: &container.ContainerJSONBase{
			State: &container.State{OOMKilled: f.oomKilled},
		},
	}, nil
}

func (f *fakeDockerClient) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killCalls = append(f.killCalls, containerID)
	if len(f.killCalls) == 1 {
		close(f.killed)
	}
	return nil
}

func (f *fakeDockerClient) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return nil
}

func dockerRunSpec(stdin string, stdout, stderr io.Writer) spec.RunSpec {
	return spec.RunSpec{
		SubmissionID: "sub-1",
		TestID:       "0",
		WorkDir:      "/var/lib/codejudge/run-1",
		Cmd:          []string{"python3", "/var/lib/codejudge/run-1/main.py"},
		Stdin:        strings.NewReader(stdin),
		Stdout:       stdout,
		Stderr:       stderr,
		Profile:      "python",
		Image:        "python:3.12-slim",
		Limits:       spec.DefaultLimits(),
	}
}

func TestDockerEngineRunCapturesStreams(t *testing.T) {
	cli := newFakeDockerClient()
	cli.stdout = "olleh\n"
	cli.stderr = "warning\n"
	cli.waitForStdin = len("hello\n")
	eng := newDockerEngine(cli, DockerConfig{})

	var stdout, stderr bytes.Buffer
	res, err := eng.Run(context.Background(), dockerRunSpec("hello\n", &stdout, &stderr))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if stdout.String() != "olleh\n" || stderr.String() != "warning\n" {
		t.Fatalf("unexpected streams %q / %q", stdout.String(), stderr.String())
	}
	if res.ExitCode != 0 || res.TimedOut || res.OomKilled {
		t.Fatalf("unexpected result %+v", res)
	}
	<-cli.stdinDone
	cli.mu.Lock()
	seen := cli.stdinSeen.String()
	removed := len(cli.removed)
	cli.mu.Unlock()
	if seen != "hello\n" {
		t.Fatalf("stdin not delivered, got %q", seen)
	}
	if removed != 1 {
		t.Fatalf("expected container removal, got %d", removed)
	}
}

func TestDockerEngineHardensContainer(t *testing.T) {
	cli := newFakeDockerClient()
	eng := newDockerEngine(cli, DockerConfig{})
	if _, err := eng.Run(context.Background(), dockerRunSpec("", nil, nil)); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	hc := cli.created[0]
	if hc.NetworkMode != "none" || !hc.ReadonlyRootfs {
		t.Fatalf("expected no network and read-only rootfs: %+v", hc)
	}
	if len(hc.CapDrop) != 1 || hc.CapDrop[0] != "ALL" {
		t.Fatalf("expected all capabilities dropped, got %v", hc.CapDrop)
	}
	if hc.Resources.Memory != spec.DefaultMemoryBytes || hc.Resources.MemorySwap != hc.Resources.Memory {
		t.Fatalf("memory must be capped without swap: %+v", hc.Resources)
	}
	if hc.Resources.PidsLimit == nil || *hc.Resources.PidsLimit != spec.DefaultPIDs {
		t.Fatalf("expected pids limit")
	}
	if len(hc.Binds) != 1 || hc.Binds[0] != "/var/lib/codejudge/run-1:/workspace:ro" {
		t.Fatalf("unexpected binds %v", hc.Binds)
	}
	cfg := cli.configs[0]
	if cfg.Cmd[1] != "/workspace/main.py" {
		t.Fatalf("command not rebased: %v", cfg.Cmd)
	}
	if cfg.User != containerUser || !cfg.NetworkDisabled {
		t.Fatalf("unexpected container config %+v", cfg)
	}
}

func TestDockerEngineWallTimeout(t *testing.T) {
	cli := newFakeDockerClient()
	cli.block = true
	eng := newDockerEngine(cli, DockerConfig{})
	runSpec := dockerRunSpec("", nil, nil)
	runSpec.Limits.WallTimeMs = 20

	res, err := eng.Run(context.Background(), runSpec)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.TimedOut || res.ExitCode != 137 || res.Signal == "" {
		t.Fatalf("expected timeout kill, got %+v", res)
	}
}

func TestDockerEngineContextCancelKills(t *testing.T) {
	cli := newFakeDockerClient()
	cli.block = true
	eng := newDockerEngine(cli, DockerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res, err := eng.Run(ctx, dockerRunSpec("", nil, nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if res.TimedOut {
		t.Fatalf("cancellation is not a wall timeout")
	}
	if len(cli.killCalls) == 0 {
		t.Fatalf("expected container kill")
	}
}

func TestDockerEngineReportsOOM(t *testing.T) {
	cli := newFakeDockerClient()
	cli.exitCode = 137
	cli.oomKilled = true
	eng := newDockerEngine(cli, DockerConfig{})
	res, err := eng.Run(context.Background(), dockerRunSpec("", nil, nil))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !res.OomKilled || res.MemoryBytes != spec.DefaultMemoryBytes {
		t.Fatalf("expected oom report, got %+v", res)
	}
}

func TestDockerEngineCreateFailureIsIsolationError(t *testing.T) {
	cli := newFakeDockerClient()
	cli.createErr = errors.New("no such image")
	eng := newDockerEngine(cli, DockerConfig{})
	_, err := eng.Run(context.Background(), dockerRunSpec("", nil, nil))
	if appErr.GetCode(err) != appErr.IsolationFailure {
		t.Fatalf("expected isolation failure, got %v", err)
	}
}

func TestRebaseArgs(t *testing.T) {
	got := rebaseArgs([]string{"node", "/s/run", "/s/run/main.js", "/s/runner"}, "/s/run", "/workspace")
	want := []string{"node", "/workspace", "/workspace/main.js", "/s/runner"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("arg %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestUnsupportedEngine(t *testing.T) {
	eng, err := New(Config{Backend: BackendUnsupported}, nil)
	if err != nil {
		t.Fatalf("new failed: %v", err)
	}
	_, err = eng.Run(context.Background(), dockerRunSpec("", nil, nil))
	if appErr.GetCode(err) != appErr.IsolationFailure {
		t.Fatalf("expected isolation failure, got %v", err)
	}
	if _, err := New(Config{Backend: "vm"}, nil); err == nil {
		t.Fatalf("expected unknown backend error")
	}
}
