//go:build linux

// Command sandbox-init builds the sandbox from inside fresh namespaces and
// then execs the untrusted program. It reads one JSON request on stdin and
// finds the program's stdin, stdout and stderr on fds 3, 4 and 5.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/seccomp/libseccomp-golang"
	"golang.org/x/sys/unix"
)

// setupFailedExit must match the engine's reserved helper exit code.
const setupFailedExit = 120

const defaultPath = "PATH=/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

var devNodes = []string{"null", "zero", "random", "urandom"}

func init() {
	// The seccomp filter and execve must happen on the same thread.
	runtime.LockOSThread()
}

func main() {
	diag := diagnostics()
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(diag, "sandbox-init: %v\n", err)
		os.Exit(setupFailedExit)
	}
}

// diagnostics keeps a close-on-exec copy of the helper's stderr, which stays
// usable after fd 2 is handed to the program.
func diagnostics() io.Writer {
	fd, err := unix.FcntlInt(uintptr(unix.Stderr), unix.F_DUPFD_CLOEXEC, 10)
	if err != nil {
		return os.Stderr
	}
	return os.NewFile(uintptr(fd), "diag")
}

func run() error {
	req, err := decodeRequest(os.Stdin)
	if err != nil {
		return err
	}
	if err := validateRequest(req); err != nil {
		return err
	}

	// Parsed up front: the policy is not reachable once the root changes.
	var filter *seccomp.ScmpFilter
	if req.EnableSeccomp && len(req.SeccompPolicy) > 0 {
		if filter, err = buildFilter(req.SeccompPolicy); err != nil {
			return err
		}
		defer filter.Release()
	}

	if !req.EnableNs {
		if req.Isolation.RootFS != "" || len(req.BindMounts) > 0 {
			return fmt.Errorf("namespaces disabled with rootfs or bind mounts")
		}
	} else {
		if err := unix.Mount("", "/", "", unix.MS_REC|unix.MS_PRIVATE, ""); err != nil {
			return fmt.Errorf("make mount private: %w", err)
		}
		if err := setupRoot(req); err != nil {
			return err
		}
	}

	if err := os.Chdir(req.WorkDir); err != nil {
		return fmt.Errorf("chdir workdir: %w", err)
	}
	if err := applyRlimits(req.Limits, req.CgroupLimited); err != nil {
		return err
	}

	env := buildEnv(req.Env)
	cmdPath, err := lookPath(req.Cmd[0], env)
	if err != nil {
		return fmt.Errorf("resolve command: %w", err)
	}

	if err := redirectIO(); err != nil {
		return err
	}
	if err := dropPrivileges(); err != nil {
		return err
	}
	if filter != nil {
		if err := filter.Load(); err != nil {
			return fmt.Errorf("load seccomp filter: %w", err)
		}
	}
	return unix.Exec(cmdPath, req.Cmd, env)
}

func decodeRequest(r io.Reader) (initRequest, error) {
	var req initRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return initRequest{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func validateRequest(req initRequest) error {
	if len(req.Cmd) == 0 {
		return fmt.Errorf("command is required")
	}
	if req.WorkDir == "" || !filepath.IsAbs(req.WorkDir) {
		return fmt.Errorf("absolute work dir is required")
	}
	return nil
}

func setupRoot(req initRequest) error {
	switch {
	case req.Isolation.RootFS != "":
		mounts := append([]mountSpec{{Source: req.WorkDir, Target: req.WorkDir}}, req.BindMounts...)
		if err := applyBindMounts(req.Isolation.RootFS, mounts); err != nil {
			return err
		}
		if err := mountProc(req.Isolation.RootFS); err != nil {
			return err
		}
		return enterRoot(req.Isolation.RootFS)
	case req.RootDir != "":
		if err := buildRoot(req); err != nil {
			return err
		}
		return enterRoot(req.RootDir)
	}
	return nil
}

// buildRoot assembles a throwaway root: host toolchain dirs read-only, the
// scratch dir writable at its own path, and private /tmp, /dev and /proc.
func buildRoot(req initRequest) error {
	root := req.RootDir
	if err := unix.Mount("tmpfs", root, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "size=16m,mode=755"); err != nil {
		return fmt.Errorf("mount root tmpfs: %w", err)
	}
	for _, path := range req.Isolation.ReadOnlyPaths {
		if err := exposeHostPath(root, path); err != nil {
			return err
		}
	}

	tmp := filepath.Join(root, "tmp")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("mkdir tmp: %w", err)
	}
	if err := unix.Mount("tmpfs", tmp, "tmpfs", unix.MS_NOSUID|unix.MS_NODEV, "size=16m,mode=1777"); err != nil {
		return fmt.Errorf("mount tmp: %w", err)
	}

	for _, node := range devNodes {
		src := filepath.Join("/dev", node)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := bindMount(src, filepath.Join(root, src), false); err != nil {
			return err
		}
	}

	// After /tmp, so a scratch dir under /tmp is not hidden by the tmpfs.
	mounts := append([]mountSpec{{Source: req.WorkDir, Target: req.WorkDir}}, req.BindMounts...)
	if err := applyBindMounts(root, mounts); err != nil {
		return err
	}
	if err := mountProc(root); err != nil {
		return err
	}
	if err := remountReadOnly(root); err != nil {
		return fmt.Errorf("seal root: %w", err)
	}
	return nil
}

func exposeHostPath(root, path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	target := filepath.Join(root, path)
	if info.Mode()&os.ModeSymlink != 0 {
		// Merged-/usr hosts link /bin and /lib into /usr; keep the link.
		link, err := os.Readlink(path)
		if err != nil {
			return fmt.Errorf("readlink %s: %w", path, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", filepath.Dir(target), err)
		}
		return os.Symlink(link, target)
	}
	return bindMount(path, target, true)
}

func applyBindMounts(rootfs string, mounts []mountSpec) error {
	for _, m := range mounts {
		if m.Source == "" || m.Target == "" {
			return fmt.Errorf("invalid mount spec")
		}
		if err := bindMount(m.Source, filepath.Join(rootfs, m.Target), m.ReadOnly); err != nil {
			return err
		}
	}
	return nil
}

func bindMount(source, target string, readOnly bool) error {
	if err := ensureMountTarget(source, target); err != nil {
		return err
	}
	if err := unix.Mount(source, target, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
		return fmt.Errorf("bind mount %s: %w", source, err)
	}
	if readOnly {
		if err := remountReadOnly(target); err != nil {
			return fmt.Errorf("remount %s readonly: %w", target, err)
		}
	}
	return nil
}

// remountReadOnly keeps the flags the kernel locks on mounts inherited by a
// user namespace; dropping them makes the remount fail with EPERM.
func remountReadOnly(target string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(target, &st); err != nil {
		return err
	}
	locked := uintptr(st.Flags) & (unix.ST_NOSUID | unix.ST_NODEV | unix.ST_NOEXEC |
		unix.ST_NOATIME | unix.ST_NODIRATIME | unix.ST_RELATIME)
	return unix.Mount("", target, "", unix.MS_BIND|unix.MS_REMOUNT|unix.MS_RDONLY|locked, "")
}

func mountProc(root string) error {
	procPath := filepath.Join(root, "proc")
	if err := os.MkdirAll(procPath, 0o755); err != nil {
		return fmt.Errorf("mkdir proc: %w", err)
	}
	if err := unix.Mount("proc", procPath, "proc", unix.MS_NOSUID|unix.MS_NODEV|unix.MS_NOEXEC, ""); err != nil && !errors.Is(err, unix.EBUSY) {
		return fmt.Errorf("mount proc: %w", err)
	}
	return nil
}

func enterRoot(root string) error {
	if err := unix.Chroot(root); err != nil {
		return fmt.Errorf("chroot: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir root: %w", err)
	}
	return nil
}

func ensureMountTarget(source, target string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("stat mount source: %w", err)
	}
	if info.IsDir() {
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("mkdir mount target: %w", err)
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("mkdir mount target dir: %w", err)
	}
	file, err := os.OpenFile(target, os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("create mount target file: %w", err)
	}
	return file.Close()
}

func applyRlimits(limits resourceLimit, cgroupLimited bool) error {
	set := func(resource int, value uint64, name string) error {
		if err := unix.Setrlimit(resource, &unix.Rlimit{Cur: value, Max: value}); err != nil {
			return fmt.Errorf("set rlimit %s: %w", name, err)
		}
		return nil
	}
	if err := set(unix.RLIMIT_CORE, 0, "core"); err != nil {
		return err
	}
	if limits.CPUTimeMs > 0 {
		if err := set(unix.RLIMIT_CPU, uint64((limits.CPUTimeMs+999)/1000), "cpu"); err != nil {
			return err
		}
	}
	if limits.OutputBytes > 0 {
		if err := set(unix.RLIMIT_FSIZE, uint64(limits.OutputBytes), "fsize"); err != nil {
			return err
		}
	}
	if limits.StackBytes > 0 {
		if err := set(unix.RLIMIT_STACK, uint64(limits.StackBytes), "stack"); err != nil {
			return err
		}
	}
	// pids.max already bounds the tree when a cgroup is in place.
	if limits.PIDs > 0 && !cgroupLimited {
		if err := set(unix.RLIMIT_NPROC, uint64(limits.PIDs), "nproc"); err != nil {
			return err
		}
	}
	return nil
}

// redirectIO moves the program's streams from fds 3-5 onto 0-2.
func redirectIO() error {
	for i, target := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
		if err := unix.Dup3(3+i, target, 0); err != nil {
			return fmt.Errorf("dup fd %d: %w", 3+i, err)
		}
	}
	for fd := 3; fd <= 5; fd++ {
		_ = unix.Close(fd)
	}
	return nil
}

func buildEnv(env []string) []string {
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			return env
		}
	}
	return append(append([]string(nil), env...), defaultPath)
}

// lookPath resolves name against the PATH of the program's environment, not the helper's.
func lookPath(name string, env []string) (string, error) {
	if strings.Contains(name, "/") {
		return name, checkExecutable(name)
	}
	path := strings.TrimPrefix(defaultPath, "PATH=")
	for _, kv := range env {
		if strings.HasPrefix(kv, "PATH=") {
			path = strings.TrimPrefix(kv, "PATH=")
		}
	}
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if checkExecutable(candidate) == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s: not found in PATH", name)
}

func checkExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() || info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

// Securebits that keep a uid 0 program from regaining capabilities on exec.
const (
	secbitNoRoot             = 1 << 0
	secbitNoRootLocked       = 1 << 1
	secbitNoSetuidFixup      = 1 << 2
	secbitNoSetuidFixupLock  = 1 << 3
	secbitKeepCapsLocked     = 1 << 5
	secbitNoCapAmbientRaise  = 1 << 6
	secbitNoCapAmbientLocked = 1 << 7

	lockedSecurebits = secbitNoRoot | secbitNoRootLocked | secbitNoSetuidFixup | secbitNoSetuidFixupLock |
		secbitKeepCapsLocked | secbitNoCapAmbientRaise | secbitNoCapAmbientLocked
)

// dropPrivileges leaves the program with no capabilities in any set and no
// way to gain them back through exec or setuid binaries.
func dropPrivileges() error {
	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("set no new privs: %w", err)
	}
	hdr := unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	var caps [2]unix.CapUserData
	if err := unix.Capget(&hdr, &caps[0]); err != nil {
		return fmt.Errorf("read capabilities: %w", err)
	}
	if caps[0].Permitted == 0 && caps[1].Permitted == 0 {
		return nil
	}

	if err := unix.Prctl(unix.PR_SET_SECUREBITS, lockedSecurebits, 0, 0, 0); err != nil {
		return fmt.Errorf("lock securebits: %w", err)
	}
	for c := 0; c < 64; c++ {
		if err := unix.Prctl(unix.PR_CAPBSET_DROP, uintptr(c), 0, 0, 0); err != nil {
			if errors.Is(err, unix.EINVAL) {
				// Past the last capability the kernel knows.
				break
			}
			return fmt.Errorf("drop bounding capability %d: %w", c, err)
		}
	}
	if err := unix.Prctl(unix.PR_CAP_AMBIENT, unix.PR_CAP_AMBIENT_CLEAR_ALL, 0, 0, 0); err != nil && !errors.Is(err, unix.EINVAL) {
		return fmt.Errorf("clear ambient capabilities: %w", err)
	}
	hdr = unix.CapUserHeader{Version: unix.LINUX_CAPABILITY_VERSION_3}
	caps = [2]unix.CapUserData{}
	if err := unix.Capset(&hdr, &caps[0]); err != nil {
		return fmt.Errorf("clear capabilities: %w", err)
	}
	return nil
}

func buildFilter(data []byte) (*seccomp.ScmpFilter, error) {
	var cfg seccompConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse seccomp profile: %w", err)
	}
	defaultAction, err := parseSeccompAction(cfg.DefaultAction)
	if err != nil {
		return nil, err
	}
	filter, err := seccomp.NewFilter(defaultAction)
	if err != nil {
		return nil, fmt.Errorf("create seccomp filter: %w", err)
	}
	for _, rule := range cfg.Syscalls {
		action, err := parseSeccompAction(rule.Action)
		if err != nil {
			filter.Release()
			return nil, err
		}
		if rule.ErrnoRet > 0 && strings.EqualFold(rule.Action, "SCMP_ACT_ERRNO") {
			action = seccomp.ActErrno.SetReturnCode(int16(rule.ErrnoRet))
		}
		if action == defaultAction {
			continue
		}
		conds, err := buildConditions(rule.Args)
		if err != nil {
			filter.Release()
			return nil, err
		}
		for _, name := range rule.Names {
			call, err := seccomp.GetSyscallFromName(name)
			if err != nil {
				// Not present on this architecture.
				continue
			}
			if len(conds) == 0 {
				err = filter.AddRule(call, action)
			} else {
				// Every condition of one rule must hold; separate rules are alternatives.
				err = filter.AddRuleConditional(call, action, conds)
			}
			if err != nil {
				filter.Release()
				return nil, fmt.Errorf("add seccomp rule %s: %w", name, err)
			}
		}
	}
	return filter, nil
}

func buildConditions(args []seccompArg) ([]seccomp.ScmpCondition, error) {
	conds := make([]seccomp.ScmpCondition, 0, len(args))
	for _, arg := range args {
		var (
			cond seccomp.ScmpCondition
			err  error
		)
		switch strings.ToUpper(arg.Op) {
		case "SCMP_CMP_EQ":
			cond, err = seccomp.MakeCondition(arg.Index, seccomp.CompareEqual, arg.Value)
		case "SCMP_CMP_NE":
			cond, err = seccomp.MakeCondition(arg.Index, seccomp.CompareNotEqual, arg.Value)
		case "SCMP_CMP_MASKED_EQ":
			cond, err = seccomp.MakeCondition(arg.Index, seccomp.CompareMaskedEqual, arg.Value, arg.ValueTwo)
		default:
			return nil, fmt.Errorf("unsupported seccomp comparison: %s", arg.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("build seccomp condition: %w", err)
		}
		conds = append(conds, cond)
	}
	return conds, nil
}

type seccompConfig struct {
	DefaultAction string           `json:"defaultAction"`
	Syscalls      []seccompSyscall `json:"syscalls"`
}

type seccompSyscall struct {
	Names    []string     `json:"names"`
	Action   string       `json:"action"`
	ErrnoRet int          `json:"errnoRet,omitempty"`
	Args     []seccompArg `json:"args,omitempty"`
}

// seccompArg matches the docker profile layout; for SCMP_CMP_MASKED_EQ
// Value is the mask and ValueTwo the expected result.
type seccompArg struct {
	Index    uint   `json:"index"`
	Value    uint64 `json:"value"`
	ValueTwo uint64 `json:"valueTwo"`
	Op       string `json:"op"`
}

func parseSeccompAction(action string) (seccomp.ScmpAction, error) {
	switch strings.ToUpper(action) {
	case "SCMP_ACT_ALLOW":
		return seccomp.ActAllow, nil
	case "SCMP_ACT_ERRNO":
		return seccomp.ActErrno.SetReturnCode(int16(unix.EPERM)), nil
	case "SCMP_ACT_KILL", "SCMP_ACT_KILL_PROCESS":
		return seccomp.ActKillProcess, nil
	default:
		return seccomp.ActKillProcess, fmt.Errorf("unsupported seccomp action: %s", action)
	}
}

type initRequest struct {
	WorkDir       string           `json:"work_dir"`
	Cmd           []string         `json:"cmd"`
	Env           []string         `json:"env"`
	RootDir       string           `json:"root_dir"`
	BindMounts    []mountSpec      `json:"bind_mounts"`
	Limits        resourceLimit    `json:"limits"`
	Isolation     isolationProfile `json:"isolation"`
	SeccompPolicy json.RawMessage  `json:"seccomp_policy"`
	EnableSeccomp bool             `json:"enable_seccomp"`
	EnableNs      bool             `json:"enable_ns"`
	CgroupLimited bool             `json:"cgroup_limited"`
}

type mountSpec struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

type resourceLimit struct {
	WallTimeMs  int64 `json:"wall_time_ms"`
	CPUTimeMs   int64 `json:"cpu_time_ms"`
	MemoryBytes int64 `json:"memory_bytes"`
	OutputBytes int64 `json:"output_bytes"`
	StackBytes  int64 `json:"stack_bytes"`
	PIDs        int64 `json:"pids"`
}

type isolationProfile struct {
	RootFS         string   `json:"root_fs"`
	ReadOnlyPaths  []string `json:"read_only_paths"`
	SeccompProfile string   `json:"seccomp_profile"`
	DisableNetwork bool     `json:"disable_network"`
}
