package engine

import (
	"encoding/json"

	"codejudge/internal/judge/sandbox/security"
	"codejudge/internal/judge/sandbox/spec"
)

// Exit code the sandbox-init helper uses when it cannot build the sandbox.
const helperSetupExitCode = 120

// initRequest is the JSON document sandbox-init reads from its stdin.
// The program's stdin, stdout and stderr arrive as fds 3, 4 and 5.
type initRequest struct {
	WorkDir       string                    `json:"work_dir"`
	Cmd           []string                  `json:"cmd"`
	Env           []string                  `json:"env"`
	RootDir       string                    `json:"root_dir,omitempty"`
	BindMounts    []spec.MountSpec          `json:"bind_mounts,omitempty"`
	Limits        spec.ResourceLimit        `json:"limits"`
	Isolation     security.IsolationProfile `json:"isolation"`
	SeccompPolicy json.RawMessage           `json:"seccomp_policy,omitempty"`
	EnableSeccomp bool                      `json:"enable_seccomp"`
	EnableNs      bool                      `json:"enable_ns"`
	CgroupLimited bool                      `json:"cgroup_limited"`
}
