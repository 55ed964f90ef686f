package engine

import (
	"time"

	"codejudge/internal/judge/sandbox/security"
)

// ProfileResolver resolves a profile name into an isolation profile.
type ProfileResolver interface {
	Resolve(profile string) (security.IsolationProfile, error)
}

// DefaultSandboxID is the host uid and gid (nobody) a root service maps sandboxed programs to.
const DefaultSandboxID = 65534

// Config controls sandbox engine behavior.
type Config struct {
	Backend string

	// Process backend.
	HelperPath       string
	CgroupRoot       string
	SeccompDir       string
	RootDir          string
	EnableSeccomp    bool
	EnableCgroup     bool
	EnableNamespaces bool
	// Host ids the sandbox root maps to when the service runs as root.
	// Zero selects DefaultSandboxID.
	SandboxUID int
	SandboxGID int

	Docker DockerConfig
}

// DockerConfig controls the container backend.
type DockerConfig struct {
	Host         string
	DefaultImage string
	WorkDir      string
	TmpfsSize    string
	StopTimeout  time.Duration
}
