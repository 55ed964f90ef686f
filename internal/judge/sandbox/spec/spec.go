// Package spec defines the execution specification and resource limits.
package spec

import "io"

const (
	DefaultWallTimeMs  int64 = 5000
	DefaultMemoryBytes int64 = 64 << 20
	DefaultOutputBytes int64 = 1 << 20
	DefaultPIDs        int64 = 32
)

// ResourceLimit describes hard limits enforced by the sandbox.
// OutputBytes bounds stdout and stderr combined.
type ResourceLimit struct {
	WallTimeMs  int64 `yaml:"wallTimeMs" json:"wall_time_ms"`
	CPUTimeMs   int64 `yaml:"cpuTimeMs" json:"cpu_time_ms,omitempty"`
	MemoryBytes int64 `yaml:"memoryBytes" json:"memory_bytes"`
	OutputBytes int64 `yaml:"outputBytes" json:"output_bytes"`
	StackBytes  int64 `yaml:"stackBytes" json:"stack_bytes,omitempty"`
	PIDs        int64 `yaml:"pids" json:"pids,omitempty"`
}

// DefaultLimits returns 5000 ms wall clock, 64 MiB memory and 1 MiB of output.
func DefaultLimits() ResourceLimit {
	return ResourceLimit{
		WallTimeMs:  DefaultWallTimeMs,
		MemoryBytes: DefaultMemoryBytes,
		OutputBytes: DefaultOutputBytes,
		PIDs:        DefaultPIDs,
	}
}

// WithDefaults fills every unset limit from DefaultLimits.
func (l ResourceLimit) WithDefaults() ResourceLimit {
	d := DefaultLimits()
	if l.WallTimeMs <= 0 {
		l.WallTimeMs = d.WallTimeMs
	}
	if l.MemoryBytes <= 0 {
		l.MemoryBytes = d.MemoryBytes
	}
	if l.OutputBytes <= 0 {
		l.OutputBytes = d.OutputBytes
	}
	if l.PIDs <= 0 {
		l.PIDs = d.PIDs
	}
	return l
}

// Scale multiplies the time and memory ceilings. Non-positive factors are ignored.
func (l ResourceLimit) Scale(timeFactor, memoryFactor float64) ResourceLimit {
	if timeFactor > 0 {
		l.WallTimeMs = int64(float64(l.WallTimeMs) * timeFactor)
		if l.CPUTimeMs > 0 {
			l.CPUTimeMs = int64(float64(l.CPUTimeMs) * timeFactor)
		}
	}
	if memoryFactor > 0 {
		l.MemoryBytes = int64(float64(l.MemoryBytes) * memoryFactor)
	}
	return l
}

// MountSpec describes a bind mount inside the sandbox.
type MountSpec struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

// RunSpec is the unified execution specification for one program run.
// Stdin is delivered on the program's standard input; Stdout and Stderr
// receive its output streams.
type RunSpec struct {
	SubmissionID string
	TestID       string
	WorkDir      string
	Cmd          []string
	Env          []string
	Stdin        io.Reader `json:"-"`
	Stdout       io.Writer `json:"-"`
	Stderr       io.Writer `json:"-"`
	BindMounts   []MountSpec
	Profile      string
	Image        string
	Limits       ResourceLimit
}
