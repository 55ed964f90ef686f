// Package security defines sandbox isolation and security profiles.
package security

// DefaultReadOnlyPaths are host paths exposed read-only inside a
// synthesized sandbox root so interpreters and their libraries resolve.
// Only the pieces of /etc the loader and runtimes read are listed; host
// identity and credential files stay out of the sandbox.
var DefaultReadOnlyPaths = []string{
	"/usr",
	"/bin",
	"/lib",
	"/lib64",
	"/etc/ld.so.cache",
	"/etc/alternatives",
	"/etc/localtime",
	"/etc/ssl",
}

// IsolationProfile describes namespace, filesystem and seccomp settings.
// An empty RootFS asks the helper to build a throwaway root from ReadOnlyPaths.
type IsolationProfile struct {
	RootFS         string   `json:"root_fs,omitempty"`
	ReadOnlyPaths  []string `json:"read_only_paths,omitempty"`
	SeccompProfile string   `json:"seccomp_profile,omitempty"`
	DisableNetwork bool     `json:"disable_network"`
}

// Normalize fills the read-only path list when the profile relies on a synthesized root.
func (p IsolationProfile) Normalize() IsolationProfile {
	if p.RootFS == "" && len(p.ReadOnlyPaths) == 0 {
		p.ReadOnlyPaths = append([]string(nil), DefaultReadOnlyPaths...)
	}
	return p
}
