// Package globalstate holds the single process-wide structure felix86's
// core subsystems share: the protected-fd set, the fake-mount and
// trusted-folder lists, the rootfs path/descriptor pair, and the current
// and initial configuration snapshots.
//
// The original design scattered this as several module-level globals
// (current_config, initial_config, rootfs_fd, fake_mounts, protected_fds).
// Here they are fields of one struct guarded by one mutex, passed by
// reference to every collaborator that needs it, per the design note that
// calls for a process-wide context instead of package-level globals.
package globalstate

import (
	"sync"

	"felix86/internal/config"
)

// FakeMount overlays a host directory at a guest-visible location,
// bypassing rootfs containment for everything beneath it.
type FakeMount struct {
	SrcHostPath  string
	DstGuestPath string
}

// State is the process-wide context. Zero value is not usable; construct
// with New.
type State struct {
	mu sync.Mutex

	protected map[int]struct{}

	fakeMounts     []FakeMount
	trustedFolders []string

	rootfsPath string
	rootfsFD   int

	currentConfig *config.Record
	initialConfig *config.Record

	// executablePathAbsolute is the guest's loaded executable path, as
	// recorded by the (out of scope) ELF loader, used for the
	// /proc/self/exe magic-link short circuit.
	executablePathAbsolute string
}

// New constructs an empty process-wide context. Callers install the
// rootfs and config after construction, then share *State by reference.
func New() *State {
	return &State{
		protected: make(map[int]struct{}),
	}
}

// Lock and Unlock expose the process-wide lock (states_lock) directly for
// callers that need to hold it across more than one of the methods below,
// such as PathResolver reading rootfs_path before an unlocked openat2.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// Protected reports whether fd is in the protected-fd set. Caller must
// hold the lock (see FDGuard, which takes it internally).
func (s *State) Protected(fd int) bool {
	_, ok := s.protected[fd]
	return ok
}

// AddProtected inserts fd into the protected-fd set. Caller must hold the lock.
func (s *State) AddProtected(fd int) { s.protected[fd] = struct{}{} }

// RemoveProtected removes fd from the protected-fd set. Caller must hold the lock.
func (s *State) RemoveProtected(fd int) { delete(s.protected, fd) }

// ProtectedFDs returns an unordered snapshot copy of the protected-fd
// set. Caller must hold the lock for the duration of use if it needs a
// consistent view; the returned slice itself is a copy.
func (s *State) ProtectedFDs() []int {
	out := make([]int, 0, len(s.protected))
	for fd := range s.protected {
		out = append(out, fd)
	}
	return out
}

// RootfsPath returns the current rootfs path. Caller must hold the lock.
func (s *State) RootfsPath() string { return s.rootfsPath }

// RootfsFD returns the current O_PATH descriptor on the rootfs. Caller
// must hold the lock.
func (s *State) RootfsFD() int { return s.rootfsFD }

// SetRootfs atomically (from the caller's perspective) replaces both the
// rootfs path and descriptor. Caller must hold the lock.
func (s *State) SetRootfs(path string, fd int) {
	s.rootfsPath = path
	s.rootfsFD = fd
}

// FakeMounts returns a copy of the fake-mount list. Caller must hold the lock.
func (s *State) FakeMounts() []FakeMount {
	out := make([]FakeMount, len(s.fakeMounts))
	copy(out, s.fakeMounts)
	return out
}

// AddFakeMount appends a fake mount. Caller must hold the lock.
func (s *State) AddFakeMount(m FakeMount) { s.fakeMounts = append(s.fakeMounts, m) }

// TrustedFolders returns a copy of the trusted-folder list. Caller must hold the lock.
func (s *State) TrustedFolders() []string {
	out := make([]string, len(s.trustedFolders))
	copy(out, s.trustedFolders)
	return out
}

// trustedMountPrefix is the guest-visible root under which every trusted
// folder is synthesized a fake mount, per spec.md §4.3 ("Trusted folders
// appear as fake mounts at a synthesized guest destination"). Mirroring the
// host path underneath it keeps distinct trusted folders from colliding.
const trustedMountPrefix = "/run/felix86/trusted"

// AddTrustedFolder appends a trusted folder and registers a corresponding
// fake mount at a synthesized guest destination under trustedMountPrefix,
// so PathResolver's fake-mount check picks it up like any other. Caller
// must hold the lock.
func (s *State) AddTrustedFolder(path string) {
	s.trustedFolders = append(s.trustedFolders, path)
	s.fakeMounts = append(s.fakeMounts, FakeMount{
		SrcHostPath:  path,
		DstGuestPath: trustedMountPrefix + path,
	})
}

// CurrentConfig returns the live, mutable configuration snapshot. Caller
// must hold the lock for consistent reads across fields.
func (s *State) CurrentConfig() *config.Record { return s.currentConfig }

// SetCurrentConfig installs the live configuration. Caller must hold the lock.
func (s *State) SetCurrentConfig(r *config.Record) { s.currentConfig = r }

// InitialConfig returns the immutable startup snapshot, used as the
// cross-execve payload. Never mutated after SetInitialConfig is called
// once at startup.
func (s *State) InitialConfig() *config.Record { return s.initialConfig }

// SetInitialConfig installs the immutable startup snapshot. Intended to
// be called exactly once, at process start.
func (s *State) SetInitialConfig(r *config.Record) { s.initialConfig = r }

// ExecutablePathAbsolute returns the guest's loaded executable path.
func (s *State) ExecutablePathAbsolute() string { return s.executablePathAbsolute }

// SetExecutablePathAbsolute records the guest's loaded executable path,
// supplied by the ELF loader (out of scope here).
func (s *State) SetExecutablePathAbsolute(path string) { s.executablePathAbsolute = path }
