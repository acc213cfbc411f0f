// Package pathresolver translates every guest filesystem path (and
// fd-relative path) into a host path rooted at the configured rootfs,
// containing symlink resolution inside it with openat2's
// RESOLVE_IN_ROOT so the guest can never escape via ".." or an absolute
// symlink target.
//
// Grounded on original_source/src/felix86/hle/filesystem.cpp's
// Filesystem::resolve/resolveImpl/isProcSelfExe/removeRootfsPrefix.
package pathresolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"felix86/errors"
	"felix86/internal/globalstate"
	"felix86/internal/overlay"

	"golang.org/x/sys/unix"
)

// AtFDCWD mirrors the AT_FDCWD sentinel fd value accepted by the *at
// syscalls in place of a real directory fd.
const AtFDCWD = unix.AT_FDCWD

// Resolver resolves guest paths against a process-wide rootfs. The zero
// value is not usable; construct with New.
type Resolver struct {
	state   *globalstate.State
	overlay overlay.Resolver // nil is valid: no overlays registered
}

// New builds a Resolver over the given process-wide state. ov may be nil.
func New(state *globalstate.State, ov overlay.Resolver) *Resolver {
	return &Resolver{state: state, overlay: ov}
}

// IsProcSelfExe reports whether path names the running process's own
// executable via one of the three magic-link spellings the kernel
// recognizes: /proc/self/exe, /proc/thread-self/exe, or /proc/<pid>/exe.
func IsProcSelfExe(path string) bool {
	if path == "" {
		return false
	}
	if path == "/proc/self/exe" || path == "/proc/thread-self/exe" {
		return true
	}
	return path == "/proc/"+strconv.Itoa(unix.Getpid())+"/exe"
}

// removeRootfsPrefixLocked strips a leading rootfs path from path, leaving a
// guest-visible absolute path. Used after readlink/getcwd return a host
// path that must be reported back to the guest as if rootfs were "/".
// Caller must hold the state lock.
func (r *Resolver) removeRootfsPrefixLocked(path string) string {
	rootfs := filepath.Clean(r.state.RootfsPath())
	if rootfs == "" || rootfs == "/" {
		return path
	}
	if path == rootfs {
		return "/"
	}
	if len(path) > len(rootfs) && path[:len(rootfs)] == rootfs && path[len(rootfs)] == '/' {
		return path[len(rootfs):]
	}
	return path
}

// Resolve is the fd-relative form: given a directory fd (or AtFDCWD) and
// a path, it returns a (newFD, newPath) pair an *at syscall can be
// issued against directly, with symlinks resolved inside the rootfs
// according to followSymlinks.
func (r *Resolver) Resolve(fd int, path string, followSymlinks bool) (int, string, error) {
	if path == "" {
		// A null pathname: some *at syscalls use AT_EMPTY_PATH against an
		// already-open fd and have no path component to resolve.
		return fd, "", nil
	}

	if path == "/" {
		r.state.Lock()
		rootfs := r.state.RootfsPath()
		r.state.Unlock()
		return AtFDCWD, rootfs, nil
	}

	if IsProcSelfExe(path) {
		r.state.Lock()
		exe := r.state.ExecutablePathAbsolute()
		r.state.Unlock()
		return AtFDCWD, exe, nil
	}

	resolveMe, err := r.toAbsolute(fd, path)
	if err != nil {
		return fd, "", err
	}

	if r.overlay != nil {
		if host, ok := r.overlay.IsOverlay(resolveMe); ok {
			return AtFDCWD, host, nil
		}
	}

	r.state.Lock()
	fakeMounts := r.state.FakeMounts()
	r.state.Unlock()

	if host, ok := matchFakeMount(fakeMounts, resolveMe); ok {
		return AtFDCWD, host, nil
	}

	r.state.Lock()
	rootfsFD := r.state.RootfsFD()
	rootfsPath := r.state.RootfsPath()
	r.state.Unlock()

	if followSymlinks {
		newPath, ok := openInRoot(rootfsFD, resolveMe)
		if ok {
			return AtFDCWD, newPath, nil
		}
		return AtFDCWD, filepath.Join(rootfsPath, resolveMe), nil
	}

	base := filepath.Dir(resolveMe)
	final := filepath.Base(resolveMe)
	newBase, ok := openInRoot(rootfsFD, base)
	if ok {
		return AtFDCWD, filepath.Join(newBase, final), nil
	}
	return AtFDCWD, filepath.Join(rootfsPath, resolveMe), nil
}

// ResolveAbsolute is the single-path form used by syscalls that take no
// directory fd (chdir, chmod, mount, ...): an absolute path is resolved
// exactly like Resolve; an empty or relative path is returned unchanged.
func (r *Resolver) ResolveAbsolute(path string, followSymlinks bool) (string, error) {
	if path == "" {
		return "", nil
	}
	if path[0] != '/' {
		// Non-absolute paths with no accompanying fd are passed through
		// unchanged; the caller issues the syscall relative to its own cwd.
		return path, nil
	}

	_, newPath, err := r.Resolve(AtFDCWD, path, followSymlinks)
	if err != nil {
		return "", err
	}
	if newPath == "" || newPath[0] != '/' {
		return "", errors.WrapWithDetail(nil, errors.ErrResolve, "resolve_absolute",
			fmt.Sprintf("resolved path %q for input %q is not absolute", newPath, path))
	}
	return newPath, nil
}

// toAbsolute reproduces resolveImpl's path-to-absolute-path conversion:
// an already-absolute path is used as-is; a relative path is joined
// against either the current working directory (fd == AtFDCWD) or the
// directory named by fd, discovered via /proc/self/fd/<fd>.
func (r *Resolver) toAbsolute(fd int, path string) (string, error) {
	if path[0] == '/' {
		return path, nil
	}

	var dir string
	if fd == AtFDCWD {
		cwd, err := os.Getwd()
		if err != nil {
			return "", errors.Wrap(err, errors.ErrResolve, "getwd")
		}
		dir = cwd
	} else {
		link, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
		if err != nil {
			return "", errors.WrapWithDetail(err, errors.ErrResolve, "readlink_fd",
				fmt.Sprintf("failed to read path for fd %d", fd))
		}
		dir = link
	}

	joined := filepath.Join(dir, path)

	r.state.Lock()
	joined = r.removeRootfsPrefixLocked(joined)
	r.state.Unlock()

	if joined == "" || joined[0] != '/' {
		return "", errors.WrapWithDetail(nil, errors.ErrResolve, "to_absolute",
			fmt.Sprintf("expected an absolute path, got %q", joined))
	}
	return joined, nil
}

// matchFakeMount checks resolveMe (an already-absolute guest path) against
// the fake-mount list, returning the host path it maps to when one of the
// mounts' DstGuestPath is a prefix of it. A fake mount bypasses rootfs
// containment entirely: the guest sees DstGuestPath as if it were rootfs
// itself, but the real open happens at SrcHostPath, e.g. a fake mount of
// "/proc" at "/R/proc" lets "/R/proc/self/ns/user" resolve straight to the
// host's own "/proc/self/ns/user" instead of a rootfs-relative path.
func matchFakeMount(mounts []globalstate.FakeMount, resolveMe string) (string, bool) {
	for _, m := range mounts {
		dst := filepath.Clean(m.DstGuestPath)
		if resolveMe == dst {
			return m.SrcHostPath, true
		}
		if len(resolveMe) > len(dst) && resolveMe[:len(dst)] == dst && resolveMe[len(dst)] == '/' {
			return filepath.Join(m.SrcHostPath, resolveMe[len(dst):]), true
		}
	}
	return "", false
}

// openInRoot resolves path inside the rootfs directory fd with
// RESOLVE_IN_ROOT|RESOLVE_NO_MAGICLINKS, the containment primitive that
// makes escape via ".." or an absolute symlink target impossible: the
// kernel itself enforces the boundary, rather than felix86 pattern
// matching on ".." components. Returns the resolved host path and
// whether resolution succeeded; callers fall back to a plain rootfs-join
// when it fails (e.g. a not-yet-existing path about to be created).
func openInRoot(rootfsFD int, path string) (string, bool) {
	how := unix.OpenHow{
		Flags:   unix.O_PATH,
		Resolve: unix.RESOLVE_IN_ROOT | unix.RESOLVE_NO_MAGICLINKS,
	}

	pathFD, err := unix.Openat2(rootfsFD, path, &how)
	if err != nil {
		return "", false
	}
	defer unix.Close(pathFD)

	resolved, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", pathFD))
	if err != nil {
		return "", false
	}
	return resolved, true
}
