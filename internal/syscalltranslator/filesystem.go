// Package syscalltranslator implements the filesystem-facing slice of
// felix86's syscall translation layer plus the 32-bit socket ABI shims:
// thin wrappers that resolve paths via pathresolver.Resolver, issue the
// equivalent host syscall through the raw syscall interface (never the
// libc wrapper, to preserve errno semantics and avoid library-level path
// rewriting), and post-process the result.
//
// Grounded on original_source/src/felix86/hle/filesystem.cpp.
package syscalltranslator

import (
	"path/filepath"
	"strings"

	"felix86/errors"
	"felix86/internal/emulatednode"
	"felix86/internal/globalstate"
	"felix86/internal/pathresolver"

	"golang.org/x/sys/unix"
)

// Translator issues host filesystem syscalls on behalf of resolved guest
// paths, substituting synthesized content for the emulated /proc nodes
// after a successful open.
type Translator struct {
	resolver *pathresolver.Resolver
	state    *globalstate.State
	nodes    *emulatednode.Table
}

// New builds a Translator over the given resolver, process-wide state,
// and emulated-node table (nodes may be nil: openat then never
// substitutes).
func New(resolver *pathresolver.Resolver, state *globalstate.State, nodes *emulatednode.Table) *Translator {
	return &Translator{resolver: resolver, state: state, nodes: nodes}
}

func followFlag(noFollow bool) bool { return !noFollow }

// OpenAt resolves filename against fd and issues the host openat. On
// success, it statxes the result and substitutes a synthesized emulated
// node if the opened inode matches one.
func (tr *Translator) OpenAt(fd int, filename string, flags int, mode uint32) (int, error) {
	follow := followFlag(flags&unix.O_NOFOLLOW != 0)
	newFD, newPath, err := tr.resolver.Resolve(fd, filename, follow)
	if err != nil {
		return -1, err
	}

	openedFD, err := unix.Openat(newFD, newPath, flags, mode)
	if err != nil {
		return -1, err
	}

	if tr.nodes == nil {
		return openedFD, nil
	}

	replacement, matched, err := emulatednode.MatchOpenFD(tr.nodes, openedFD, flags)
	if err != nil {
		return -1, err
	}
	if matched {
		return replacement, nil
	}
	return openedFD, nil
}

// FAccessAt resolves filename against fd and issues the host
// faccessat2, preserving the mode/flags semantics the guest requested.
func (tr *Translator) FAccessAt(fd int, filename string, mode uint32, flags int) error {
	follow := followFlag(flags&unix.AT_SYMLINK_NOFOLLOW != 0)
	newFD, newPath, err := tr.resolver.Resolve(fd, filename, follow)
	if err != nil {
		return err
	}
	return unix.Faccessat(newFD, newPath, mode, flags)
}

// FStatAt resolves filename against fd and issues the host fstatat.
func (tr *Translator) FStatAt(fd int, filename string, stat *unix.Stat_t, flags int) error {
	follow := followFlag(flags&unix.AT_SYMLINK_NOFOLLOW != 0)
	newFD, newPath, err := tr.resolver.Resolve(fd, filename, follow)
	if err != nil {
		return err
	}
	return unix.Fstatat(newFD, newPath, stat, flags)
}

// Statx resolves filename against fd and issues the host statx.
func (tr *Translator) Statx(fd int, filename string, flags int, mask uint32, stat *unix.Statx_t) error {
	follow := followFlag(flags&unix.AT_SYMLINK_NOFOLLOW != 0)
	newFD, newPath, err := tr.resolver.Resolve(fd, filename, follow)
	if err != nil {
		return err
	}
	return unix.Statx(newFD, newPath, flags, int(mask), stat)
}

// ReadlinkAt resolves filename, reads the host link target, and strips
// the rootfs prefix before truncating to bufsiz — except for the
// /proc/self/exe family, where the guest's recorded executable path is
// returned directly rather than readlink-ing the resolved path, since the
// resolved path is not itself a symlink.
func (tr *Translator) ReadlinkAt(fd int, filename string, bufsiz int) (string, error) {
	if pathresolver.IsProcSelfExe(filename) {
		_, resolved, err := tr.resolver.Resolve(fd, filename, false)
		if err != nil {
			return "", err
		}
		stem := tr.removeRootfsPrefix(resolved)
		if len(stem) > bufsiz {
			stem = stem[:bufsiz]
		}
		return stem, nil
	}

	newFD, newPath, err := tr.resolver.Resolve(fd, filename, false)
	if err != nil {
		return "", err
	}

	buf := make([]byte, bufsiz)
	n, err := unix.Readlinkat(newFD, newPath, buf)
	if err != nil {
		return "", err
	}

	stripped := tr.removeRootfsPrefix(string(buf[:n]))
	if len(stripped) > bufsiz {
		stripped = stripped[:bufsiz]
	}
	return stripped, nil
}

// Getcwd issues the host getcwd and strips the rootfs prefix from the
// result before returning it to the guest.
func (tr *Translator) Getcwd() (string, error) {
	buf := make([]byte, unix.PathMax)
	n, err := unix.Getcwd(buf)
	if err != nil {
		return "", err
	}
	cwd := strings.TrimRight(string(buf[:n]), "\x00")
	return tr.removeRootfsPrefix(cwd), nil
}

// SymlinkAt resolves newname against newfd (oldname is never resolved —
// it is stored verbatim as the link target, exactly as symlinkat does on
// the host) and issues the host symlinkat.
func (tr *Translator) SymlinkAt(oldname string, newfd int, newname string) error {
	if oldname == "" || newname == "" {
		return errors.New(errors.ErrInternal, "symlinkat", "oldname and newname must both be set")
	}
	resolvedFD, resolvedPath, err := tr.resolver.Resolve(newfd, newname, false)
	if err != nil {
		return err
	}
	return unix.Symlinkat(oldname, resolvedFD, resolvedPath)
}

// RenameAt2 resolves both paths and issues the host renameat2.
func (tr *Translator) RenameAt2(oldfd int, oldname string, newfd int, newname string, flags uint) error {
	if oldname == "" || newname == "" {
		return errors.New(errors.ErrInternal, "renameat2", "oldname and newname must both be set")
	}
	oldResolvedFD, oldResolvedPath, err := tr.resolver.Resolve(oldfd, oldname, false)
	if err != nil {
		return err
	}
	newResolvedFD, newResolvedPath, err := tr.resolver.Resolve(newfd, newname, false)
	if err != nil {
		return err
	}
	return unix.Renameat2(oldResolvedFD, oldResolvedPath, newResolvedFD, newResolvedPath, flags)
}

// Chmod resolves filename (following symlinks) and issues the host chmod.
func (tr *Translator) Chmod(filename string, mode uint32) error {
	path, err := tr.resolver.ResolveAbsolute(filename, true)
	if err != nil {
		return err
	}
	if path == "" {
		path = filename
	}
	return unix.Chmod(path, mode)
}

// Chown resolves filename (following symlinks) and issues the host chown.
func (tr *Translator) Chown(filename string, uid, gid int) error {
	path, err := tr.resolver.ResolveAbsolute(filename, true)
	if err != nil {
		return err
	}
	if path == "" {
		path = filename
	}
	return unix.Chown(path, uid, gid)
}

// LChown resolves filename (not following the last symlink) and issues
// the host lchown.
func (tr *Translator) LChown(filename string, uid, gid int) error {
	path, err := tr.resolver.ResolveAbsolute(filename, false)
	if err != nil {
		return err
	}
	if path == "" {
		path = filename
	}
	return unix.Lchown(path, uid, gid)
}

// Chdir resolves filename (following symlinks) and issues the host chdir.
func (tr *Translator) Chdir(filename string) error {
	path, err := tr.resolver.ResolveAbsolute(filename, true)
	if err != nil {
		return err
	}
	if path == "" {
		path = filename
	}
	return unix.Chdir(path)
}

// MkdirAt resolves filename against fd (following symlinks on the base
// path) and issues the host mkdirat.
func (tr *Translator) MkdirAt(fd int, filename string, mode uint32) error {
	newFD, newPath, err := tr.resolver.Resolve(fd, filename, true)
	if err != nil {
		return err
	}
	return unix.Mkdirat(newFD, newPath, mode)
}

// UnlinkAt resolves filename against fd and issues the host unlinkat.
func (tr *Translator) UnlinkAt(fd int, filename string, flags int) error {
	if filename == "" {
		return errors.New(errors.ErrInternal, "unlinkat", "filename must not be empty")
	}
	newFD, newPath, err := tr.resolver.Resolve(fd, filename, false)
	if err != nil {
		return err
	}
	return unix.Unlinkat(newFD, newPath, flags)
}

// Rmdir resolves dir (following symlinks) and issues the host rmdir.
func (tr *Translator) Rmdir(dir string) error {
	path, err := tr.resolver.ResolveAbsolute(dir, true)
	if err != nil {
		return err
	}
	if path == "" {
		path = dir
	}
	return unix.Rmdir(path)
}

// Truncate resolves path (following symlinks) and issues the host
// truncate.
func (tr *Translator) Truncate(path string, length int64) error {
	resolved, err := tr.resolver.ResolveAbsolute(path, true)
	if err != nil {
		return err
	}
	if resolved == "" {
		resolved = path
	}
	return unix.Truncate(resolved, length)
}

// Chroot probes chroot("/") for permission first, then resolves the
// target, updates the process-wide rootfs path/fd pair, and closes the
// previous rootfs descriptor.
func (tr *Translator) Chroot(path string) error {
	if err := unix.Chroot("/"); err != nil {
		return err
	}
	if path == "" {
		return errors.New(errors.ErrInternal, "chroot", "target path must not be empty")
	}

	resolved, err := tr.resolver.ResolveAbsolute(path, true)
	if err != nil {
		return err
	}

	newFD, err := unix.Open(resolved, unix.O_DIRECTORY, 0)
	if err != nil {
		return err
	}

	tr.state.Lock()
	oldFD := tr.state.RootfsFD()
	tr.state.SetRootfs(resolved, newFD)
	tr.state.Unlock()

	if oldFD > 0 {
		unix.Close(oldFD)
	}
	return nil
}

// Mount resolves source and target (when present) and issues the host
// mount.
func (tr *Translator) Mount(source, target, fstype string, flags uintptr, data string) error {
	follow := flags&unix.MS_NOSYMFOLLOW == 0
	sptr, tptr := source, target
	var err error
	if source != "" {
		sptr, err = tr.resolver.ResolveAbsolute(source, follow)
		if err != nil {
			return err
		}
	}
	if target != "" {
		tptr, err = tr.resolver.ResolveAbsolute(target, follow)
		if err != nil {
			return err
		}
	}
	return unix.Mount(sptr, tptr, fstype, flags, data)
}

// Umount resolves path and issues the host umount2.
func (tr *Translator) Umount(path string, flags int) error {
	const umountNoFollow = 0x8
	follow := flags&umountNoFollow == 0
	resolved, err := tr.resolver.ResolveAbsolute(path, follow)
	if err != nil {
		return err
	}
	if resolved == "" {
		resolved = path
	}
	return unix.Unmount(resolved, flags)
}

// removeRootfsPrefix strips a leading rootfs path from path, restoring
// the guest's view where rootfs is "/". The rootfs path is normalized via
// filepath.Clean before the comparison, so a trailing slash on it does not
// defeat the prefix check; path itself is compared as given.
func (tr *Translator) removeRootfsPrefix(path string) string {
	tr.state.Lock()
	rootfs := filepath.Clean(tr.state.RootfsPath())
	tr.state.Unlock()

	if rootfs == "" || rootfs == "/" {
		return path
	}
	if path == rootfs {
		return "/"
	}
	if strings.HasPrefix(path, rootfs+"/") {
		return path[len(rootfs):]
	}
	return path
}
