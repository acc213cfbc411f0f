// Package sudo implements the hasPermissions/requestPermissions/
// dropPermissions lifecycle felix86 uses to run as root just long enough
// to set up the rootfs, then drop back to the invoking user.
//
// Grounded on original_source/src/felix86/common/sudo.cpp; setUid/setGid/
// execProcess are adapted from container/syscalls.go's thin syscall
// wrappers, renamed to this domain.
package sudo

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"

	"felix86/errors"

	"golang.org/x/sys/unix"
)

// HasPermissions reports whether the effective UID is 0.
func HasPermissions() bool {
	return unix.Geteuid() == 0
}

// execProcess replaces the current process image; it does not return on
// success.
func execProcess(path string, args []string, env []string) error {
	return syscall.Exec(path, args, env)
}

func setUid(uid int) error { return syscall.Setuid(uid) }
func setGid(gid int) error { return syscall.Setgid(gid) }

// RequestPermissions re-execs the current process under "sudo -E",
// preserving argv and the environment. Does not return on success.
func RequestPermissions(argv []string) error {
	sudoPath, err := exec.LookPath("sudo")
	if err != nil {
		return errors.Wrap(err, errors.ErrSudo, "request_permissions")
	}

	args := append([]string{"sudo", "-E"}, argv...)
	if err := execProcess(sudoPath, args, os.Environ()); err != nil {
		return errors.Wrap(err, errors.ErrSudo, "request_permissions")
	}
	return nil // unreachable on success
}

// DropPermissions requires both SUDO_UID and SUDO_GID to be set; after
// setgid+setuid it asserts neither the real nor effective UID is still 0,
// failing loudly if the drop silently did not take effect.
func DropPermissions() error {
	uidStr := os.Getenv("SUDO_UID")
	gidStr := os.Getenv("SUDO_GID")
	if uidStr == "" || gidStr == "" {
		return errors.ErrSudoMissingIDs
	}

	gid, err := strconv.Atoi(gidStr)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrSudo, "drop_permissions", "SUDO_GID is not a valid integer")
	}
	uid, err := strconv.Atoi(uidStr)
	if err != nil {
		return errors.WrapWithDetail(err, errors.ErrSudo, "drop_permissions", "SUDO_UID is not a valid integer")
	}

	if err := setGid(gid); err != nil {
		return errors.Wrap(err, errors.ErrSudo, "drop_permissions")
	}
	if err := setUid(uid); err != nil {
		return errors.Wrap(err, errors.ErrSudo, "drop_permissions")
	}

	if unix.Geteuid() == 0 || unix.Getuid() == 0 {
		return errors.ErrSudoStillRoot
	}
	return nil
}
