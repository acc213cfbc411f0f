// Package errors provides predefined sentinel errors for common failure cases.
package errors

// Config errors.
var (
	// ErrConfigDirUnresolvable indicates neither SUDO_HOME nor HOME is set.
	ErrConfigDirUnresolvable = &FelixError{
		Kind:   ErrConfig,
		Detail: "cannot determine config directory: SUDO_HOME and HOME are both unset",
	}

	// ErrConfigRequiredMissing indicates a required field has no value.
	ErrConfigRequiredMissing = &FelixError{
		Kind:   ErrConfig,
		Detail: "required config field has no value",
	}

	// ErrConfigMalformedTOML indicates the TOML file could not be parsed.
	ErrConfigMalformedTOML = &FelixError{
		Kind:   ErrConfig,
		Detail: "malformed TOML configuration",
	}

	// ErrConfigSnapshotMissing indicates __FELIX86_CONFIG was not set.
	ErrConfigSnapshotMissing = &FelixError{
		Kind:   ErrConfig,
		Detail: "__FELIX86_CONFIG not present in environment",
	}

	// ErrConfigSnapshotMalformed indicates the hex snapshot could not be decoded.
	ErrConfigSnapshotMalformed = &FelixError{
		Kind:   ErrConfig,
		Detail: "__FELIX86_CONFIG is empty or has odd length",
	}
)

// Path resolution errors.
var (
	// ErrResolveEscapesRootfs indicates the kernel refused containment.
	ErrResolveEscapesRootfs = &FelixError{
		Kind:   ErrResolve,
		Detail: "path escapes rootfs containment",
	}

	// ErrResolveNotContained indicates a best-effort path beneath rootfs was used.
	ErrResolveNotContained = &FelixError{
		Kind:   ErrResolve,
		Detail: "component does not exist beneath rootfs yet",
	}
)

// FD guard errors.
var (
	// ErrFDAlreadyProtected indicates a fd is already in the protected set.
	ErrFDAlreadyProtected = &FelixError{
		Kind:   ErrFD,
		Detail: "fd is already protected",
	}

	// ErrFDNotProtected indicates unprotectAndClose was called on a bare fd.
	ErrFDNotProtected = &FelixError{
		Kind:   ErrFD,
		Detail: "fd is not protected",
	}

	// ErrFDReservedNumber indicates an attempt to protect fd 0, 1, or 2.
	ErrFDReservedNumber = &FelixError{
		Kind:   ErrFD,
		Detail: "fd must be greater than 2",
	}

	// ErrFDNoHighNumberAvailable indicates move_to_high_number exhausted its attempts.
	ErrFDNoHighNumberAvailable = &FelixError{
		Kind:   ErrFD,
		Detail: "no available fd found in [512, 1024) after 50 attempts",
	}
)

// Seccomp errors.
var (
	// ErrSeccompNilProgram indicates set_filter was called with a nil program.
	ErrSeccompNilProgram = &FelixError{
		Kind:   ErrSeccomp,
		Detail: "seccomp program pointer is nil",
	}

	// ErrSeccompUnsupportedClass indicates a BPF instruction class this JIT
	// does not implement (BPF_LDX, BPF_ST, BPF_STX, BPF_MISC).
	ErrSeccompUnsupportedClass = &FelixError{
		Kind:   ErrSeccomp,
		Detail: "unsupported BPF instruction class",
	}

	// ErrSeccompRetWithX indicates BPF_RET with SRC==X, which is unsupported.
	ErrSeccompRetWithX = &FelixError{
		Kind:   ErrSeccomp,
		Detail: "BPF_RET with SRC=X is unsupported",
	}
)

// Socket ABI errors.
var (
	// ErrSocketOptionNotAllowed indicates a getsockopt32/setsockopt32 option
	// outside the allowlist.
	ErrSocketOptionNotAllowed = &FelixError{
		Kind:   ErrSocket,
		Detail: "socket option not in 32-bit translation allowlist",
	}

	// ErrSocketControlBufferTooSmall indicates the host cmsg buffer could
	// not hold the translated control message chain.
	ErrSocketControlBufferTooSmall = &FelixError{
		Kind:   ErrSocket,
		Detail: "control message buffer too small after 32-to-64 translation",
	}
)

// Sudo lifecycle errors.
var (
	// ErrSudoMissingIDs indicates dropPermissions was called without both
	// SUDO_UID and SUDO_GID set.
	ErrSudoMissingIDs = &FelixError{
		Kind:   ErrSudo,
		Detail: "SUDO_UID and SUDO_GID must both be set to drop privileges",
	}

	// ErrSudoStillRoot indicates the drop did not take effect.
	ErrSudoStillRoot = &FelixError{
		Kind:   ErrSudo,
		Detail: "process is still uid 0 after dropping privileges",
	}
)
