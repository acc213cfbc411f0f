// Package fdguard implements FDGuard: the protected-fd set that keeps the
// guest from closing, duplicating over, or otherwise trampling the
// emulator's own file descriptors.
//
// Grounded on original_source/src/felix86/hle/fd.cpp for Protect,
// UnprotectAndClose, Close, and CloseRange. dup2/dup3 refusal and
// MoveToHighNumber are specified only in spec.md prose (fd.cpp does not
// show them) and are implemented directly from spec.md §4.2.
package fdguard

import (
	"log/slog"
	"math/rand"

	"felix86/errors"
	"felix86/internal/globalstate"
	"felix86/logging"

	"golang.org/x/sys/unix"
)

// Guard synchronizes protected-fd mutation and iteration under the
// process-wide lock exported by globalstate.State.
type Guard struct {
	state *globalstate.State
}

// New returns a Guard backed by the given process-wide state.
func New(state *globalstate.State) *Guard {
	return &Guard{state: state}
}

// Protect inserts fd (which must be > 2) into the protected set and sets
// FD_CLOEXEC on it.
func (g *Guard) Protect(fd int) error {
	if fd <= 2 {
		return errors.ErrFDReservedNumber
	}

	g.state.Lock()
	defer g.state.Unlock()
	if g.state.Protected(fd) {
		return errors.ErrFDAlreadyProtected
	}
	g.state.AddProtected(fd)

	// A process sharing this fd table across an execve duplicates
	// (unshares) the table first, so FD_CLOEXEC here never leaks our fd
	// to a CLONE_FILES sibling that is still running.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, unix.FD_CLOEXEC); err != nil {
		logging.Default().Warn("failed to set FD_CLOEXEC", slog.Int("fd", fd), slog.Any("error", err))
	}
	return nil
}

// UnprotectAndClose removes fd from the protected set and closes it. fd
// must already be protected.
func (g *Guard) UnprotectAndClose(fd int) error {
	g.state.Lock()
	defer g.state.Unlock()
	if !g.state.Protected(fd) {
		return errors.ErrFDNotProtected
	}
	g.state.RemoveProtected(fd)
	return unix.Close(fd)
}

// Close behaves as the host close(2) for fd <= 2. For a protected fd, it
// logs a warning and returns nil without closing: the guest observes
// success, but the descriptor stays open for the emulator.
func (g *Guard) Close(fd int) error {
	if fd <= 2 {
		return unix.Close(fd)
	}

	g.state.Lock()
	defer g.state.Unlock()
	if g.state.Protected(fd) {
		logging.Default().Warn("guest tried to close a protected fd", slog.Int("fd", fd))
		return nil
	}
	return unix.Close(fd)
}

// CloseRange walks the protected set in ascending order within
// [start, end] and issues one or more host close_range calls that skip
// every protected descriptor individually.
func (g *Guard) CloseRange(start, end uint32, flags uint) error {
	g.state.Lock()
	defer g.state.Unlock()

	protected := sortedProtected(g.state, start, end)

	currentStart := start
	for _, fd := range protected {
		u := uint32(fd)
		switch {
		case u == currentStart:
			logging.Default().Warn("guest tried to close a protected fd via close_range", slog.Int("fd", fd))
			currentStart++
		case u < currentStart:
			continue
		default:
			logging.Default().Warn("guest tried to close a protected fd via close_range", slog.Int("fd", fd))
			if err := unix.CloseRange(currentStart, u-1, flags); err != nil {
				return err
			}
			currentStart = u + 1
		}
	}

	if currentStart <= end {
		return unix.CloseRange(currentStart, end, flags)
	}
	return nil
}

func sortedProtected(state *globalstate.State, start, end uint32) []int {
	all := state.ProtectedFDs()
	out := make([]int, 0, len(all))
	for _, fd := range all {
		if fd >= int(start) && fd <= int(end) {
			out = append(out, fd)
		}
	}
	// Small sets; insertion sort keeps this dependency-free and obviously correct.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j-1] > out[j]; j-- {
			out[j-1], out[j] = out[j], out[j-1]
		}
	}
	return out
}

// Dup2 and Dup3 refuse with EBADF when newFD is protected, warning (but
// proceeding) when oldFD is protected.
func (g *Guard) Dup2(oldFD, newFD int) (int, error) {
	return g.dup(oldFD, newFD, 0, false)
}

func (g *Guard) Dup3(oldFD, newFD int, flags int) (int, error) {
	return g.dup(oldFD, newFD, flags, true)
}

func (g *Guard) dup(oldFD, newFD, flags int, useDup3 bool) (int, error) {
	g.state.Lock()
	if g.state.Protected(newFD) {
		g.state.Unlock()
		return -1, unix.EBADF
	}
	if g.state.Protected(oldFD) {
		logging.Default().Warn("guest duplicated a protected fd", slog.Int("fd", oldFD))
	}
	g.state.Unlock()

	if useDup3 {
		if err := unix.Dup3(oldFD, newFD, flags); err != nil {
			return -1, err
		}
		return newFD, nil
	}
	return unix.Dup2(oldFD, newFD)
}

// highFDRangeStart/End and maxAttempts bound MoveToHighNumber's random
// probe, per spec.md §4.2.
const (
	highFDRangeStart = 512
	highFDRangeEnd   = 1024
	maxAttempts      = 50
)

// MoveToHighNumber duplicates fd to an available descriptor number chosen
// by bounded random probe in [512, 1024), returning the new fd. Fails
// after 50 attempts.
func (g *Guard) MoveToHighNumber(fd int) (int, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		candidate := highFDRangeStart + rand.Intn(highFDRangeEnd-highFDRangeStart)
		if _, _, errno := unix.Syscall(unix.SYS_FCNTL, uintptr(candidate), unix.F_GETFD, 0); errno == 0 {
			continue // candidate already in use
		}
		newFD, err := unix.Dup2(fd, candidate)
		if err != nil {
			continue
		}
		return newFD, nil
	}
	return -1, errors.ErrFDNoHighNumberAvailable
}
