// Package termio provides raw-mode terminal passthrough for an
// interactive `felix86 run`. Unlike the teacher's container/exec.go,
// felix86 does not allocate a fresh pseudoterminal for the guest — the
// guest inherits the host's own stdin/stdout/stderr directly, the same
// way a native binary run from a shell would — so only the raw-mode
// enter/restore and window-size propagation pieces of the original
// pattern apply here.
package termio

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"
)

// RawSession holds the terminal state needed to restore cooked mode.
type RawSession struct {
	fd       int
	oldState *term.State
}

// EnterRaw puts stdin into raw mode if it is a terminal, returning a
// session to later restore it. If stdin is not a terminal (e.g. input is
// redirected from a file or pipe), EnterRaw is a no-op and Restore does
// nothing.
func EnterRaw() (*RawSession, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return &RawSession{fd: fd}, nil
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return &RawSession{fd: fd, oldState: oldState}, nil
}

// Restore returns the terminal to its original (cooked) mode.
func (s *RawSession) Restore() error {
	if s.oldState == nil {
		return nil
	}
	return term.Restore(s.fd, s.oldState)
}

// Size returns the current terminal width and height.
func Size() (width, height int, err error) {
	return term.GetSize(int(os.Stdin.Fd()))
}

// WatchResize invokes onResize once immediately and again every time the
// host terminal receives SIGWINCH, until stop is closed. The guest's
// recompiled code consults this to keep ioctl(TIOCGWINSZ) answers honest
// without felix86 owning a PTY of its own.
func WatchResize(stop <-chan struct{}, onResize func(width, height int)) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)
	defer signal.Stop(ch)

	if w, h, err := Size(); err == nil {
		onResize(w, h)
	}

	for {
		select {
		case <-stop:
			return
		case <-ch:
			if w, h, err := Size(); err == nil {
				onResize(w, h)
			}
		}
	}
}
