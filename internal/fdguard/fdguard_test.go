package fdguard

import (
	"os"
	"testing"

	"felix86/errors"
	"felix86/internal/globalstate"

	"golang.org/x/sys/unix"
)

func newTestGuard() *Guard {
	return New(globalstate.New())
}

func openTempFD(t *testing.T) int {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "fdguard")
	if err != nil {
		t.Fatalf("CreateTemp failed: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return int(f.Fd())
}

func TestProtectRejectsReservedFD(t *testing.T) {
	g := newTestGuard()
	for _, fd := range []int{0, 1, 2} {
		if err := g.Protect(fd); !errors.IsKind(err, errors.ErrFD) {
			t.Errorf("expected ErrFD for fd %d, got %v", fd, err)
		}
	}
}

func TestProtectAndCloseIsANoop(t *testing.T) {
	g := newTestGuard()
	fd := openTempFD(t)

	if err := g.Protect(fd); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}

	if err := g.Close(fd); err != nil {
		t.Fatalf("Close on a protected fd should succeed: %v", err)
	}

	// The fd must still be open: fcntl(F_GETFD) should not fail.
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		t.Fatalf("expected protected fd to remain open: %v", err)
	}

	if err := g.UnprotectAndClose(fd); err != nil {
		t.Fatalf("UnprotectAndClose failed: %v", err)
	}
}

func TestUnprotectAndCloseRequiresMembership(t *testing.T) {
	g := newTestGuard()
	fd := openTempFD(t)
	if err := g.UnprotectAndClose(fd); !errors.IsKind(err, errors.ErrFD) {
		t.Fatalf("expected ErrFD for an unprotected fd, got %v", err)
	}
}

func TestDup2RefusesProtectedTarget(t *testing.T) {
	g := newTestGuard()
	protectedFD := openTempFD(t)
	if err := g.Protect(protectedFD); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	defer g.UnprotectAndClose(protectedFD)

	sourceFD := openTempFD(t)
	if _, err := g.Dup2(sourceFD, protectedFD); err != unix.EBADF {
		t.Fatalf("expected EBADF duplicating over a protected fd, got %v", err)
	}
}

func TestDup2AllowsOldProtectedWithWarning(t *testing.T) {
	g := newTestGuard()
	protectedFD := openTempFD(t)
	if err := g.Protect(protectedFD); err != nil {
		t.Fatalf("Protect failed: %v", err)
	}
	defer g.UnprotectAndClose(protectedFD)

	targetFD := openTempFD(t)
	newFD, err := g.Dup2(protectedFD, targetFD)
	if err != nil {
		t.Fatalf("expected Dup2 to succeed duplicating FROM a protected fd, got %v", err)
	}
	if newFD != targetFD {
		t.Fatalf("expected new fd %d, got %d", targetFD, newFD)
	}
}
