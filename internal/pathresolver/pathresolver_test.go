package pathresolver

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"felix86/internal/globalstate"
	"felix86/internal/overlay"

	"golang.org/x/sys/unix"
)

func newTestResolver(t *testing.T) (*Resolver, string) {
	t.Helper()
	rootfs := t.TempDir()

	fd, err := unix.Open(rootfs, unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		t.Fatalf("failed to open rootfs dir: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })

	state := globalstate.New()
	state.Lock()
	state.SetRootfs(rootfs, fd)
	state.SetExecutablePathAbsolute(filepath.Join(rootfs, "usr/bin/guest"))
	state.Unlock()

	return New(state, nil), rootfs
}

func TestIsProcSelfExe(t *testing.T) {
	cases := map[string]bool{
		"/proc/self/exe":        true,
		"/proc/thread-self/exe": true,
		"/proc/" + strconv.Itoa(unix.Getpid()) + "/exe": true,
		"/proc/1/exe": false,
		"/etc/passwd": false,
		"":            false,
	}
	for path, want := range cases {
		if got := IsProcSelfExe(path); got != want {
			t.Errorf("IsProcSelfExe(%q) = %v, want %v", path, got, want)
		}
	}
}

func TestResolveRootPathReturnsRootfs(t *testing.T) {
	r, rootfs := newTestResolver(t)
	fd, path, err := r.Resolve(AtFDCWD, "/", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if fd != AtFDCWD || path != rootfs {
		t.Fatalf("Resolve(\"/\") = (%d, %q), want (%d, %q)", fd, path, AtFDCWD, rootfs)
	}
}

func TestResolveProcSelfExeShortCircuits(t *testing.T) {
	r, rootfs := newTestResolver(t)
	want := filepath.Join(rootfs, "usr/bin/guest")
	_, path, err := r.Resolve(AtFDCWD, "/proc/self/exe", false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if path != want {
		t.Fatalf("Resolve(/proc/self/exe) = %q, want %q", path, want)
	}
}

func TestResolveEmptyPathIsPassthrough(t *testing.T) {
	r, _ := newTestResolver(t)
	fd, path, err := r.Resolve(7, "", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if fd != 7 || path != "" {
		t.Fatalf("Resolve(fd, \"\") = (%d, %q), want (7, \"\")", fd, path)
	}
}

func TestResolveContainsAbsolutePathWithinRootfs(t *testing.T) {
	r, rootfs := newTestResolver(t)
	if err := os.MkdirAll(filepath.Join(rootfs, "etc"), 0o755); err != nil {
		t.Fatalf("setup MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(rootfs, "etc/hosts"), []byte("127.0.0.1 localhost\n"), 0o644); err != nil {
		t.Fatalf("setup WriteFile failed: %v", err)
	}

	_, path, err := r.Resolve(AtFDCWD, "/etc/hosts", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := filepath.Join(rootfs, "etc/hosts")
	if path != want {
		t.Fatalf("Resolve(/etc/hosts) = %q, want %q", path, want)
	}
}

func TestResolveNonexistentPathFallsBackToRootfsJoin(t *testing.T) {
	r, rootfs := newTestResolver(t)
	_, path, err := r.Resolve(AtFDCWD, "/does/not/exist", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := filepath.Join(rootfs, "does/not/exist")
	if path != want {
		t.Fatalf("Resolve(/does/not/exist) = %q, want %q", path, want)
	}
}

func TestResolveConsultsOverlay(t *testing.T) {
	rootfs := t.TempDir()
	hostLib := filepath.Join(t.TempDir(), "libGL.so.1")

	fd, err := unix.Open(rootfs, unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		t.Fatalf("failed to open rootfs dir: %v", err)
	}
	t.Cleanup(func() { unix.Close(fd) })

	state := globalstate.New()
	state.Lock()
	state.SetRootfs(rootfs, fd)
	state.Unlock()

	table := overlay.NewTable()
	table.Add("libGL.so.1", hostLib)

	r := New(state, table)
	_, path, err := r.Resolve(AtFDCWD, "/usr/lib/libGL.so.1", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if path != hostLib {
		t.Fatalf("Resolve with overlay = %q, want %q (the host replacement opened directly, bypassing rootfs)", path, hostLib)
	}
}

func TestResolveConsultsFakeMount(t *testing.T) {
	r, _ := newTestResolver(t)

	r.state.Lock()
	r.state.AddFakeMount(globalstate.FakeMount{SrcHostPath: "/proc", DstGuestPath: "/R/proc"})
	r.state.Unlock()

	_, path, err := r.Resolve(AtFDCWD, "/R/proc/self/ns/user", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := "/proc/self/ns/user"
	if path != want {
		t.Fatalf("Resolve through fake mount = %q, want %q", path, want)
	}
}

func TestResolveFakeMountExactMatch(t *testing.T) {
	r, _ := newTestResolver(t)

	r.state.Lock()
	r.state.AddFakeMount(globalstate.FakeMount{SrcHostPath: "/proc", DstGuestPath: "/R/proc"})
	r.state.Unlock()

	_, path, err := r.Resolve(AtFDCWD, "/R/proc", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if path != "/proc" {
		t.Fatalf("Resolve(/R/proc) = %q, want /proc", path)
	}
}

func TestResolveTrustedFolderBecomesFakeMount(t *testing.T) {
	r, _ := newTestResolver(t)

	r.state.Lock()
	r.state.AddTrustedFolder("/opt/thunks")
	r.state.Unlock()

	_, path, err := r.Resolve(AtFDCWD, "/run/felix86/trusted/opt/thunks/libfoo.so", true)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	want := "/opt/thunks/libfoo.so"
	if path != want {
		t.Fatalf("Resolve through synthesized trusted mount = %q, want %q", path, want)
	}
}

func TestResolveAbsoluteRelativePathPassesThrough(t *testing.T) {
	r, _ := newTestResolver(t)
	path, err := r.ResolveAbsolute("relative/file", true)
	if err != nil {
		t.Fatalf("ResolveAbsolute failed: %v", err)
	}
	if path != "relative/file" {
		t.Fatalf("ResolveAbsolute(relative) = %q, want unchanged", path)
	}
}

func TestResolveAbsoluteEmptyPath(t *testing.T) {
	r, _ := newTestResolver(t)
	path, err := r.ResolveAbsolute("", true)
	if err != nil {
		t.Fatalf("ResolveAbsolute failed: %v", err)
	}
	if path != "" {
		t.Fatalf("ResolveAbsolute(\"\") = %q, want \"\"", path)
	}
}
