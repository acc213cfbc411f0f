package emulatednode

import (
	"runtime"
	"strconv"
	"strings"
	"testing"
)

func TestDefaultCPUInfoReportsOneEntryPerCPU(t *testing.T) {
	info := DefaultCPUInfo()
	count := strings.Count(info, "processor\t:")
	if count != runtime.NumCPU() {
		t.Fatalf("got %d processor entries, want %d", count, runtime.NumCPU())
	}
	if !strings.Contains(info, "processor\t: 0\n") {
		t.Fatalf("expected first processor to be index 0, got: %q", info)
	}
	if !strings.Contains(info, "processor\t: "+strconv.Itoa(runtime.NumCPU()-1)+"\n") {
		t.Fatalf("expected last processor index %d present", runtime.NumCPU()-1)
	}
}

func TestNewTableRegistersBothNodes(t *testing.T) {
	table := NewTable(func() string { return "cpu" }, func() string { return "maps" })
	if len(table.nodes) != 2 {
		t.Fatalf("expected 2 nodes, got %d", len(table.nodes))
	}
	paths := map[string]bool{}
	for _, n := range table.nodes {
		paths[n.Path] = true
	}
	if !paths["/proc/cpuinfo"] || !paths["/proc/self/maps"] {
		t.Fatalf("expected /proc/cpuinfo and /proc/self/maps, got %v", paths)
	}
}

func TestMatchOpenFDSkipsUnregisteredNodes(t *testing.T) {
	table := NewTable(func() string { return "cpu" }, func() string { return "maps" })
	// No RegisterStat was called, so nothing has hasStat set; any real fd
	// should pass through unmatched.
	fd, ok, err := MatchOpenFD(table, 0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatalf("expected no match before RegisterStat, got a match")
	}
	if fd != 0 {
		t.Fatalf("expected fd to pass through unchanged, got %d", fd)
	}
}
