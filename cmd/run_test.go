package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestRunResolvesLaunchPlanAgainstRootfs exercises the full run wiring end
// to end against a real temporary rootfs: state/resolver/emulated-node
// table/translator construction, opening the guest executable through the
// translator, and reporting /proc/self/exe back in the guest's own view.
func TestRunResolvesLaunchPlanAgainstRootfs(t *testing.T) {
	withTempHome(t)

	rootfs := t.TempDir()
	if err := os.MkdirAll(filepath.Join(rootfs, "usr/bin"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	exePath := filepath.Join(rootfs, "usr/bin/guest")
	if err := os.WriteFile(exePath, []byte("#!fake-elf\n"), 0o755); err != nil {
		t.Fatalf("write guest exe: %v", err)
	}

	runRootfs = rootfs
	runExe = "usr/bin/guest"
	runProfile = ""
	runTrust = nil
	runConfig = ""
	t.Setenv("FELIX86_ROOTFS", rootfs)

	if err := resolveLaunchPlan(); err != nil {
		t.Fatalf("resolveLaunchPlan failed: %v", err)
	}
}

func TestRunRejectsMissingExecutable(t *testing.T) {
	withTempHome(t)

	rootfs := t.TempDir()

	runRootfs = rootfs
	runExe = "usr/bin/does-not-exist"
	runProfile = ""
	runTrust = nil
	runConfig = ""
	t.Setenv("FELIX86_ROOTFS", rootfs)

	err := resolveLaunchPlan()
	if err == nil {
		t.Fatal("expected an error opening a nonexistent guest executable")
	}
	if !strings.Contains(err.Error(), "open guest executable") {
		t.Errorf("expected an open-guest-executable error, got: %v", err)
	}
}
