package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"felix86/internal/config"
	"felix86/internal/emulatednode"
	"felix86/internal/fdguard"
	"felix86/internal/globalstate"
	"felix86/internal/overlay"
	"felix86/internal/pathresolver"
	"felix86/internal/seccomp"
	"felix86/internal/sudo"
	"felix86/internal/syscalltranslator"
	"felix86/internal/termio"
)

var runCmd = &cobra.Command{
	Use:   "run --rootfs <dir> --exe <guest-binary>",
	Short: "Resolve the launch plan for a guest binary against a rootfs",
	Long: `run builds the process-wide state, resolves the guest executable
and its environment against the rootfs, creates an empty seccomp JIT (no
filter is installed), and reports the resolved launch plan. It does not recompile or execute guest
code: that is the excluded instruction-level recompiler's job.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runRootfs  string
	runExe     string
	runProfile string
	runTrust   []string
	runConfig  string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runRootfs, "rootfs", "", "path to the guest rootfs directory")
	runCmd.Flags().StringVar(&runExe, "exe", "", "path to the guest executable, relative to rootfs")
	runCmd.Flags().StringVar(&runProfile, "profile", "", "preset or custom profile name to apply")
	runCmd.Flags().StringArrayVar(&runTrust, "trust", nil, "additional trusted path PathResolver may escape rootfs containment for (repeatable)")
	runCmd.Flags().StringVar(&runConfig, "config", "", "path to an explicit config.toml, bypassing the default config directory")

	runCmd.MarkFlagRequired("rootfs")
	runCmd.MarkFlagRequired("exe")
}

func runRun(cmd *cobra.Command, args []string) error {
	if !sudo.HasPermissions() {
		// Does not return on success: the process image is replaced by
		// "sudo -E felix86 <same argv>", which re-enters here with
		// HasPermissions() true and SUDO_UID/SUDO_GID set.
		if err := sudo.RequestPermissions(os.Args); err != nil {
			return err
		}
	}

	raw, err := termio.EnterRaw()
	if err != nil {
		return fmt.Errorf("enter raw terminal mode: %w", err)
	}
	defer raw.Restore()

	if err := resolveLaunchPlan(); err != nil {
		return err
	}

	if os.Getenv("SUDO_UID") != "" {
		return sudo.DropPermissions()
	}
	return nil
}

// resolveLaunchPlan builds the process-wide state and resolves the guest
// executable and its environment against the rootfs, without requiring the
// caller to already hold root permissions. Split out of runRun so it can be
// exercised directly by tests without going through the sudo elevation gate.
func resolveLaunchPlan() error {
	current, err := loadRunConfig()
	if err != nil {
		return err
	}

	rootfsAbs, err := filepath.Abs(runRootfs)
	if err != nil {
		return fmt.Errorf("resolve rootfs: %w", err)
	}

	rootfsFD, err := unix.Open(rootfsAbs, unix.O_PATH|unix.O_DIRECTORY, 0)
	if err != nil {
		return fmt.Errorf("open rootfs: %w", err)
	}

	state := globalstate.New()
	state.SetCurrentConfig(current)
	state.SetInitialConfig(current.Clone())
	state.SetRootfs(rootfsAbs, rootfsFD)
	state.SetExecutablePathAbsolute(filepath.Join(rootfsAbs, runExe))

	trusted := append([]string(nil), runTrust...)
	if store, err := config.NewStore(); err == nil {
		saved, err := store.TrustedPaths()
		if err != nil {
			return err
		}
		for _, path := range saved {
			if !slices.Contains(trusted, path) {
				trusted = append(trusted, path)
			}
		}
	}
	for _, path := range trusted {
		state.AddTrustedFolder(path)
	}

	guard := fdguard.New(state)
	if err := guard.Protect(rootfsFD); err != nil {
		return fmt.Errorf("protect rootfs fd: %w", err)
	}

	overlayTable := overlay.NewTable()
	resolver := pathresolver.New(state, overlayTable)

	nodes := emulatednode.NewTable(emulatednode.DefaultCPUInfo, emulatednode.DefaultMaps)
	if err := nodes.RegisterStat(rootfsAbs); err != nil {
		return fmt.Errorf("register emulated nodes: %w", err)
	}

	translator := syscalltranslator.New(resolver, state, nodes)

	exeFD, err := translator.OpenAt(pathresolver.AtFDCWD, "/"+runExe, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("open guest executable: %w", err)
	}
	unix.Close(exeFD)

	resolvedExe, err := translator.ReadlinkAt(pathresolver.AtFDCWD, "/proc/self/exe", unix.PathMax)
	if err != nil {
		resolvedExe = state.ExecutablePathAbsolute()
	}

	filter := seccomp.NewJIT()

	width, height, err := termio.Size()
	if err != nil {
		width, height = 0, 0
	}

	fmt.Printf("rootfs:      %s\n", rootfsAbs)
	fmt.Printf("executable:  %s\n", resolvedExe)
	fmt.Printf("environment: %s\n", current.ProjectEnvironment())
	fmt.Printf("terminal:    %dx%d\n", width, height)
	fmt.Printf("seccomp jit: installed=%v slab_increment=%d\n", filter.HasFilters(), current.GetUint64("jit.seccomp_slab_increment"))

	return nil
}

func loadRunConfig() (*config.Record, error) {
	if runConfig != "" {
		current, err := config.Load(runConfig, false)
		if err != nil {
			return nil, err
		}
		return applyProfile(current)
	}

	store, err := config.NewStore()
	if err != nil {
		return nil, err
	}
	current, _, err := store.Initialize(false)
	if err != nil {
		return nil, err
	}
	for _, path := range runTrust {
		if err := store.AddTrustedPath(path); err != nil {
			return nil, err
		}
	}
	if runProfile == "" {
		return current, nil
	}
	if err := store.EnsureProfiles(); err != nil {
		return nil, err
	}
	return config.LoadProfile(current, store.ResolveProfilePath(runProfile))
}

func applyProfile(current *config.Record) (*config.Record, error) {
	if runProfile == "" {
		return current, nil
	}
	store, err := config.NewStore()
	if err != nil {
		return nil, err
	}
	if err := store.EnsureProfiles(); err != nil {
		return nil, err
	}
	return config.LoadProfile(current, store.ResolveProfilePath(runProfile))
}
