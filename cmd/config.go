package cmd

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"felix86/internal/config"
	"felix86/logging"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and manage the felix86 configuration directory",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config.toml and the preset profiles if they do not already exist",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configProfileCmd = &cobra.Command{
	Use:   "profile <name>",
	Short: "Apply a preset or custom profile to config.toml",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigProfile,
}

var configTrustCmd = &cobra.Command{
	Use:   "trust <path>",
	Short: "Add a path to the set PathResolver trusts to escape rootfs containment",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigTrust,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd, configInitCmd, configProfileCmd, configTrustCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore()
	if err != nil {
		return err
	}

	current, _, err := store.Initialize(false)
	if err != nil {
		return err
	}

	currentGroup := ""
	for _, field := range config.Schema {
		if field.Group != currentGroup {
			currentGroup = field.Group
			fmt.Printf("\n[%s]\n", currentGroup)
		}
		switch field.Kind {
		case config.KindBool:
			fmt.Printf("%s = %v\n", field.Name, current.GetBool(field.Key()))
		case config.KindUint64:
			fmt.Printf("%s = %v\n", field.Name, current.GetUint64(field.Key()))
		default:
			fmt.Printf("%s = %q\n", field.Name, current.GetString(field.Key()))
		}
	}
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore()
	if err != nil {
		return err
	}
	if _, _, err := store.Initialize(false); err != nil {
		return err
	}
	if err := store.EnsureProfiles(); err != nil {
		return err
	}
	fmt.Printf("initialized configuration at %s\n", store.Dir())
	return nil
}

func runConfigProfile(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore()
	if err != nil {
		return err
	}
	if err := store.EnsureProfiles(); err != nil {
		return err
	}

	current, _, err := store.Initialize(false)
	if err != nil {
		return err
	}

	profilePath := store.ResolveProfilePath(args[0])
	merged, err := config.LoadProfile(current, profilePath)
	if err != nil {
		return err
	}

	configPath := filepath.Join(store.Dir(), "config.toml")
	if err := config.Save(configPath, merged); err != nil {
		return err
	}

	logging.Default().Info("applied profile", slog.String("profile", args[0]), slog.String("path", profilePath))
	return nil
}

func runConfigTrust(cmd *cobra.Command, args []string) error {
	store, err := config.NewStore()
	if err != nil {
		return err
	}
	if err := store.AddTrustedPath(args[0]); err != nil {
		return err
	}
	fmt.Printf("trusted %s\n", args[0])
	return nil
}
