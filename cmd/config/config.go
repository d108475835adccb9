// Package config implements the config command group.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lifearch/internal/cmdutil"
	"lifearch/internal/config"
)

// ConfigCmd groups the configuration subcommands.
var ConfigCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: "Manage the lifearch configuration file.\n\n" +
		"Configuration is read from $LIFEARCH_CONFIG_DIR, " +
		"~/.config/lifearch/config.yaml, or the working directory; every " +
		"key can be overridden with a LIFEARCH_-prefixed environment variable.",
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Args:  cobra.NoArgs,
	RunE:  runInit,
	Example: `  # Create ~/.config/lifearch/config.yaml with defaults
  lifearch config init`,
}

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runShow,
}

var flagForce bool

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing configuration file")
	ConfigCmd.AddCommand(initCmd)
	ConfigCmd.AddCommand(showCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to resolve home directory; %w", err)
	}
	path := filepath.Join(home, ".config", "lifearch", "config.yaml")

	if _, err := os.Stat(path); err == nil && !flagForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	if err := config.Default().Write(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	out, err := yaml.Marshal(cmdutil.Cfg())
	if err != nil {
		return fmt.Errorf("failed to render config; %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
