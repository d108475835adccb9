// Package version implements the version command.
package version

import (
	"fmt"

	"github.com/spf13/cobra"

	"lifearch/internal/version"
)

// VersionCmd displays version and build information.
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Display version and build information",
	Long: "Display version and build information.\n\n" +
		"Shows the semantic version, git commit hash, and build date of the " +
		"current lifearch binary.",
	Example: `  # Display version information
  lifearch version`,
	RunE: runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
	return nil
}
