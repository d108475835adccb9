// Package daemon implements the daemon command: the long-running
// archive process with folder watchers, the enrichment worker and the
// MCP tool server.
package daemon

import (
	"github.com/spf13/cobra"

	"lifearch/internal/cmdutil"
	"lifearch/internal/daemon"
)

// DaemonCmd runs the archive daemon in the foreground.
var DaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the archive daemon",
	Long: "Run the archive daemon in the foreground.\n\n" +
		"The daemon resumes watched folders, serves the MCP tool surface over " +
		"stdio, and processes enrichment tasks until interrupted.",
	Example: `  # Run the daemon
  lifearch daemon`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	d, err := daemon.Build(cmdutil.Cfg(), cmdutil.LogManager().Logger())
	if err != nil {
		return err
	}
	return d.Run(cmd.Context())
}
