// Package worker implements the worker command: a standalone
// enrichment worker process sharing Redis with the daemon.
package worker

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lifearch/internal/cmdutil"
	"lifearch/internal/daemon"
	"lifearch/internal/enrich"
)

// WorkerCmd runs the enrichment worker on its own.
var WorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the enrichment worker",
	Long: "Run the enrichment worker as its own process.\n\n" +
		"The worker consumes queued enrichment tasks (date extraction, " +
		"auto tagging) and updates document metadata. The task in flight " +
		"when a termination signal arrives is drained before exit.",
	Example: `  # Run the worker
  lifearch worker`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true

	logger := cmdutil.LogManager().Logger()
	d, err := daemon.Build(cmdutil.Cfg(), logger)
	if err != nil {
		return err
	}
	defer d.Stop()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sup := enrich.NewSupervisor(d.Worker(), logger)
	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
