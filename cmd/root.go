package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configcmd "lifearch/cmd/config"
	"lifearch/cmd/daemon"
	"lifearch/cmd/folders"
	importcmd "lifearch/cmd/importfile"
	querycmd "lifearch/cmd/query"
	searchcmd "lifearch/cmd/search"
	versioncmd "lifearch/cmd/version"
	"lifearch/cmd/worker"
	"lifearch/internal/cmdutil"
	"lifearch/internal/config"
	"lifearch/internal/logging"
)

// logManager starts in bootstrap mode (stderr text) and is upgraded to
// file logging once configuration is available.
var logManager *logging.Manager

var rootCmd = &cobra.Command{
	Use:   "lifearch",
	Short: "A personal document archive with hybrid search and Q&A",
	Long: "Lifearch archives personal documents into content-addressed storage, " +
		"extracts their text and metadata, and indexes them for keyword, semantic " +
		"and hybrid search.\n\n" +
		"A background daemon watches registered folders and ingests new documents " +
		"automatically; questions can be asked over the whole archive through a " +
		"local language model.",
	PersistentPreRunE: runInitialize,
}

func init() {
	logManager = logging.NewManager()

	rootCmd.AddCommand(daemon.DaemonCmd)
	rootCmd.AddCommand(worker.WorkerCmd)
	rootCmd.AddCommand(importcmd.ImportCmd)
	rootCmd.AddCommand(searchcmd.SearchCmd)
	rootCmd.AddCommand(querycmd.QueryCmd)
	rootCmd.AddCommand(folders.FoldersCmd)
	rootCmd.AddCommand(configcmd.ConfigCmd)
	rootCmd.AddCommand(versioncmd.VersionCmd)
}

func runInitialize(cmd *cobra.Command, args []string) error {
	logger := logManager.Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cmdutil.SetConfig(cfg)
	cmdutil.SetLogManager(logManager)

	level, ok := logging.ParseLevel(cfg.LogLevel)
	if !ok {
		level = logging.DefaultLevel
		if cfg.LogLevel != "" {
			logger.Warn("invalid log level configured, using default", "configured", cfg.LogLevel)
		}
	}

	if err := logManager.Upgrade(cfg.LogFile, level); err != nil {
		logger.Warn("failed to enable file logging, continuing with stderr only", "error", err)
	}

	return nil
}

// Execute runs the root command.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	defer func() { _ = logManager.Close() }()

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
