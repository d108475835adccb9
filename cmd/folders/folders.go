// Package folders implements the folders command group: management of
// watched folders.
package folders

import (
	"fmt"

	"github.com/spf13/cobra"

	"lifearch/internal/cmdutil"
	"lifearch/internal/daemon"
)

// FoldersCmd groups the watched-folder subcommands.
var FoldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage watched folders",
	Long: "Manage the folders the daemon watches for new documents.\n\n" +
		"Changes take effect in the running daemon the next time it starts; " +
		"folder configuration and statistics persist in Redis.",
}

var flagDisabled bool

var addCmd = &cobra.Command{
	Use:     "add <path>",
	Short:   "Add a watched folder",
	Args:    cobra.ExactArgs(1),
	RunE:    runAdd,
	Example: `  lifearch folders add ~/Documents/inbox`,
}

var removeCmd = &cobra.Command{
	Use:   "remove <folder-id>",
	Short: "Remove a watched folder",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched folders and their statistics",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	addCmd.Flags().BoolVar(&flagDisabled, "disabled", false, "register the folder without starting its watcher")
	FoldersCmd.AddCommand(addCmd)
	FoldersCmd.AddCommand(removeCmd)
	FoldersCmd.AddCommand(listCmd)
}

func buildManager(cmd *cobra.Command) (*daemon.Daemon, error) {
	cmd.SilenceUsage = true
	d, err := daemon.Build(cmdutil.Cfg(), cmdutil.LogManager().Logger())
	if err != nil {
		return nil, err
	}
	if err := d.Watch().Initialize(cmd.Context()); err != nil {
		d.Stop()
		return nil, err
	}
	return d, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	d, err := buildManager(cmd)
	if err != nil {
		return err
	}
	defer d.Stop()

	folder, err := d.Watch().AddFolder(cmd.Context(), args[0], !flagDisabled)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added folder %s (%s)\n", folder.ID, folder.Path)
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	d, err := buildManager(cmd)
	if err != nil {
		return err
	}
	defer d.Stop()

	if err := d.Watch().RemoveFolder(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Removed folder %s\n", args[0])
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	d, err := buildManager(cmd)
	if err != nil {
		return err
	}
	defer d.Stop()

	folders, err := d.Watch().Folders(cmd.Context())
	if err != nil {
		return err
	}
	if len(folders) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No watched folders.")
		return nil
	}

	for _, f := range folders {
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  [%s]\n", f.ID, f.Path, f.Status)
		fmt.Fprintf(cmd.OutOrStdout(), "    detected %d, ingested %d, skipped %d, failed %d, bytes %d\n",
			f.Stats.FilesDetected, f.Stats.FilesIngested, f.Stats.FilesSkipped, f.Stats.FilesFailed, f.Stats.BytesProcessed)
		if f.Stats.LastError != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    last error: %s\n", f.Stats.LastError)
		}
	}
	return nil
}
