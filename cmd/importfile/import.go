// Package importfile implements the import command: one-shot ingestion
// of files into the archive.
package importfile

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"lifearch/internal/cmdutil"
	"lifearch/internal/daemon"
	"lifearch/internal/pipeline"
)

var (
	flagTags     []string
	flagMIMEHint string
	flagJSON     bool
)

// ImportCmd ingests one or more files.
var ImportCmd = &cobra.Command{
	Use:   "import <path>...",
	Short: "Import files into the archive",
	Long: "Import one or more files into the archive.\n\n" +
		"Each file is hashed, stored in the content-addressed vault, its text " +
		"extracted and indexed for search. Files whose content is already " +
		"archived are reported as duplicates.",
	Example: `  # Import a document
  lifearch import ~/Documents/lease.pdf

  # Import with tags
  lifearch import --tag finance --tag 2024 statement.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runImport,
}

func init() {
	ImportCmd.Flags().StringArrayVar(&flagTags, "tag", nil, "tag applied to the imported documents (repeatable)")
	ImportCmd.Flags().StringVar(&flagMIMEHint, "mime", "", "MIME type override")
	ImportCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

func runImport(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	ctx := cmd.Context()

	d, err := daemon.Build(cmdutil.Cfg(), cmdutil.LogManager().Logger())
	if err != nil {
		return err
	}
	defer d.Stop()
	if err := d.Start(ctx); err != nil {
		return err
	}

	for _, path := range args {
		result, err := d.Pipeline().Ingest(ctx, pipeline.Request{
			Path:     path,
			MIMEHint: flagMIMEHint,
			Tags:     flagTags,
		})
		if err != nil {
			return fmt.Errorf("failed to import %s; %w", path, err)
		}

		if flagJSON {
			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			continue
		}

		switch result.Status {
		case "duplicate":
			fmt.Fprintf(cmd.OutOrStdout(), "%s: duplicate of document %s\n", path, result.DocumentID)
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (document %s, %d chunks)\n", path, result.Status, result.DocumentID, result.Chunks)
		}
	}
	return nil
}
