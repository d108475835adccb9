// Package search implements the search command.
package search

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"lifearch/internal/cmdutil"
	"lifearch/internal/daemon"
	"lifearch/internal/search"
)

var (
	flagMode  string
	flagLimit int
	flagTheme string
	flagJSON  bool
)

// SearchCmd searches the archive.
var SearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the archive",
	Long: "Search the archive for documents.\n\n" +
		"Modes: semantic (vector similarity), keyword (BM25), hybrid (fused, " +
		"the default).",
	Example: `  # Hybrid search
  lifearch search "insurance renewal"

  # Keyword search limited to a theme
  lifearch search --mode keyword --theme finances "tax return"`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	SearchCmd.Flags().StringVar(&flagMode, "mode", "hybrid", "search mode: semantic, keyword or hybrid")
	SearchCmd.Flags().IntVar(&flagLimit, "limit", 10, "maximum number of results")
	SearchCmd.Flags().StringVar(&flagTheme, "theme", "", "restrict results to a theme")
	SearchCmd.Flags().BoolVar(&flagJSON, "json", false, "print results as JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
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

	var filters map[string]any
	if flagTheme != "" {
		filters = map[string]any{"theme": flagTheme}
	}

	results, err := d.Search().Search(ctx, args[0], search.Mode(flagMode), flagLimit, filters)
	if err != nil {
		return err
	}

	if flagJSON {
		out, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No results.")
		return nil
	}
	for i, r := range results {
		title, _ := r.Metadata["title"].(string)
		fmt.Fprintf(cmd.OutOrStdout(), "%2d. [%.3f] %s (%s, %s)\n", i+1, r.Score, title, r.DocumentID, r.SearchType)
		if r.Text != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "    %s\n", r.Text)
		}
	}
	return nil
}
