// Package query implements the query command: questions answered over
// the archive with retrieval-augmented generation.
package query

import (
	"fmt"

	"github.com/spf13/cobra"

	"lifearch/internal/cmdutil"
	"lifearch/internal/daemon"
)

var (
	flagTopK   int
	flagStream bool
)

// QueryCmd answers a question over the archive.
var QueryCmd = &cobra.Command{
	Use:   "query <question>",
	Short: "Ask a question over the archive",
	Long: "Ask a natural-language question over the archived documents.\n\n" +
		"Relevant chunks are retrieved by semantic similarity and the answer " +
		"is generated by the configured language model, with a confidence " +
		"score and the sources used.",
	Example: `  # Ask a question
  lifearch query "when does my lease end?"

  # Stream the answer token by token
  lifearch query --stream "what did I pay for insurance in 2024?"`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

func init() {
	QueryCmd.Flags().IntVar(&flagTopK, "top-k", 5, "number of context chunks to retrieve")
	QueryCmd.Flags().BoolVar(&flagStream, "stream", false, "stream the answer as it is generated")
}

func runQuery(cmd *cobra.Command, args []string) error {
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

	out := cmd.OutOrStdout()

	if flagStream {
		for ev := range d.Engine().AskStream(ctx, args[0], flagTopK, nil) {
			switch ev.Type {
			case "chunk":
				fmt.Fprint(out, ev.Delta)
			case "metadata":
				fmt.Fprintf(out, "\n\n(confidence %.3f, %d sources)\n", ev.Answer.ConfidenceScore, ev.Answer.NumChunksUsed)
			case "error":
				fmt.Fprintf(out, "\n%s\n", ev.Error)
			}
		}
		return nil
	}

	answer := d.Engine().Ask(ctx, args[0], flagTopK, nil)
	fmt.Fprintln(out, answer.Answer)
	if answer.NumChunksUsed > 0 {
		fmt.Fprintf(out, "\n(confidence %.3f, %d sources)\n", answer.ConfidenceScore, answer.NumChunksUsed)
	}
	return nil
}
