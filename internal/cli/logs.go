// Generalized from shelling out to `tail -n/-f` over a log file path to an
// in-process poll loop over the Run Store's TailLog, via internal/tailer —
// so it works identically whether the run is backed by the file store or
// Postgres.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/tailer"
)

var (
	logsFollow bool
	logsTail   int
)

func init() {
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show")
}

var logsCmd = &cobra.Command{
	Use:   "logs <runId>",
	Short: "Show a run's combined agent output",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCoordinator()
		if err != nil {
			return err
		}
		runID := args[0]

		lines, err := tailer.Tail(cmd.Context(), c.RunStore(), runID, logsTail)
		if err != nil {
			return err
		}
		for _, l := range lines {
			fmt.Println(l)
		}
		if !logsFollow {
			return nil
		}

		return tailer.Follow(cmd.Context(), c.RunStore(), runID, tailer.DefaultPollInterval, func(newLines []string) {
			for _, l := range newLines {
				fmt.Println(l)
			}
		})
	},
}
