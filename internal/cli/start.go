package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	startBranch        string
	startMaxIterations int
	startTaskIDs       string
)

func init() {
	startCmd.Flags().StringVar(&startBranch, "branch", "", "Branch name for the run's sandbox (default: derived from the run ID)")
	startCmd.Flags().IntVar(&startMaxIterations, "max-iterations", 0, "Override the project's default iteration cap")
	startCmd.Flags().StringVar(&startTaskIDs, "tasks", "", "Comma-separated task IDs scoped to the sprint")
}

var startCmd = &cobra.Command{
	Use:   "start <projectId> <sprintId>",
	Short: "Start a bounded agent run against a sprint",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCoordinator()
		if err != nil {
			return err
		}

		var taskIDs []string
		if startTaskIDs != "" {
			taskIDs = strings.Split(startTaskIDs, ",")
		}

		runID, err := c.StartRun(cmd.Context(), args[0], args[1], startBranch, startMaxIterations, taskIDs)
		if err != nil {
			return err
		}

		fmt.Println(runID)
		return nil
	},
}
