package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list <projectId>",
	Short: "List runs for a project, most recent first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCoordinator()
		if err != nil {
			return err
		}
		runs, err := c.ListRuns(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}
