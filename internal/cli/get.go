package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var getTail int

func init() {
	getCmd.Flags().IntVarP(&getTail, "tail", "n", 120, "Number of log lines to include (max 1000)")
}

var getCmd = &cobra.Command{
	Use:   "get <runId>",
	Short: "Show a run's record and log tail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCoordinator()
		if err != nil {
			return err
		}
		rec, lines, err := c.GetRun(cmd.Context(), args[0], getTail)
		if err != nil {
			return err
		}

		data, err := json.MarshalIndent(struct {
			Record any      `json:"record"`
			Log    []string `json:"log"`
		}{rec, lines}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}
