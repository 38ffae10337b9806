package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <runId>",
	Short: "Request cancellation of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := buildCoordinator()
		if err != nil {
			return err
		}
		if err := c.CancelRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil
	},
}
