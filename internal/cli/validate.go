package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <settings-file>",
	Short: "Validate a project settings file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(args[0])
		if err != nil {
			return err
		}
		if errs := config.Validate(settings); len(errs) > 0 {
			for _, e := range errs {
				fmt.Println("error:", e)
			}
			return fmt.Errorf("%d validation error(s)", len(errs))
		}
		fmt.Println("settings are valid.")
		return nil
	},
}
