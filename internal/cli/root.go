// Package cli implements the Request Layer (spec §1): a transport-neutral
// Cobra command tree accepting start/cancel/tail requests and delegating to
// the Run Coordinator. Grounded on the teacher's internal/cli/root.go.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomhq/loom/internal/obs"
)

// Version is set at build time via ldflags.
var Version = "dev"

var projectRootFlag string

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "loom",
	Short: "Drive autonomous coding-agent runs against a sprint",
	Long: `loom provisions an isolated per-run git worktree, spawns a coding-agent
subprocess inside it, and drives a bounded iteration loop to completion, a
usage limit, a failure, or cancellation — persisting a durable record of
what happened the whole way through.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = obs.NewLogger(os.Stderr, slog.LevelInfo)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&projectRootFlag, "project-root", "C", ".", "Path to the project root")
	rootCmd.AddCommand(versionCmd, startCmd, cancelCmd, getCmd, listCmd, logsCmd, validateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("loom %s\n", Version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
