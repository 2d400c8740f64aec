// Package cli implements the baton-dispatcher command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var addr string

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "baton-dispatcher",
	Short: "Per-project autonomous coding agent dispatcher",
	Long: `baton-dispatcher runs the task lifecycle state machine, worktree
manager, worker supervisor, and integration pipeline described in
agent.yaml for the current project.

  baton-dispatcher start     Run the dispatcher in the foreground
  baton-dispatcher status    Query a running dispatcher's status
  baton-dispatcher stop      Stop a running dispatcher
  baton-dispatcher restart   Restart a running dispatcher`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "http://127.0.0.1:8089", "dispatcher HTTP address")

	rootCmd.AddCommand(newStartCmd())
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newStopCmd())
	rootCmd.AddCommand(newRestartCmd())
}
