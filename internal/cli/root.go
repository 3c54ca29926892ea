// Package cli implements the command-line interface for dirigent.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// SetVersionInfo sets the version information for the CLI.
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (%s, %s)", version, commit, date)
}

var rootCmd = &cobra.Command{
	Use:   "dirigent",
	Short: "Scripted workflow conductor for conversational coding agents",
	Long: `Dirigent drives a conversational coding agent through a scripted task:
it sends instructions, waits for the agent to act, checks progress,
optionally requests tests, verifies the checklist, and loops until the
task is judged complete. The operator can pause, resume, stop, or
restart at any point, and background mode keeps the agent from stealing
focus from other work.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}
