package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the teamcal application
var rootCmd = &cobra.Command{
	Use:   "teamcal",
	Short: "Task management with Google Calendar sync",
	Long: `teamcal is the task and calendar backend of the team management suite.

It keeps task progress and status consistent across the task hierarchy and
projects deadline tasks into Google Calendar, importing foreign calendar
events back as read-only records.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "teamcal version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())
}
