// Package cmd implements the command-line interface for teamcal.
//
// This package provides the following commands:
//   - serve: Start the task API server with calendar sync
//   - migrate: Apply the database schema and exit
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
package cmd
