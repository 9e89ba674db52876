// Package main provides the CLI entry point for the stagegate command
// review daemon.
//
// stagegate gates critical commands behind a human-review workflow: requests
// are intercepted and queued, then approved, rejected, auto-approved inside
// a configured time window, or expired.
//
// # Basic Usage
//
// Start the daemon:
//
//	stagegate serve --config stagegate.yaml
//
// List commands awaiting review:
//
//	stagegate pending
//
// Inspect store health:
//
//	stagegate status
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:   "stagegate",
		Short: "Command staging and review daemon",
		Long: `stagegate intercepts critical commands and holds them for review.

Commands are approved manually, approved automatically inside a configured
time-of-day window, rejected, or expired after a timeout. Decisions are
audited, counted per reviewer, and kept in a capped per-requester history.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		buildServeCmd(),
		buildPendingCmd(),
		buildStatusCmd(),
		buildVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("stagegate %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
