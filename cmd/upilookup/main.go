package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/upilookup/cmd/upilookup/commands"
	"github.com/teranos/upilookup/logger"
)

var rootCmd = &cobra.Command{
	Use:   "upilookup",
	Short: "upilookup - batch UPI lookups for phone numbers",
	Long: `upilookup - resolve lists of phone numbers to UPI account details.

Numbers are normalized, deduplicated and looked up against the configured
directory under a shared rate limit, with retries and handle probing.
Runs can be paused, resumed and cancelled, and are archived to SQLite.

Available commands:
  run      - Look up a file (or stdin) of phone numbers
  serve    - Start the HTTP control server with a live WebSocket feed
  history  - Show archived runs
  am       - Manage upilookup configuration ("I am")
  version  - Show version information

Examples:
  upilookup run numbers.txt          # Look up every number in numbers.txt
  cat numbers.txt | upilookup run    # Read numbers from stdin
  upilookup serve                    # Control runs over HTTP
  upilookup history                  # List recent runs
  upilookup am init                  # Write a default am.toml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit structured JSON logs")
	rootCmd.PersistentFlags().StringVar(&commands.ConfigPath, "config", "", "Use this config file instead of the am.toml cascade")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
