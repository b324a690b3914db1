// Package commands implements the ofcorectl CLI commands.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath is the ofcoreagent configuration file this CLI reads its
	// settings from, since there is no running daemon to query over RPC.
	configPath string

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string
)

// rootCmd is the top-level cobra command for ofcorectl.
var rootCmd = &cobra.Command{
	Use:   "ofcorectl",
	Short: "Inspect ofcoreagent configuration and device database",
	Long:  "ofcorectl reads an ofcoreagent configuration file and reports on its settings and device database, offline.",

	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "ofcoreagent configuration file (YAML); defaults built-in if omitted")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table", "output format: table, json")

	rootCmd.AddCommand(queryCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
