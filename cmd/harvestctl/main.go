// harvestctl is the operator CLI for the lead harvest daemon. It starts and
// inspects harvest sessions, downloads records, and reads the shared cooldown
// and per-target run history over harvestd's HTTP API.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "1.0.0"

var daemonAddr string

var rootCmd = &cobra.Command{
	Use:   "harvestctl",
	Short: "Operator CLI for the lead harvest daemon",
	Long: `harvestctl drives harvestd over its HTTP API.

Examples:
  # Start a search and watch it finish
  harvestctl search start --param citystatezip="Madison, WI" --target madison-leads --watch

  # Inspect the in-flight session
  harvestctl search status <session-id>

  # Export harvested records
  harvestctl search records <session-id> --json > leads.json

  # Shared account state
  harvestctl cooldown
  harvestctl runs madison-leads --limit 10
  harvestctl stats madison-leads`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&daemonAddr, "addr", defaultAddr(), "harvestd base URL")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(cooldownCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statsCmd)
}

// defaultAddr resolves the daemon address from the environment so scripts can
// omit --addr.
func defaultAddr() string {
	if addr := os.Getenv("HARVESTD_ADDR"); addr != "" {
		return addr
	}
	return "http://localhost:8380"
}
