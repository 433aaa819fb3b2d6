package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs [target]",
	Short: "List recorded runs for a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuns,
}

var statsCmd = &cobra.Command{
	Use:   "stats [target]",
	Short: "Show lifetime harvest stats for a target",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

var cooldownCmd = &cobra.Command{
	Use:   "cooldown",
	Short: "Show the shared account cooldown",
	RunE:  runCooldown,
}

func init() {
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Maximum runs to list")
}

func runRuns(cmd *cobra.Command, args []string) error {
	target := args[0]
	runs, err := newAPIClient().runs(target, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Printf("No recorded runs for %s\n", target)
		return nil
	}

	fmt.Printf("%-36s  %-19s  %-16s  %6s  %8s\n", "RUN", "FINISHED", "STATUS", "PAGES", "RECORDS")
	for _, run := range runs {
		fmt.Printf("%-36s  %-19s  %-16s  %6d  %8d\n",
			run.RunID, run.FinishedAt.Format("2006-01-02 15:04:05"),
			run.Status, run.Pages, run.Records)
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	target := args[0]
	stats, err := newAPIClient().stats(target)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Printf("No stats for %s\n", target)
		return nil
	}

	keys := make([]string, 0, len(stats))
	for key := range stats {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("%-22s %s\n", key, stats[key])
	}
	return nil
}

func runCooldown(cmd *cobra.Command, args []string) error {
	win, err := newAPIClient().cooldown()
	if err != nil {
		return err
	}
	if win == nil {
		fmt.Println("No cooldown active")
		return nil
	}

	until := time.UnixMilli(win.ExpiresAt).Format(time.RFC3339)
	remaining := (time.Duration(win.RemainingMs) * time.Millisecond).Round(time.Second)
	fmt.Printf("Cooldown active: %s until %s (%v remaining)\n", win.Reason, until, remaining)
	return nil
}
