package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search session operations",
	Long:  `Start, inspect, download and cancel harvest sessions.`,
}

var (
	searchType       string
	searchParams     []string
	searchDirectURL  string
	searchTarget     string
	searchMaxPages   int
	searchMaxResults int
	searchPageLimit  int
	searchWatch      bool
	searchInterval   time.Duration
	recordsJSON      bool
)

var searchStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a harvest session",
	Long: `Start a harvest session on the daemon.

The daemon runs a single session at a time against the shared account; a 409
means another session is in flight or a cooldown window is open.`,
	RunE: runSearchStart,
}

var searchStatusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show session progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchStatus,
}

var searchRecordsCmd = &cobra.Command{
	Use:   "records [session-id]",
	Short: "Download a finished session's records",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchRecords,
}

var searchCancelCmd = &cobra.Command{
	Use:   "cancel [session-id]",
	Short: "Cancel the running session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchCancel,
}

func init() {
	searchCmd.AddCommand(searchStartCmd)
	searchCmd.AddCommand(searchStatusCmd)
	searchCmd.AddCommand(searchRecordsCmd)
	searchCmd.AddCommand(searchCancelCmd)

	searchStartCmd.Flags().StringVar(&searchType, "type", "person", "Result type to search for")
	searchStartCmd.Flags().StringArrayVar(&searchParams, "param", nil, "Search parameter as key=value (repeatable)")
	searchStartCmd.Flags().StringVar(&searchDirectURL, "url", "", "Fetch a pre-built search URL instead of shaped parameters")
	searchStartCmd.Flags().StringVar(&searchTarget, "target", "", "Run-log target the session is recorded under")
	searchStartCmd.Flags().IntVar(&searchMaxPages, "max-pages", 0, "Page ceiling (0 uses the daemon default)")
	searchStartCmd.Flags().IntVar(&searchMaxResults, "max-results", 0, "Records target (0 uses the daemon default)")
	searchStartCmd.Flags().IntVar(&searchPageLimit, "page-limit", 0, "Records requested per page (0 uses the daemon default)")
	searchStartCmd.Flags().BoolVarP(&searchWatch, "watch", "w", false, "Poll progress until the session finishes")
	searchStartCmd.Flags().DurationVar(&searchInterval, "interval", 2*time.Second, "Poll interval with --watch")

	searchRecordsCmd.Flags().BoolVar(&recordsJSON, "json", false, "Print the raw record array instead of a table")
}

func runSearchStart(cmd *cobra.Command, args []string) error {
	params, err := parseParams(searchParams)
	if err != nil {
		return err
	}

	client := newAPIClient()
	id, err := client.startSearch(startRequest{
		Type:       searchType,
		Params:     params,
		DirectURL:  searchDirectURL,
		Target:     searchTarget,
		MaxPages:   searchMaxPages,
		MaxResults: searchMaxResults,
		PageLimit:  searchPageLimit,
	})
	if err != nil {
		return err
	}

	fmt.Printf("Session %s started\n", id)
	if !searchWatch {
		return nil
	}
	return watchSession(client, id, searchInterval)
}

func watchSession(client *apiClient, id string, interval time.Duration) error {
	for {
		st, err := client.status(id)
		if err != nil {
			return err
		}
		if st.State == "completed" {
			printFinished(st)
			return nil
		}
		fmt.Printf("  %-9s page %d/%d | %d records | %.1f rec/s\n",
			st.State, st.Page, st.MaxPages, st.Records, st.RecordsPerSec)
		time.Sleep(interval)
	}
}

func runSearchStatus(cmd *cobra.Command, args []string) error {
	st, err := newAPIClient().status(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Session:  %s\n", st.SessionID)
	fmt.Printf("State:    %s\n", st.State)
	fmt.Printf("Progress: page %d/%d, %d records", st.Page, st.MaxPages, st.Records)
	if st.RecordsPerSec > 0 {
		fmt.Printf(" (%.1f rec/s", st.RecordsPerSec)
		if st.RemainingMs > 0 {
			fmt.Printf(", ~%v left", (time.Duration(st.RemainingMs) * time.Millisecond).Round(time.Second))
		}
		fmt.Print(")")
	}
	fmt.Println()
	fmt.Printf("Started:  %s\n", time.UnixMilli(st.StartedAt).Format(time.RFC3339))
	if st.State == "completed" {
		printFinished(st)
	}
	return nil
}

func printFinished(st *searchStatus) {
	fmt.Printf("Finished: %s, %d records\n", st.Reason, st.Records)
	if st.Message != "" {
		fmt.Printf("  note: %s\n", st.Message)
	}
	if st.Cooldown != nil {
		until := time.UnixMilli(st.Cooldown.ExpiresAt).Format(time.RFC3339)
		fmt.Printf("  cooldown: %s until %s\n", st.Cooldown.Reason, until)
	}
}

func runSearchRecords(cmd *cobra.Command, args []string) error {
	res, err := newAPIClient().records(args[0])
	if err != nil {
		return err
	}

	if recordsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Records); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "%d records from %d pages (%s)\n", res.Count, res.Pages, res.Reason)
		return nil
	}

	fmt.Printf("%-24s  %-24s  %-18s  %s\n", "ID", "NAME", "CITY", "STATE")
	for _, rec := range res.Records {
		fmt.Printf("%-24s  %-24s  %-18s  %s\n",
			recordField(rec, "id"), recordField(rec, "name"),
			recordField(rec, "city"), recordField(rec, "state"))
	}
	fmt.Printf("\n%d records from %d pages (%s)\n", res.Count, res.Pages, res.Reason)
	return nil
}

func runSearchCancel(cmd *cobra.Command, args []string) error {
	if err := newAPIClient().cancel(args[0]); err != nil {
		return err
	}
	fmt.Println("Cancellation requested; partial results stay available")
	return nil
}

// parseParams turns repeated key=value flags into the shaped parameter map.
func parseParams(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --param %q: expected key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func recordField(rec map[string]any, key string) string {
	if v, ok := rec[key].(string); ok && v != "" {
		return v
	}
	return "-"
}
