package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Inspect the run event log",
}

var eventListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List all transition events for a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		events, err := d.ListRunEvents(args[0])
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(events) == 0 {
			fmt.Fprintln(w, "No events found.")
			return nil
		}

		fmt.Fprintf(w, "%-22s %-20s %-12s %-4s %s\n", "TIME", "EVENT", "STAGE", "ATT", "DETAIL")
		fmt.Fprintf(w, "%-22s %-20s %-12s %-4s %s\n",
			strings.Repeat("-", 22),
			strings.Repeat("-", 20),
			strings.Repeat("-", 12),
			strings.Repeat("-", 4),
			strings.Repeat("-", 6))
		for _, e := range events {
			detail := truncate(e.Detail, 60)
			fmt.Fprintf(w, "%-22s %-20s %-12s %-4d %s\n", e.Timestamp, e.Event, e.Stage, e.Attempt, detail)
		}
		return nil
	},
}

var eventSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show event counts across all runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDB()
		if err != nil {
			return err
		}
		defer d.Close()

		counts, err := d.CountEvents()
		if err != nil {
			return err
		}
		if len(counts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No events recorded.")
			return nil
		}

		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)

		w := cmd.OutOrStdout()
		for _, name := range names {
			fmt.Fprintf(w, "%-20s %d\n", name, counts[name])
		}
		return nil
	},
}

func init() {
	eventCmd.AddCommand(eventListCmd)
	eventCmd.AddCommand(eventSummaryCmd)
}
