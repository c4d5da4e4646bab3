package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/checkmates/internal/types"
	"github.com/spf13/cobra"
)

var (
	attendanceKey   string
	attendanceLimit int
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Show recorded attendance events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		events, err := DB.ListEvents(cmd.Context(), attendanceKey, attendanceLimit)
		if err != nil {
			return fail("Failed to read attendance ledger", err)
		}
		printEvents(os.Stdout, events)
		return nil
	},
}

func init() {
	attendanceCmd.Flags().StringVarP(&attendanceKey, "key", "k", "", "Only show events for this email")
	attendanceCmd.Flags().IntVarP(&attendanceLimit, "limit", "n", 50, "Maximum number of events (0 for all)")
	rootCmd.AddCommand(attendanceCmd)
}

func printEvents(out io.Writer, events []types.AttendanceEvent) {
	if len(events) == 0 {
		fmt.Fprintln(out, "No attendance events recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tEMAIL\tSTATUS\tID")
	fmt.Fprintln(w, "---------\t-----\t------\t--")
	for _, ev := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ev.Timestamp, ev.IdentityKey, ev.Status, ev.ID)
	}
	w.Flush()
}
