package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled identities",
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		gallery, err := openGallery()
		if err != nil {
			return fail("Failed to open gallery", err)
		}
		keys, err := gallery.Keys(cmd.Context())
		if err != nil {
			return fail("Failed to list identities", err)
		}
		printIdentities(os.Stdout, keys)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func printIdentities(out io.Writer, keys []string) {
	if len(keys) == 0 {
		fmt.Fprintln(out, "No identities enrolled.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tEMAIL")
	fmt.Fprintln(w, "-\t-----")
	for i, key := range keys {
		fmt.Fprintf(w, "%d\t%s\n", i+1, key)
	}
	w.Flush()
}
