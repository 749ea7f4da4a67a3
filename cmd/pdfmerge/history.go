package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/scanmerge/internal/jobs"
	"github.com/Lllllllleong/scanmerge/internal/models"
)

func newHistoryCmd(dbPath *string) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs recorded with --history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := jobs.OpenSQLite(*dbPath)
			if err != nil {
				return err
			}
			defer store.Close()
			list, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), list)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	return cmd
}

func printHistory(w io.Writer, list []*models.Job) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tMODE\tPAGES\tOUTPUT\tSOURCES")
	for _, j := range list {
		output := j.Output
		if j.Status == models.StatusFailed {
			output = j.ErrorDetails
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
			j.CreatedAt.Local().Format("2006-01-02 15:04"), j.Status, j.Mode, j.PageCount, output, j.Source)
	}
	return tw.Flush()
}
