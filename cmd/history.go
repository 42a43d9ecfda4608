package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/testsched/internal/journal"
)

func newHistoryCmd() *cobra.Command {
	var limit int
	c := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			d, err := a.openDB(ctx, false)
			if err != nil {
				return err
			}
			defer d.Close()

			runs, err := journal.NewRepo(d).ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Fprintln(cmd.OutOrStdout(), formatRun(r))
			}
			return nil
		},
	}
	c.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return c
}

func formatRun(r journal.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s started=%s phase=%s passes=%d window=[%s,%s)",
		r.ID, r.StartedAt.Format(time.RFC3339), r.Phase, r.Passes, dateOrAny(r.Start), dateOrAny(r.End))
	if len(r.Locations) > 0 {
		fmt.Fprintf(&b, " locations=%s", strings.Join(r.Locations, ","))
	}
	for _, a := range r.Appointments {
		fmt.Fprintf(&b, " booked=%s@%s", a.ID, a.SiteName)
	}
	if r.LastError != nil {
		fmt.Fprintf(&b, " last_error=%q", *r.LastError)
	}
	return b.String()
}
