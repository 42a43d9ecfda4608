package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/testsched/internal/prompt"
)

func newSitesCmd() *cobra.Command {
	var username string
	cmd := &cobra.Command{
		Use:   "sites",
		Short: "List testing sites and their next available time",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			client, err := a.login(ctx, prompt.New(cmd.InOrStdin(), cmd.OutOrStdout()), username)
			if err != nil {
				return err
			}
			_, windows, err := client.ListSites(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSITE\tNEXT AVAILABLE")
			for _, w := range windows {
				next := "-"
				if w.NextAvailable != nil {
					next = w.NextAvailable.Local().Format(time.RFC1123)
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", w.SiteID, w.SiteName, next)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "email or phone number (default $BEACON_USERNAME, else prompted)")
	return cmd
}
