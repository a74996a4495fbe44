package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scibot/internal/app"
	"scibot/internal/config"
)

func newJobsCmd(load func() (*config.Config, error)) *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Show the configured jobs and their next runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			previews, err := app.Preview(cfg, time.Now(), n)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tACTION\tARGS\tSCHEDULE\tNEXT")
			for _, p := range previews {
				next := make([]string, 0, len(p.Next))
				for _, t := range p.Next {
					next = append(next, t.Format("2006-01-02 15:04"))
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.Name, p.Action, strings.Join(p.Args, " "), p.Recurrence, strings.Join(next, ", "))
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&n, "next", "n", 3, "number of upcoming runs to show")
	return cmd
}
