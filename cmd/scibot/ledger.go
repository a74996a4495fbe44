package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"scibot/internal/app"
	"scibot/internal/config"
	"scibot/internal/feed"
	"scibot/internal/storage"
	logx "scibot/pkg/logx"
)

// newLedgerCmd groups maintenance commands for the dedup ledger. Keys are
// canonicalized the way the feed job looks them up. The file driver is
// locked while the bot runs, so these commands fail until it stops.
func newLedgerCmd(load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect or seed the dedup ledger",
	}

	withStore := func(fn func(ctx context.Context, cmd *cobra.Command, st storage.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cmd.Context(), cfg, logx.NewConsole("warn"))
			if err != nil {
				return err
			}
			defer st.Close()
			return fn(cmd.Context(), cmd, st, args)
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "has KEY",
			Short: "Report whether KEY was already published",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st storage.Store, args []string) error {
				ok, err := st.Contains(ctx, feed.CanonicalURL(args[0]))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), ok)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "add KEY...",
			Short: "Mark keys as published",
			Args:  cobra.MinimumNArgs(1),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st storage.Store, args []string) error {
				for _, k := range args {
					if err := st.Record(ctx, feed.CanonicalURL(k)); err != nil {
						return err
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "recorded %d keys\n", len(args))
				return nil
			}),
		},
		&cobra.Command{
			Use:   "import FILE",
			Short: "Import a JSON array of published keys",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st storage.Store, args []string) error {
				n, err := storage.ImportKeys(ctx, st, args[0], feed.CanonicalURL)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d new keys\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "count",
			Short: "Print the number of recorded keys",
			Args:  cobra.NoArgs,
			RunE: withStore(func(ctx context.Context, cmd *cobra.Command, st storage.Store, _ []string) error {
				n, err := st.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			}),
		},
	)
	return cmd
}
