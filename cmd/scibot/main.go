// Command scibot posts new feed items to Bluesky or Telegram on a schedule
// and amplifies matching posts.
//
// Usage:
//
//	scibot [--config PATH] [run]
//	scibot jobs [-n N]
//	scibot ledger has|add|import|count
//	scibot version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scibot/internal/app"
	"scibot/internal/config"
	logx "scibot/pkg/logx"
)

// version is set with -ldflags at build time.
var version = "dev"

func main() {
	var cfgPath string

	root := &cobra.Command{
		Use:           "scibot",
		Short:         "Scheduled science feed bot",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./scibot.yaml", "path to config (yaml or json)")

	loadConfig := func() (*config.Config, error) {
		return config.NewManager(cfgPath, logx.NewConsole("warn")).Parse()
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the scheduler until interrupted",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return run(cmd.Context(), cfgPath)
			},
		},
		newJobsCmd(loadConfig),
		newLedgerCmd(loadConfig),
		&cobra.Command{
			Use:   "version",
			Short: "Print the version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		if a.Err() != nil {
			reason = app.StopFatalError
		}
	}
	fatal := a.Err()

	stopCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		return errors.Join(fatal, err)
	}
	return fatal
}
