// Package main is a load generator for the mafia server: it opens tables over
// the HTTP API, attaches a websocket per seat plus spectators, spams commands
// and checks every table still verifies once it ends.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
)

var opts loadOptions

func main() {
	cmd := &cobra.Command{
		Use:          "agitator",
		Short:        "Stress a running mafia server with tables, sockets and command spam",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			ctx, stop := context.WithTimeout(ctx, opts.Duration)
			defer stop()

			stats, err := agitate(ctx, opts, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), stats, opts)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.BaseURL, "url", "http://localhost:8080", "Server base URL")
	f.IntVar(&opts.Games, "games", 5, "Tables to open")
	f.IntVar(&opts.Players, "players", 7, "Seats per table")
	f.IntVar(&opts.Spectators, "spectators", 3, "Public sockets per table")
	f.Int64Var(&opts.Seed, "seed", 1, "Seed of the first table")
	f.DurationVar(&opts.Interval, "interval", 300*time.Millisecond, "Command interval per seat socket")
	f.DurationVar(&opts.Duration, "duration", time.Minute, "Give up after this long")
	f.StringVar(&opts.Output, "out", "", "Write the results as JSON to this file")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
