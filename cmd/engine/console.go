package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/kestrel-trade/kestrel/internal/cli"
)

var consoleUser string

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "run the live engine with an operator console showing strategy and account state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		handles, err := startUserStrategies(ctx, consoleUser)
		if err != nil {
			return fmt.Errorf("console: %w", err)
		}
		defer handles.Close()
		defer handles.super.StopAll(context.Background())

		refresh := func(ctx context.Context) (cli.Snapshot, error) {
			return handles.snapshot(ctx, consoleUser)
		}

		if err := cli.RunConsole(ctx, refresh, consoleRefreshInterval); err != nil {
			slog.Error("console exited with error", "err", err)
		}

		slog.Info("shutting down, stopping strategy instances")
		handles.super.StopAll(context.Background())
		return nil
	},
}

func init() {
	consoleCmd.Flags().StringVar(&consoleUser, "user", "", "owning user id whose persisted strategies to start")
	rootCmd.AddCommand(consoleCmd)
}
