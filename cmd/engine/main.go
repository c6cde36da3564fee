// Command engine runs the strategy execution engine: live service mode,
// an offline backtest driver, and a live operator console, all sharing the
// same sandboxed-strategy core.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kestrel-trade/kestrel/config"
)

var (
	configPath string
	verbose    bool
	logFormat  string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "engine",
	Short:         "Kestrel strategy engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Log.Level = "debug"
		}
		if logFormat != "" {
			loaded.Log.Format = logFormat
		}
		setupLogger(loaded.Log)
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config/config.yaml", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "set log level to debug")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text|json (overrides config)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(backtestCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		slog.Error("engine exited with error", "err", err)
		os.Exit(1)
	}
}

func setupLogger(logCfg config.LogConfig) {
	var level slog.Level
	switch logCfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logCfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
