package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kestrel-trade/kestrel/internal/cli"
	"github.com/kestrel-trade/kestrel/internal/clock"
	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/engine"
	"github.com/kestrel-trade/kestrel/internal/ledger"
	"github.com/kestrel-trade/kestrel/internal/market"
	"github.com/kestrel-trade/kestrel/internal/matching"
	"github.com/kestrel-trade/kestrel/internal/providers"
	"github.com/kestrel-trade/kestrel/internal/sandbox"
	"github.com/kestrel-trade/kestrel/internal/store"
	"github.com/kestrel-trade/kestrel/internal/supervisor"
	"github.com/kestrel-trade/kestrel/internal/trading"
)

const historyMaxRetries = 3
const consoleRefreshInterval = 2 * time.Second

var serveUser string

// engineHandles bundles the live components started for one user so that
// both the headless serve loop and the operator console can share them.
type engineHandles struct {
	strategies *store.SQLiteStore
	candles    *store.CandleStore
	registry   *market.Registry
	accounts   *ledger.Manager
	super      *supervisor.Supervisor
}

func (h *engineHandles) Close() {
	h.registry.Close()
	h.candles.Close()
	h.strategies.Close()
}

func (h *engineHandles) snapshot(ctx context.Context, user string) (cli.Snapshot, error) {
	instances, err := h.strategies.List(ctx, user)
	if err != nil {
		return cli.Snapshot{}, err
	}
	snapshots := make([]domain.AccountSnapshot, 0, len(instances))
	seen := make(map[string]bool)
	for _, instance := range instances {
		if seen[instance.AccountID] {
			continue
		}
		seen[instance.AccountID] = true
		snap, err := h.accounts.Snapshot(instance.AccountID)
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snap)
	}
	return cli.Snapshot{Strategies: instances, Accounts: snapshots}, nil
}

// startUserStrategies opens every store and the market registry, then
// starts every strategy instance persisted for user under the supervisor.
// Callers must Close the returned handles once done.
func startUserStrategies(ctx context.Context, user string) (*engineHandles, error) {
	strategies, err := store.NewSQLiteStore(cfg.Storage.OLTPDSN)
	if err != nil {
		return nil, fmt.Errorf("open strategy store: %w", err)
	}

	candles, err := store.NewCandleStore(cfg.Storage.OLAPPath, "kestrel")
	if err != nil {
		strategies.Close()
		return nil, fmt.Errorf("open candle store: %w", err)
	}

	provider := providers.New(cfg.Market.ProviderWSURL, cfg.Market.ProviderHTTPURL, historyMaxRetries)
	registry := market.NewRegistry(provider, candles)

	accounts := ledger.NewManager(strategies)
	book := ledger.NewBook()
	matcher := matching.New(decimal.NewFromFloat(cfg.Engine.CommissionRate))
	tradeSvc := trading.NewService(accounts, book, matcher, registry)

	factory := engine.NewFactory()
	super := supervisor.New(factory, strategies)

	instances, err := strategies.List(ctx, user)
	if err != nil {
		registry.Close()
		candles.Close()
		strategies.Close()
		return nil, fmt.Errorf("list strategies for %q: %w", user, err)
	}

	seenSymbols := make(map[string]bool)
	for _, instance := range instances {
		accounts.EnsureAccount(instance.AccountID, decimal.Zero)

		if !seenSymbols[instance.Symbol] {
			seenSymbols[instance.Symbol] = true
			go feedTicks(ctx, registry, tradeSvc, instance.Symbol)
		}

		params := engine.BuildParams{
			Instance: instance,
			Trade:    tradeSvc,
			Registry: registry,
			Clock:    clock.Real{},
			Signals:  signalLogger{},
			Limits: sandbox.Limits{
				MemoryMiB: cfg.Engine.SandboxMemoryMiB,
				Fuel:      cfg.Engine.SandboxFuel,
			},
		}
		if err := super.Start(ctx, params); err != nil {
			slog.Error("failed to start strategy instance", "instance_id", instance.ID, "err", err)
		}
	}

	slog.Info("engine serving", "user", user, "strategies", len(instances))
	return &engineHandles{strategies: strategies, candles: candles, registry: registry, accounts: accounts, super: super}, nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "run the live engine headless: load persisted strategies for a user and execute them",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		handles, err := startUserStrategies(ctx, serveUser)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		defer handles.Close()
		defer handles.super.StopAll(context.Background())

		<-ctx.Done()
		slog.Info("shutting down, stopping strategy instances")
		handles.super.StopAll(context.Background())
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveUser, "user", "", "owning user id whose persisted strategies to start")
}

// feedTicks subscribes to the minute timeframe for symbol and drives the
// trading service's pending-order crossing for every candle observed, the
// live-mode analogue of the backtest driver's per-candle Tick call.
func feedTicks(ctx context.Context, registry *market.Registry, trade *trading.Service, symbol string) {
	handle, err := registry.Get(ctx, symbol)
	if err != nil {
		slog.Error("tick feeder: acquire aggregate failed", "symbol", symbol, "err", err)
		return
	}
	defer handle.Release()

	stream, unsubscribe := handle.Aggregate().Subscribe(domain.M1)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case candle, ok := <-stream:
			if !ok {
				return
			}
			trade.Tick(ctx, symbol, candle)
		}
	}
}

// signalLogger is the default ports.SignalHandler when no richer sink is
// configured: it just logs the signal at info level.
type signalLogger struct{}

func (signalLogger) Handle(ctx context.Context, signal domain.Signal) error {
	slog.Info("strategy signal", "strategy_id", signal.StrategyID, "symbol", signal.Symbol, "kind", signal.Kind)
	return nil
}
