package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kestrel-trade/kestrel/internal/backtest"
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

var (
	btSymbol         string
	btTimeframe      string
	btAccount        string
	btSource         string
	btEngineKind     string
	btInitialBalance float64
	btStart          = cli.NewYMDFlag(time.Time{})
	btEnd            = cli.NewYMDFlag(time.Time{})
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "replay historical candles through one strategy and report the outcome",
	RunE:  runBacktest,
}

func init() {
	f := backtestCmd.Flags()
	f.StringVar(&btSymbol, "symbol", "", "instrument symbol to replay")
	f.StringVar(&btTimeframe, "timeframe", string(domain.M1), "candle timeframe")
	f.StringVar(&btAccount, "account", "backtest", "account id to credit and trade against")
	f.StringVar(&btSource, "source", "", "path to the strategy source file (js for script, wasm for bytecode)")
	f.StringVar(&btEngineKind, "engine", string(domain.EngineScript), "engine kind: script|bytecode")
	f.Float64Var(&btInitialBalance, "balance", 10000, "starting account balance")
	f.Var(&btStart, "start", "replay start date, YYYYMMDD")
	f.Var(&btEnd, "end", "replay end date, YYYYMMDD")
	backtestCmd.MarkFlagRequired("symbol")
	backtestCmd.MarkFlagRequired("source")
	backtestCmd.MarkFlagRequired("start")
	backtestCmd.MarkFlagRequired("end")
}

func runBacktest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	tf, err := domain.ParseTimeFrame(btTimeframe)
	if err != nil {
		return fmt.Errorf("backtest: %w", err)
	}

	source, err := os.ReadFile(btSource)
	if err != nil {
		return fmt.Errorf("backtest: read strategy source %q: %w", btSource, err)
	}

	history, err := loadBacktestHistory(ctx, btSymbol, tf, btStart.Time(), btEnd.Time())
	if err != nil {
		return err
	}
	if len(history) == 0 {
		return fmt.Errorf("backtest: no candles for %s in [%s,%s]", btSymbol, btStart.Time(), btEnd.Time())
	}

	provider := backtest.NewProvider(history)
	registry := market.NewRegistry(provider, nil)
	defer registry.Close()

	accounts := ledger.NewManager(nil)
	accounts.EnsureAccount(btAccount, decimal.NewFromFloat(btInitialBalance))
	book := ledger.NewBook()
	matcher := matching.New(decimal.NewFromFloat(cfg.Engine.CommissionRate))
	tradeSvc := trading.NewService(accounts, book, matcher, registry)

	instance := &domain.StrategyInstance{
		ID:         uuid.NewString(),
		UserID:     "backtest",
		Symbol:     btSymbol,
		AccountID:  btAccount,
		TimeFrame:  tf,
		EngineKind: domain.EngineKind(btEngineKind),
		Source:     source,
		Status:     domain.Pending(),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}

	controlled := clock.NewControlled(history[0].Time)
	factory := engine.NewFactory()
	super := supervisor.New(factory, nil)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := super.Start(runCtx, engine.BuildParams{
		Instance: instance,
		Trade:    tradeSvc,
		Registry: registry,
		Clock:    controlled,
		Signals:  signalLogger{},
		Limits: sandbox.Limits{
			MemoryMiB: cfg.Engine.SandboxMemoryMiB,
			Fuel:      cfg.Engine.SandboxFuel,
		},
	}); err != nil {
		return fmt.Errorf("backtest: start strategy: %w", err)
	}

	driver := backtest.NewDriver(controlled, tradeSvc, provider)
	if err := driver.Run(runCtx, btSymbol, tf, history); err != nil {
		return fmt.Errorf("backtest: replay failed: %w", err)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	_ = super.Stop(stopCtx, instance.UserID, instance.ID)

	snap, err := accounts.Snapshot(btAccount)
	if err != nil {
		return fmt.Errorf("backtest: snapshot account: %w", err)
	}
	orders, err := tradeSvc.GetOrders(context.Background(), btAccount)
	if err != nil {
		return fmt.Errorf("backtest: list orders: %w", err)
	}

	cli.PrintAccountReport(cmd.OutOrStdout(), []domain.AccountSnapshot{snap})
	cli.PrintOrderReport(cmd.OutOrStdout(), orders)
	return nil
}

// loadBacktestHistory prefers the local candle store and falls back to the
// configured HTTP history provider when the store has nothing cached for
// the requested range.
func loadBacktestHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	candles, err := store.NewCandleStore(cfg.Storage.OLAPPath, "kestrel")
	if err == nil {
		defer candles.Close()
		cached, err := candles.Get(ctx, symbol, tf, start, end)
		if err == nil && len(cached) > 0 {
			return cached, nil
		}
	}

	history := providers.NewHTTPHistoryProvider(cfg.Market.ProviderHTTPURL, historyMaxRetries)
	return history.FetchHistory(ctx, symbol, tf, start, end)
}
