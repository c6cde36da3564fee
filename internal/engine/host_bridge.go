package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/market"
	"github.com/kestrel-trade/kestrel/internal/ports"
	"github.com/kestrel-trade/kestrel/internal/sandbox"
)

// historyBuffer is the multiplier applied to limit*timeframe when computing
// the lookback window for a FetchHistory host call, matching the original
// engine's "2x buffer for weekends and halts" comment.
const historyBuffer = 2

// hostBridge is the one Go-side implementation of sandbox.HostBridge,
// shared by both the script and bytecode sandboxes. It is the only
// capability surface a sandboxed strategy can reach: market history, the
// account's trade port, and the engine's clock.
type hostBridge struct {
	registry  *market.Registry
	trade     ports.TradePort
	accountID string
	clock     ports.Clock
	strategy  string
}

func newHostBridge(registry *market.Registry, trade ports.TradePort, accountID, strategyID string, clock ports.Clock) *hostBridge {
	return &hostBridge{registry: registry, trade: trade, accountID: accountID, strategy: strategyID, clock: clock}
}

func (b *hostBridge) Log(level sandbox.LogLevel, msg string) {
	switch level {
	case sandbox.LogError:
		slog.Error("strategy log", "strategy_id", b.strategy, "msg", msg)
	case sandbox.LogWarn:
		slog.Warn("strategy log", "strategy_id", b.strategy, "msg", msg)
	default:
		slog.Info("strategy log", "strategy_id", b.strategy, "msg", msg)
	}
}

func (b *hostBridge) Now() time.Time { return b.clock.Now() }

func (b *hostBridge) FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, limit int) ([]domain.Candle, error) {
	handle, err := b.registry.Get(ctx, symbol)
	if err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorUnknown, Msg: "failed to acquire market aggregate", Err: err}
	}
	defer handle.Release()

	end := b.clock.Now()
	start := end.Add(-tf.Duration() * time.Duration(limit*historyBuffer))

	candles, err := handle.Aggregate().FetchHistory(ctx, tf, start, end)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	return candles, nil
}

func (b *hostBridge) Buy(ctx context.Context, symbol string, price *decimal.Decimal, volume decimal.Decimal) (string, error) {
	return b.submit(ctx, symbol, domain.Buy, price, volume)
}

func (b *hostBridge) Sell(ctx context.Context, symbol string, price *decimal.Decimal, volume decimal.Decimal) (string, error) {
	return b.submit(ctx, symbol, domain.Sell, price, volume)
}

func (b *hostBridge) submit(ctx context.Context, symbol string, direction domain.OrderDirection, price *decimal.Decimal, volume decimal.Decimal) (string, error) {
	order := &domain.Order{
		AccountID: b.accountID,
		Symbol:    symbol,
		Direction: direction,
		Price:     price,
		Volume:    volume,
		CreatedAtMs: b.clock.Now().UnixMilli(),
	}
	return b.trade.SubmitOrder(ctx, order)
}
