package backtest

import (
	"context"
	"runtime"

	"github.com/kestrel-trade/kestrel/internal/clock"
	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

// Driver replays a historical candle series through a controlled clock,
// ticking the trade service's pending-order book and feeding the backtest
// Provider's fan-out so any strategy task subscribed through the market
// registry observes the same bars.
type Driver struct {
	clock    *clock.Controlled
	trade    ports.BacktestTradePort
	provider *Provider
}

// NewDriver constructs a Driver. clock is the controlled clock strategies
// under this backtest observe Now() from; trade receives the per-candle
// Tick call that crosses pending limit orders; provider is the backtest
// market data source feeding subscribed aggregates.
func NewDriver(controlled *clock.Controlled, trade ports.BacktestTradePort, provider *Provider) *Driver {
	return &Driver{clock: controlled, trade: trade, provider: provider}
}

// Run replays candles in order for symbol/tf: advance the controlled clock
// to the candle's time, tick the pending-order book, then feed the
// aggregate fan-out and yield so subscribed sandbox tasks can process the
// bar before the next one advances the clock. Returns early if ctx is
// canceled between candles.
func (d *Driver) Run(ctx context.Context, symbol string, tf domain.TimeFrame, candles []domain.Candle) error {
	for _, c := range candles {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d.clock.Set(c.Time)
		d.trade.Tick(ctx, symbol, c)
		d.provider.Feed(symbol, tf, c)
		runtime.Gosched()
	}
	return nil
}
