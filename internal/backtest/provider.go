// Package backtest drives a historical candle series through the same
// aggregate fan-out and trade service pending-order crossing strategies see
// live, under a controlled clock instead of wall time.
package backtest

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

// Provider is a ports.MarketDataProvider whose candles come from the
// backtest Driver feeding it, rather than a live upstream feed. Constructing
// a market.Registry around a Provider makes sandbox tasks subscribed through
// the registry observe backtest candles the exact same way they would a
// live broadcast.
type Provider struct {
	history []domain.Candle

	mu      sync.Mutex
	streams map[string]chan domain.Candle
}

// NewProvider constructs a backtest Provider seeded with the full candle
// series FetchHistory should answer from (e.g. serving a strategy's
// fetchHistory host call during a backtest run).
func NewProvider(history []domain.Candle) *Provider {
	return &Provider{history: history, streams: make(map[string]chan domain.Candle)}
}

// Subscribe registers a (symbol, timeframe) stream that Feed will write
// into. Unlike the live providers, there is exactly one backtest run at a
// time, so no reconnect/dial logic is needed.
func (p *Provider) Subscribe(ctx context.Context, symbol string, tf domain.TimeFrame) (<-chan domain.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan domain.Candle, 16)
	p.streams[key(symbol, tf)] = ch
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		defer p.mu.Unlock()
		if cur, ok := p.streams[key(symbol, tf)]; ok && cur == ch {
			delete(p.streams, key(symbol, tf))
			close(ch)
		}
	}()
	return ch, nil
}

// FetchHistory returns the candles in [start,end] from the seeded series,
// ascending, mirroring the read-through contract the live providers honor.
func (p *Provider) FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	out := make([]domain.Candle, 0, len(p.history))
	for _, c := range p.history {
		if !c.Time.Before(start) && !c.Time.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Feed pushes one candle onto every live subscriber for (symbol, tf),
// dropping instead of blocking for a lagging subscriber — the same
// broadcast semantics the live market aggregate uses.
func (p *Provider) Feed(symbol string, tf domain.TimeFrame, c domain.Candle) {
	p.mu.Lock()
	ch, ok := p.streams[key(symbol, tf)]
	p.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- c:
	default:
		slog.Warn("backtest provider subscriber lagging, candle dropped", "symbol", symbol, "timeframe", tf)
	}
}

func key(symbol string, tf domain.TimeFrame) string { return symbol + "|" + string(tf) }

var _ ports.MarketDataProvider = (*Provider)(nil)
