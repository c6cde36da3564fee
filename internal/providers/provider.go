package providers

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

// Provider composes the live websocket feed and the historical REST
// fallback into a single ports.MarketDataProvider, matching the contract
// each market.Aggregate fetcher depends on.
type Provider struct {
	*WebSocketProvider
	history *HTTPHistoryProvider
}

// New constructs a Provider backed by a live websocket feed at wsURL and a
// historical REST fallback at httpBaseURL.
func New(wsURL, httpBaseURL string, historyMaxRetries int) *Provider {
	return &Provider{
		WebSocketProvider: NewWebSocketProvider(wsURL),
		history:           NewHTTPHistoryProvider(httpBaseURL, historyMaxRetries),
	}
}

// FetchHistory delegates to the REST fallback client.
func (p *Provider) FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	return p.history.FetchHistory(ctx, symbol, tf, start, end)
}

var _ ports.MarketDataProvider = (*Provider)(nil)

// parseQuote extracts a wireQuote from one fastjson-parsed websocket frame.
// The live feed's wire shape mirrors the Candle JSON schema (spec.md 6) plus
// a "symbol" and "timeframe" envelope field.
func parseQuote(v *fastjson.Value) (wireQuote, bool) {
	symbol := string(v.GetStringBytes("symbol"))
	tf := string(v.GetStringBytes("timeframe"))
	if symbol == "" || tf == "" {
		return wireQuote{}, false
	}

	timeStr := string(v.GetStringBytes("time"))
	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return wireQuote{}, false
	}

	candle := domain.Candle{
		Time:    t,
		Open:    decimal.NewFromFloat(v.GetFloat64("open")),
		High:    decimal.NewFromFloat(v.GetFloat64("high")),
		Low:     decimal.NewFromFloat(v.GetFloat64("low")),
		Close:   decimal.NewFromFloat(v.GetFloat64("close")),
		Volume:  decimal.NewFromFloat(v.GetFloat64("volume")),
		IsFinal: v.GetBool("is_final"),
	}
	if adj := v.Get("adj_close"); adj != nil && adj.Type() == fastjson.TypeNumber {
		a := decimal.NewFromFloat(adj.GetFloat64())
		candle.AdjClose = &a
	}

	return wireQuote{Symbol: symbol, TimeFrame: tf, Candle: candle}, true
}
