package providers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/relvacode/iso8601"
	segjson "github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// httpCandle is the upstream REST API's candle wire shape. Timestamps are
// lenient RFC3339/ISO-8601 (github.com/relvacode/iso8601), matching the
// wire contract described in spec.md 6 more forgivingly than time.RFC3339.
type httpCandle struct {
	Time     string   `json:"time"`
	Open     float64  `json:"open"`
	High     float64  `json:"high"`
	Low      float64  `json:"low"`
	Close    float64  `json:"close"`
	AdjClose *float64 `json:"adj_close"`
	Volume   float64  `json:"volume"`
}

// HTTPHistoryProvider fetches historical candles from the upstream
// provider's REST API, retrying transient failures via
// hashicorp/go-retryablehttp.
type HTTPHistoryProvider struct {
	baseURL string
	client  *retryablehttp.Client
}

// NewHTTPHistoryProvider constructs a history fallback client pointed at
// baseURL, retrying up to maxRetries times on transient failures.
func NewHTTPHistoryProvider(baseURL string, maxRetries int) *HTTPHistoryProvider {
	client := retryablehttp.NewClient()
	client.RetryMax = maxRetries
	client.Logger = nil
	return &HTTPHistoryProvider{baseURL: baseURL, client: client}
}

// FetchHistory implements the upstream-fallback half of
// ports.MarketDataProvider: a GET against /candles with symbol/timeframe/
// start/end query parameters, returning candles ascending with
// IsFinal=true for every element (spec.md 4.7 "History").
func (p *HTTPHistoryProvider) FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	u, err := url.Parse(p.baseURL + "/candles")
	if err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorUnknown, Msg: "parse history base url", Err: err}
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("timeframe", string(tf))
	q.Set("start", start.UTC().Format(time.RFC3339))
	q.Set("end", end.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := retryablehttp.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorUnknown, Msg: "build history request", Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: "history request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == 404 {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNotFound, Msg: fmt.Sprintf("no history for %s", symbol)}
	}
	if resp.StatusCode >= 400 {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: fmt.Sprintf("history request status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: "read history response", Err: err}
	}

	var wire []httpCandle
	if err := segjson.Unmarshal(body, &wire); err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorParse, Msg: "decode history response", Err: err}
	}

	out := make([]domain.Candle, 0, len(wire))
	for _, w := range wire {
		t, err := iso8601.ParseString(w.Time)
		if err != nil {
			slog.Warn("skipping history candle with unparseable timestamp", "symbol", symbol, "raw", w.Time, "err", err)
			continue
		}
		candle := domain.Candle{
			Time: t, Open: decimal.NewFromFloat(w.Open), High: decimal.NewFromFloat(w.High),
			Low: decimal.NewFromFloat(w.Low), Close: decimal.NewFromFloat(w.Close),
			Volume: decimal.NewFromFloat(w.Volume), IsFinal: true,
		}
		if w.AdjClose != nil {
			adj := decimal.NewFromFloat(*w.AdjClose)
			candle.AdjClose = &adj
		}
		out = append(out, candle)
	}
	return out, nil
}
