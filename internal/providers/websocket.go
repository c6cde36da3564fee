// Package providers implements the two concrete upstream market-data
// adapters the pluggable ports.MarketDataProvider contract allows: a
// gorilla/websocket live feed for Subscribe and a go-retryablehttp client
// for the FetchHistory fallback path, matching spec.md 4.7's "History" rule.
package providers

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

const (
	wsReconnectDelay = 2 * time.Second
	wsReadTimeout    = 30 * time.Second
)

// wireQuote mirrors the candle JSON schema from spec.md 6, parsed with
// fastjson for a zero-allocation hot path on the live feed.
type wireQuote struct {
	Symbol    string
	TimeFrame string
	Candle    domain.Candle
}

// WebSocketProvider streams live candles from a single upstream websocket
// endpoint. One underlying connection is reused across all Subscribe calls;
// each call registers a (symbol, timeframe) filter and gets its own output
// channel, closed when ctx is done or the connection is torn down.
type WebSocketProvider struct {
	url string

	subMu       chan struct{} // binary semaphore guarding subs
	subscribers map[string][]chan domain.Candle

	conn *websocket.Conn
}

// NewWebSocketProvider constructs a provider pointed at the given websocket
// URL. The connection is dialed lazily on the first Subscribe call.
func NewWebSocketProvider(wsURL string) *WebSocketProvider {
	return &WebSocketProvider{
		url:         wsURL,
		subMu:       make(chan struct{}, 1),
		subscribers: make(map[string][]chan domain.Candle),
	}
}

func key(symbol string, tf domain.TimeFrame) string { return symbol + "|" + string(tf) }

// Subscribe opens (or reuses) the upstream websocket connection and returns
// a channel of candles for symbol/tf, closed when ctx is canceled.
func (p *WebSocketProvider) Subscribe(ctx context.Context, symbol string, tf domain.TimeFrame) (<-chan domain.Candle, error) {
	if err := p.ensureConn(ctx); err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: "websocket dial failed", Err: err}
	}

	ch := make(chan domain.Candle, 64)
	p.subMu <- struct{}{}
	k := key(symbol, tf)
	p.subscribers[k] = append(p.subscribers[k], ch)
	<-p.subMu

	if err := p.conn.WriteJSON(map[string]string{"action": "subscribe", "symbol": symbol, "timeframe": string(tf)}); err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: "subscribe request failed", Err: err}
	}

	go func() {
		<-ctx.Done()
		p.unsubscribe(k, ch)
	}()

	return ch, nil
}

func (p *WebSocketProvider) unsubscribe(k string, ch chan domain.Candle) {
	p.subMu <- struct{}{}
	defer func() { <-p.subMu }()
	subs := p.subscribers[k]
	for i, s := range subs {
		if s == ch {
			p.subscribers[k] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (p *WebSocketProvider) ensureConn(ctx context.Context) error {
	if p.conn != nil {
		return nil
	}
	u, err := url.Parse(p.url)
	if err != nil {
		return fmt.Errorf("parse websocket url: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	p.conn = conn
	go p.readLoop()
	return nil
}

// readLoop pumps incoming frames from the single shared connection and fans
// each parsed candle out to every subscriber registered for its
// (symbol, timeframe) key. A connection error tears down every subscriber
// channel (broadcast semantics: slow or dead consumers are dropped, never
// allowed to block this loop).
func (p *WebSocketProvider) readLoop() {
	var parser fastjson.Parser
	for {
		p.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			slog.Warn("market websocket read failed, closing subscribers", "err", err)
			p.closeAllSubscribers()
			return
		}

		v, err := parser.ParseBytes(msg)
		if err != nil {
			slog.Warn("market websocket frame parse failed", "err", err)
			continue
		}
		quote, ok := parseQuote(v)
		if !ok {
			continue
		}

		k := key(quote.Symbol, domain.TimeFrame(quote.TimeFrame))
		p.subMu <- struct{}{}
		subs := append([]chan domain.Candle(nil), p.subscribers[k]...)
		<-p.subMu

		for _, ch := range subs {
			select {
			case ch <- quote.Candle:
			default:
				slog.Warn("market websocket subscriber lagging, candle dropped", "symbol", quote.Symbol)
			}
		}
	}
}

func (p *WebSocketProvider) closeAllSubscribers() {
	p.subMu <- struct{}{}
	defer func() { <-p.subMu }()
	for k, subs := range p.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(p.subscribers, k)
	}
}

// Close tears down the underlying websocket connection, if any.
func (p *WebSocketProvider) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}
