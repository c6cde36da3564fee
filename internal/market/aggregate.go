// Package market implements the per-symbol reference-counted market
// aggregate and its registry: a single upstream subscription multiplexed to
// N consumers, with hot caches and lazy self-eviction.
package market

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/kestrel-trade/kestrel/internal/buffer"
	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

const rollingBufferCapacity = 500

// Aggregate is the per-symbol live object: caches, broadcast subscribers,
// and the per-timeframe fetcher goroutines. At most one instance is live
// per symbol per process; ownership is reference-counted via Handle.
type Aggregate struct {
	symbol   string
	provider ports.MarketDataProvider
	store    ports.CandleStore
	limiter  *rate.Limiter
	refcount atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	statusMu sync.RWMutex
	status   domain.AggregateStatus

	mu           sync.RWMutex
	currentPrice decimal.Decimal
	hasPrice     bool
	latest       map[domain.TimeFrame]domain.Candle
	latestClosed map[domain.TimeFrame]domain.Candle
	rolling      map[domain.TimeFrame]*buffer.Ring[domain.Candle]

	bmu          sync.Mutex
	broadcasters map[domain.TimeFrame]*broadcaster
	fetchersOn   map[domain.TimeFrame]bool
}

func newAggregate(parent context.Context, symbol string, provider ports.MarketDataProvider, store ports.CandleStore, limiter *rate.Limiter) *Aggregate {
	ctx, cancel := context.WithCancel(parent)
	return &Aggregate{
		symbol:       symbol,
		provider:     provider,
		store:        store,
		limiter:      limiter,
		ctx:          ctx,
		cancel:       cancel,
		status:       domain.StatusInitializing,
		latest:       make(map[domain.TimeFrame]domain.Candle),
		latestClosed: make(map[domain.TimeFrame]domain.Candle),
		rolling:      make(map[domain.TimeFrame]*buffer.Ring[domain.Candle]),
		broadcasters: make(map[domain.TimeFrame]*broadcaster),
		fetchersOn:   make(map[domain.TimeFrame]bool),
	}
}

// Symbol returns the symbol this aggregate multiplexes.
func (a *Aggregate) Symbol() string { return a.symbol }

// Status returns the aggregate's coarse lifecycle state.
func (a *Aggregate) Status() domain.AggregateStatus {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

func (a *Aggregate) setStatus(s domain.AggregateStatus) {
	a.statusMu.Lock()
	a.status = s
	a.statusMu.Unlock()
}

// CurrentPrice returns the last observed trade price across any timeframe.
func (a *Aggregate) CurrentPrice() (decimal.Decimal, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.currentPrice, a.hasPrice
}

// LatestCandle returns the most recent candle (closed or forming) for tf.
func (a *Aggregate) LatestCandle(tf domain.TimeFrame) (domain.Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.latest[tf]
	return c, ok
}

// LatestClosed returns the most recent closed (IsFinal) candle for tf.
func (a *Aggregate) LatestClosed(tf domain.TimeFrame) (domain.Candle, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.latestClosed[tf]
	return c, ok
}

// RecentCandles returns up to the rolling window's capacity of recent
// candles for tf, oldest first.
func (a *Aggregate) RecentCandles(tf domain.TimeFrame, limit int) []domain.Candle {
	a.mu.RLock()
	ring, ok := a.rolling[tf]
	a.mu.RUnlock()
	if !ok {
		return nil
	}
	all := ring.ToSlice()
	if limit > 0 && limit < len(all) {
		return all[len(all)-limit:]
	}
	return all
}

// Subscribe joins the broadcast fan-out for tf, lazily starting a fetcher
// goroutine for that timeframe the first time it is requested. The returned
// func unsubscribes and must be called when the caller is done.
func (a *Aggregate) Subscribe(tf domain.TimeFrame) (<-chan domain.Candle, func()) {
	a.bmu.Lock()
	b, ok := a.broadcasters[tf]
	if !ok {
		b = newBroadcaster()
		a.broadcasters[tf] = b
	}
	needsFetcher := !a.fetchersOn[tf]
	if needsFetcher {
		a.fetchersOn[tf] = true
	}
	a.bmu.Unlock()

	id, ch := b.subscribe()

	if needsFetcher {
		go a.runFetcher(tf)
	}

	return ch, func() { b.unsubscribe(id) }
}

// runFetcher is the single background task that subscribes to the upstream
// provider for one timeframe and feeds this aggregate's caches and
// broadcast fan-out. It exits when the aggregate's context is canceled
// (i.e. on eviction) or the upstream stream ends.
func (a *Aggregate) runFetcher(tf domain.TimeFrame) {
	stream, err := a.provider.Subscribe(a.ctx, a.symbol, tf)
	if err != nil {
		slog.Error("market fetcher failed to subscribe", "symbol", a.symbol, "timeframe", tf, "err", err)
		a.setStatus(domain.StatusFaulted)
		return
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case candle, ok := <-stream:
			if !ok {
				a.setStatus(domain.StatusOffline)
				// Close this timeframe's subscribers so their consumers see the
				// stream end, and let a later Subscribe start a fresh fetcher.
				a.bmu.Lock()
				if b := a.broadcasters[tf]; b != nil {
					b.closeAll()
				}
				delete(a.fetchersOn, tf)
				a.bmu.Unlock()
				return
			}
			a.setStatus(domain.StatusOnline)
			a.ingest(tf, candle)
		}
	}
}

// ingest updates hot caches, the rolling buffer, and fans the candle out,
// persisting closed bars asynchronously.
func (a *Aggregate) ingest(tf domain.TimeFrame, c domain.Candle) {
	a.mu.Lock()
	a.currentPrice = c.Close
	a.hasPrice = true
	a.latest[tf] = c
	if c.IsFinal {
		a.latestClosed[tf] = c
	}
	ring, ok := a.rolling[tf]
	if !ok {
		ring = buffer.New[domain.Candle](rollingBufferCapacity)
		a.rolling[tf] = ring
	}
	ring.Push(c)
	a.mu.Unlock()

	if c.IsFinal && a.store != nil {
		go a.persist(tf, c)
	}

	a.bmu.Lock()
	b := a.broadcasters[tf]
	a.bmu.Unlock()
	if b != nil {
		b.publish(c)
	}
}

// persist writes a closed candle to the store asynchronously; the store
// owns compression and its own wire format.
func (a *Aggregate) persist(tf domain.TimeFrame, c domain.Candle) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.store.Put(ctx, a.symbol, tf, c); err != nil {
		slog.Warn("failed to persist closed candle", "symbol", a.symbol, "timeframe", tf, "err", err)
	}
}

// FetchHistory is read-through: try the local store first, falling back to
// the upstream provider on an empty result. Callers get candles ordered
// ascending, with IsFinal=true for every element returned from history.
func (a *Aggregate) FetchHistory(ctx context.Context, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	if a.store != nil {
		candles, err := a.store.Get(ctx, a.symbol, tf, start, end)
		if err == nil && len(candles) > 0 {
			return candles, nil
		}
	}

	if a.limiter != nil {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: "rate limiter wait canceled", Err: err}
		}
	}

	candles, err := a.provider.FetchHistory(ctx, a.symbol, tf, start, end)
	if err != nil {
		return nil, &domain.MarketError{Kind: domain.MarketErrorNetwork, Msg: "upstream fetch_history failed", Err: err}
	}

	if a.store != nil {
		for _, c := range candles {
			if putErr := a.store.Put(ctx, a.symbol, tf, c); putErr != nil {
				slog.Warn("failed to backfill candle store", "symbol", a.symbol, "err", putErr)
			}
		}
	}
	return candles, nil
}

// evict cancels every fetcher and closes every broadcaster. Called exactly
// once, when the last strong reference is released.
func (a *Aggregate) evict() {
	a.cancel()
	a.bmu.Lock()
	for _, b := range a.broadcasters {
		b.closeAll()
	}
	a.bmu.Unlock()
}
