// Package ports declares the interfaces every component boundary in the
// engine is programmed against, the same way the teacher's internal/ports
// package decouples internal/scanner from its adapters.
package ports

import (
	"context"
	"time"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// TradePort is the contract strategies and the (out-of-scope) REST surface
// use to place and query orders.
type TradePort interface {
	SubmitOrder(ctx context.Context, order *domain.Order) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	GetAccount(ctx context.Context, accountID string) (domain.AccountSnapshot, error)
	GetOrders(ctx context.Context, accountID string) ([]*domain.Order, error)
	GetOrder(ctx context.Context, orderID string) (*domain.Order, error)
}

// BacktestTradePort extends TradePort with the backtest-only pending-order
// crossing hook.
type BacktestTradePort interface {
	TradePort
	Tick(ctx context.Context, symbol string, candle domain.Candle)
}

// MarketDataProvider is the pluggable upstream capability a fetcher task
// subscribes to. Implementations may be a websocket feed, a polled REST API,
// or (in tests) a fixture replayer.
type MarketDataProvider interface {
	// Subscribe opens a live stream of candles for symbol/timeframe. The
	// returned channel is closed when ctx is canceled or the stream ends.
	Subscribe(ctx context.Context, symbol string, tf domain.TimeFrame) (<-chan domain.Candle, error)

	// FetchHistory returns historical candles in [start,end], ascending,
	// all with IsFinal=true.
	FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error)
}

// CandleStore is the read-through persistence namespace for historical
// candles, keyed by (symbol, exchange) with primary key (timeframe, time).
type CandleStore interface {
	Get(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error)
	Put(ctx context.Context, symbol string, tf domain.TimeFrame, candle domain.Candle) error
}

// StrategyStore persists strategy instances under a user-scoped namespace
// keyed by (user_id, id).
type StrategyStore interface {
	Save(ctx context.Context, instance *domain.StrategyInstance) error
	UpdateStatus(ctx context.Context, userID, id string, status domain.StrategyStatus) error
	Get(ctx context.Context, userID, id string) (*domain.StrategyInstance, error)
	List(ctx context.Context, userID string) ([]*domain.StrategyInstance, error)
}

// AccountAuditStore persists the append-only audit log of ledger mutations.
type AccountAuditStore interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
}

// SignalHandler consumes signals emitted by a running strategy.
type SignalHandler interface {
	Handle(ctx context.Context, signal domain.Signal) error
}

// Clock is the abstract time source injected into strategies and the
// backtest driver.
type Clock interface {
	Now() time.Time
}
