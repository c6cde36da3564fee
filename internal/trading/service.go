// Package trading implements the paper-trading order management system: a
// synchronous submit-and-cross TradePort backed by the market registry's
// current price, the ledger, and the local matcher.
package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ledger"
	"github.com/kestrel-trade/kestrel/internal/market"
	"github.com/kestrel-trade/kestrel/internal/matching"
)

// Service is the entry point both live strategies and the paper-trading
// surface submit orders through. It implements ports.TradePort directly and
// ports.BacktestTradePort via Tick.
type Service struct {
	accounts *ledger.Manager
	book     *ledger.Book
	matcher  matching.Matcher
	registry *market.Registry
}

// NewService wires a trade service over the given ledger, pending-order
// book, matcher, and market registry.
func NewService(accounts *ledger.Manager, book *ledger.Book, matcher matching.Matcher, registry *market.Registry) *Service {
	return &Service{accounts: accounts, book: book, matcher: matcher, registry: registry}
}

// SubmitOrder freezes the estimated notional for a buy, then either crosses
// a market order synchronously against the symbol's current price or parks
// a limit order in the pending book for a later Tick to cross.
func (s *Service) SubmitOrder(ctx context.Context, order *domain.Order) (string, error) {
	if order.Volume.Sign() <= 0 {
		return "", fmt.Errorf("%w: volume must be strictly positive", domain.ErrBadRequest)
	}
	if order.ID == "" {
		order.ID = uuid.NewString()
	}

	acct, err := s.accounts.Get(order.AccountID)
	if err != nil {
		return "", err
	}

	handle, err := s.registry.Get(ctx, order.Symbol)
	if err != nil {
		return "", &domain.MarketError{Kind: domain.MarketErrorUnknown, Msg: "failed to acquire market aggregate", Err: err}
	}
	defer handle.Release()

	// A limit order's estimated notional comes from its own price, so it
	// never needs the aggregate to have observed a trade yet; only a
	// market order requires a current price to cross against.
	var currentPrice decimal.Decimal
	estPrice := order.Price
	if estPrice == nil {
		cp, ok := handle.Aggregate().CurrentPrice()
		if !ok {
			return "", &domain.InternalError{Msg: "no current price available for " + order.Symbol}
		}
		currentPrice = cp
		estPrice = &cp
	}
	estReqFunds := estPrice.Mul(order.Volume)

	if order.Direction == domain.Buy {
		if err := acct.Freeze(estReqFunds); err != nil {
			return "", err
		}
	}

	if order.Price == nil {
		// Market order: crosses synchronously at the current price.
		order.Status = domain.OrderSubmitted
		nowMs := time.Now().UnixMilli()
		if trade := s.matcher.Execute(order, currentPrice, nowMs); trade != nil {
			acct.ProcessTrade(*trade, estReqFunds)
		}
	} else {
		// Limit order: parked until a candle tick crosses its price.
		order.Status = domain.OrderPending
		s.book.Save(order)
	}

	return order.ID, nil
}

// CancelOrder removes a resting order from the pending book and, for a buy
// limit order, unfreezes its remaining notional. Removal is the only way an
// order leaves the book as Canceled, so a second cancel of the same id
// always reports OrderNotFound rather than double-refunding.
func (s *Service) CancelOrder(ctx context.Context, orderID string) error {
	order, ok := s.book.Remove(orderID)
	if !ok {
		return domain.ErrOrderNotFound
	}

	acct, err := s.accounts.Get(order.AccountID)
	if err != nil {
		return err
	}
	if order.Price != nil && order.Direction == domain.Buy {
		acct.Unfreeze(order.Price.Mul(order.Remaining()))
	}
	order.Status = domain.OrderCanceled
	return nil
}

// GetAccount returns a point-in-time snapshot of the account's balances and
// positions.
func (s *Service) GetAccount(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	return s.accounts.Snapshot(accountID)
}

// GetOrders lists the orders resting in the pending book for accountID;
// filled and canceled orders have left the book and are not returned.
func (s *Service) GetOrders(ctx context.Context, accountID string) ([]*domain.Order, error) {
	return s.book.GetByAccount(accountID), nil
}

// GetOrder looks up a single order by ID.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, ok := s.book.Get(orderID)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

// Tick checks every pending order resting on symbol against candle (see
// crosses) and executes each crossing order with candle's close as the
// reference price, so a limit order fills at its own limit price and a
// market order at the close. It is for use by the backtest driver where no
// live price feed exists to drive Service.SubmitOrder's immediate-cross path.
func (s *Service) Tick(ctx context.Context, symbol string, candle domain.Candle) {
	for _, order := range s.book.GetBySymbol(symbol) {
		if order.Status != domain.OrderPending && order.Status != domain.OrderSubmitted {
			continue
		}
		if !crosses(order, candle) {
			continue
		}

		acct, err := s.accounts.Get(order.AccountID)
		if err != nil {
			continue
		}

		estPrice := candle.Close
		if order.Price != nil {
			estPrice = *order.Price
		}
		estReqFunds := estPrice.Mul(order.Remaining())

		if trade := s.matcher.Execute(order, candle.Close, candle.Time.UnixMilli()); trade != nil {
			acct.ProcessTrade(*trade, estReqFunds)
			s.book.Remove(order.ID)
		}
	}
}

// crosses reports whether a resting limit order would fill against candle's
// range: a buy limit fills if the candle traded at or below the limit, a
// sell limit if it traded at or above it. Market orders (no limit price)
// always cross.
func crosses(order *domain.Order, candle domain.Candle) bool {
	if order.Price == nil {
		return true
	}
	limit := *order.Price
	if order.Direction == domain.Buy {
		return candle.Low.LessThanOrEqual(limit)
	}
	return candle.High.GreaterThanOrEqual(limit)
}
