// Package matching implements the single-price-per-tick fill model: a pure
// function from an order and a reference price to an optional trade. It
// performs no I/O and holds no locks.
package matching

import (
	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// Matcher produces fills at a configured commission rate. The matcher in
// this spec always fully fills (no partial fills); the schema supports
// partial fills but this is deliberate, not a bug to "fix" silently.
type Matcher struct {
	CommissionRate decimal.Decimal
}

// New constructs a Matcher charging commissionRate (may be zero) on the
// notional value of every fill.
func New(commissionRate decimal.Decimal) Matcher {
	return Matcher{CommissionRate: commissionRate}
}

// Execute matches order against referencePrice at now_ms. Preconditions:
// order.Status is Pending or Submitted. order is mutated in place
// (FilledVolume, Status) and a Trade is returned describing the fill. A nil
// Trade means the order's status disqualified it.
func (m Matcher) Execute(order *domain.Order, referencePrice decimal.Decimal, nowMs int64) *domain.Trade {
	if order.Status != domain.OrderPending && order.Status != domain.OrderSubmitted {
		return nil
	}

	executePrice := referencePrice
	if order.Price != nil {
		executePrice = *order.Price
	}

	executedVolume := order.Remaining()
	commission := executePrice.Mul(executedVolume).Mul(m.CommissionRate)

	order.FilledVolume = order.FilledVolume.Add(executedVolume)
	order.Status = domain.OrderFilled

	return &domain.Trade{
		OrderID:     order.ID,
		AccountID:   order.AccountID,
		Symbol:      order.Symbol,
		Direction:   order.Direction,
		Price:       executePrice,
		Volume:      executedVolume,
		Commission:  commission,
		TimestampMs: nowMs,
	}
}
