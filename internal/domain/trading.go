package domain

import (
	"github.com/shopspring/decimal"
)

// OrderDirection is the side of an order.
type OrderDirection string

const (
	Buy  OrderDirection = "buy"
	Sell OrderDirection = "sell"
)

// OrderStatus is the order lifecycle state.
//
// Lifecycle: Pending -> Submitted -> (PartialFilled* -> Filled) | Canceled | Rejected.
type OrderStatus string

const (
	OrderPending       OrderStatus = "pending"
	OrderSubmitted     OrderStatus = "submitted"
	OrderPartialFilled OrderStatus = "partial_filled"
	OrderFilled        OrderStatus = "filled"
	OrderCanceled      OrderStatus = "canceled"
	OrderRejected      OrderStatus = "rejected"
)

// Order is a single trading intent. Price is nil for a market order.
type Order struct {
	ID            string
	AccountID     string
	Symbol        string
	Direction     OrderDirection
	Price         *decimal.Decimal
	Volume        decimal.Decimal
	FilledVolume  decimal.Decimal
	Status        OrderStatus
	CreatedAtMs   int64
}

// IsLimit reports whether the order carries a limit price.
func (o *Order) IsLimit() bool { return o.Price != nil }

// Remaining returns the unfilled portion of the order's volume.
func (o *Order) Remaining() decimal.Decimal {
	return o.Volume.Sub(o.FilledVolume)
}

// Trade is an immutable fill record.
type Trade struct {
	OrderID      string
	AccountID    string
	Symbol       string
	Direction    OrderDirection
	Price        decimal.Decimal
	Volume       decimal.Decimal
	Commission   decimal.Decimal
	TimestampMs  int64
}

// Position is a signed holding in a single symbol for one account.
type Position struct {
	AccountID    string
	Symbol       string
	Volume       decimal.Decimal
	AveragePrice decimal.Decimal
}

// AccountSnapshot is an immutable point-in-time read of an account.
type AccountSnapshot struct {
	AccountID       string
	Available       decimal.Decimal
	Frozen          decimal.Decimal
	TotalEquity     decimal.Decimal
	Positions       []Position
}

// AuditEntry records a single funds mutation for the account audit trail.
type AuditEntry struct {
	AccountID   string
	Op          string
	Amount      decimal.Decimal
	TimestampMs int64
	Note        string
}
