package matching

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

func TestExecute_MarketOrderFillsAtReferencePrice(t *testing.T) {
	m := New(decimal.NewFromFloat(0.0001))
	order := &domain.Order{
		ID:        "o1",
		AccountID: "a1",
		Symbol:    "VOO",
		Direction: domain.Buy,
		Volume:    decimal.NewFromInt(10),
		Status:    domain.OrderSubmitted,
	}

	trade := m.Execute(order, decimal.NewFromInt(150), 1000)
	require.NotNil(t, trade)
	assert.True(t, trade.Price.Equal(decimal.NewFromInt(150)))
	assert.True(t, trade.Volume.Equal(decimal.NewFromInt(10)))
	assert.True(t, trade.Commission.Equal(decimal.NewFromInt(150).Mul(decimal.NewFromInt(10)).Mul(decimal.NewFromFloat(0.0001))))
	assert.Equal(t, domain.OrderFilled, order.Status)
	assert.True(t, order.FilledVolume.Equal(decimal.NewFromInt(10)))
}

func TestExecute_LimitOrderFillsAtLimitPrice(t *testing.T) {
	m := New(decimal.Zero)
	price := decimal.NewFromInt(105)
	order := &domain.Order{
		ID:        "o2",
		Direction: domain.Buy,
		Price:     &price,
		Volume:    decimal.NewFromInt(10),
		Status:    domain.OrderPending,
	}

	trade := m.Execute(order, decimal.NewFromInt(999), 2000)
	require.NotNil(t, trade)
	assert.True(t, trade.Price.Equal(price))
}

func TestExecute_RejectsTerminalStatus(t *testing.T) {
	m := New(decimal.Zero)
	order := &domain.Order{Status: domain.OrderCanceled, Volume: decimal.NewFromInt(1)}
	trade := m.Execute(order, decimal.NewFromInt(10), 0)
	assert.Nil(t, trade)
}
