package backtest_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/backtest"
	"github.com/kestrel-trade/kestrel/internal/domain"
)

func TestProvider_FetchHistory_FiltersToRange(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	history := []domain.Candle{
		{Time: base, Close: decimal.NewFromInt(1)},
		{Time: base.Add(time.Minute), Close: decimal.NewFromInt(2)},
		{Time: base.Add(time.Hour), Close: decimal.NewFromInt(3)},
	}
	p := backtest.NewProvider(history)

	got, err := p.FetchHistory(context.Background(), "VOO", domain.M1, base, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestProvider_Feed_DeliversToSubscriber(t *testing.T) {
	p := backtest.NewProvider(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := p.Subscribe(ctx, "VOO", domain.M1)
	require.NoError(t, err)

	p.Feed("VOO", domain.M1, domain.Candle{Close: decimal.NewFromInt(42)})

	select {
	case c := <-stream:
		assert.True(t, c.Close.Equal(decimal.NewFromInt(42)))
	case <-time.After(time.Second):
		t.Fatal("expected fed candle on subscriber stream")
	}
}

func TestProvider_Feed_NoSubscriber_DoesNotBlock(t *testing.T) {
	p := backtest.NewProvider(nil)
	p.Feed("VOO", domain.M1, domain.Candle{Close: decimal.NewFromInt(1)})
}
