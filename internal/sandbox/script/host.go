package script

import (
	"context"
	"time"

	"github.com/dop251/goja"
	segjson "github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/sandbox"
)

// hostCallTimeout bounds every blocking host.* call a strategy makes; the
// embedded JS has no way to set its own deadline.
const hostCallTimeout = 5 * time.Second

// installHost wires the `host` global object with the log/now/fetchHistory/
// buy/sell surface strategies are allowed to call, matching the original
// engine's `host.*` contract.
func installHost(vm *goja.Runtime, bridge sandbox.HostBridge) {
	host := vm.NewObject()

	host.Set("log", func(level int, msg string) {
		bridge.Log(sandbox.LogLevel(level), msg)
	})

	host.Set("now", func() int64 {
		return bridge.Now().UnixMilli()
	})

	host.Set("fetchHistory", func(symbol, tf string, limit int) string {
		timeFrame, err := domain.ParseTimeFrame(tf)
		if err != nil {
			return errorJSON(err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
		defer cancel()
		candles, err := bridge.FetchHistory(ctx, symbol, timeFrame, limit)
		if err != nil {
			return errorJSON(err)
		}
		out, err := segjson.Marshal(candles)
		if err != nil {
			return errorJSON(err)
		}
		return string(out)
	})

	host.Set("buy", func(symbol string, price goja.Value, volume float64) string {
		return submitOrder(symbol, price, volume, bridge.Buy)
	})

	host.Set("sell", func(symbol string, price goja.Value, volume float64) string {
		return submitOrder(symbol, price, volume, bridge.Sell)
	})

	vm.Set("host", host)
}

type orderFunc func(ctx context.Context, symbol string, price *decimal.Decimal, volume decimal.Decimal) (string, error)

func submitOrder(symbol string, priceVal goja.Value, volume float64, submit orderFunc) string {
	var price *decimal.Decimal
	if priceVal != nil && !goja.IsUndefined(priceVal) && !goja.IsNull(priceVal) {
		p := decimal.NewFromFloat(priceVal.ToFloat())
		price = &p
	}
	vol := decimal.NewFromFloat(volume)

	ctx, cancel := context.WithTimeout(context.Background(), hostCallTimeout)
	defer cancel()
	orderID, err := submit(ctx, symbol, price, vol)
	if err != nil {
		return errorJSON(err)
	}
	return orderID
}

func errorJSON(err error) string {
	out, marshalErr := segjson.Marshal(map[string]string{"error": err.Error()})
	if marshalErr != nil {
		return `{"error":"internal"}`
	}
	return string(out)
}
