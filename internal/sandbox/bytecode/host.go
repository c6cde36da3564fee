package bytecode

import (
	"context"
	"time"

	segjson "github.com/segmentio/encoding/json"
	"github.com/shopspring/decimal"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/sandbox"
)

// hostCallTimeout bounds every blocking host_* call a module makes.
const hostCallTimeout = 5 * time.Second

func (r *Runtime) registerHostFunctions(builder wazero.HostModuleBuilder) {
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, level, ptr, length uint32) {
			buf, ok := mod.Memory().Read(ptr, length)
			if !ok {
				return
			}
			r.bridge.Log(sandbox.LogLevel(level), string(buf))
		}).
		Export("host_log")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context) int64 {
			return r.bridge.Now().UnixMilli()
		}).
		Export("host_now")

	builder.NewFunctionBuilder().
		WithFunc(r.hostFetchHistory).
		Export("host_fetch_history")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, symPtr, symLen uint32, price, volume float64, outPtr uint32) uint32 {
			return r.hostOrder(ctx, mod, symPtr, symLen, price, volume, outPtr, r.bridge.Buy)
		}).
		Export("host_buy")

	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, symPtr, symLen uint32, price, volume float64, outPtr uint32) uint32 {
			return r.hostOrder(ctx, mod, symPtr, symLen, price, volume, outPtr, r.bridge.Sell)
		}).
		Export("host_sell")
}

// hostFetchHistory mirrors host_fetch_history(sym_ptr,sym_len,tf_ptr,tf_len,limit,out_ptr) -> i32
// from the original engine: returns the number of bytes written to out_ptr,
// or 0 on any error.
func (r *Runtime) hostFetchHistory(ctx context.Context, mod api.Module, symPtr, symLen, tfPtr, tfLen uint32, limit int32, outPtr uint32) uint32 {
	mem := mod.Memory()

	symBuf, ok := mem.Read(symPtr, symLen)
	if !ok {
		return 0
	}
	tfBuf, ok := mem.Read(tfPtr, tfLen)
	if !ok {
		return 0
	}

	tf, err := domain.ParseTimeFrame(string(tfBuf))
	if err != nil {
		return 0
	}

	callCtx, cancel := context.WithTimeout(ctx, hostCallTimeout)
	defer cancel()
	candles, err := r.bridge.FetchHistory(callCtx, string(symBuf), tf, int(limit))
	if err != nil {
		return 0
	}

	payload, err := segjson.Marshal(candles)
	if err != nil {
		return 0
	}
	return writeLengthPrefixed(mem, outPtr, payload)
}

type orderFunc func(ctx context.Context, symbol string, price *decimal.Decimal, volume decimal.Decimal) (string, error)

// hostOrder mirrors host_buy/host_sell(sym_ptr,sym_len,price,vol,out_ptr) -> i32
// from the original engine. A non-positive price means "market order".
func (r *Runtime) hostOrder(ctx context.Context, mod api.Module, symPtr, symLen uint32, price, volume float64, outPtr uint32, submit orderFunc) uint32 {
	mem := mod.Memory()
	symBuf, ok := mem.Read(symPtr, symLen)
	if !ok {
		return 0
	}

	var priceDec *decimal.Decimal
	if price > 0 {
		p := decimal.NewFromFloat(price)
		priceDec = &p
	}
	volDec := decimal.NewFromFloat(volume)

	callCtx, cancel := context.WithTimeout(ctx, hostCallTimeout)
	defer cancel()

	var payload []byte
	orderID, err := submit(callCtx, string(symBuf), priceDec, volDec)
	if err != nil {
		payload, _ = segjson.Marshal(map[string]string{"error": err.Error()})
	} else {
		payload, _ = segjson.Marshal(map[string]string{"order_id": orderID})
	}
	return writeLengthPrefixed(mem, outPtr, payload)
}

// writeLengthPrefixed writes a 4-byte little-endian length followed by
// payload at outPtr, returning len(payload) on success or 0 on any write
// failure — matching the original engine's out-parameter protocol.
func writeLengthPrefixed(mem api.Memory, outPtr uint32, payload []byte) uint32 {
	n := uint32(len(payload))
	lenBytes := []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	if !mem.Write(outPtr, lenBytes) {
		return 0
	}
	if !mem.Write(outPtr+4, payload) {
		return 0
	}
	return n
}
