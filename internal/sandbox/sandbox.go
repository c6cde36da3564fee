// Package sandbox declares the contract shared by the two strategy
// execution backends (script and bytecode): a Runtime that consumes candles
// and emits signals, and a HostBridge giving the sandboxed code the only
// capabilities it is allowed — logging, logical time, history, and order
// placement.
package sandbox

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// LogLevel mirrors the host.log(level, msg) contract strategies call into.
type LogLevel int

const (
	LogInfo LogLevel = iota
	LogWarn
	LogError
)

// Limits bounds a single sandbox instance per spec §4.8: a memory cap
// enforced at the VM level, and a per-invocation execution fuel budget that
// aborts a runaway OnCandle call instead of blocking the runtime forever.
// A zero Limits leaves both unbounded, matching existing callers/tests that
// build a Runtime with no budget in mind.
type Limits struct {
	MemoryMiB int
	Fuel      int64
}

// Runtime is implemented by both the script (goja) and bytecode (wazero)
// sandboxes. Load compiles/evaluates the strategy source once; OnCandle is
// called once per bar and returns the raw JSON the strategy produced (an
// encoded domain.Signal, or an empty/"null" response for no signal).
//
// Implementations guarantee at most one OnCandle call in flight at a time.
type Runtime interface {
	Load(source []byte) error
	OnCandle(ctx context.Context, candleJSON []byte) ([]byte, error)
	Close() error
}

// HostBridge is the capability set injected into a sandboxed strategy. It is
// implemented once, in Go, by the engine package and shared by both
// Runtime backends — the sandboxes differ only in how they marshal calls
// into and out of the embedded language.
type HostBridge interface {
	Log(level LogLevel, msg string)
	Now() time.Time
	FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, limit int) ([]domain.Candle, error)
	Buy(ctx context.Context, symbol string, price *decimal.Decimal, volume decimal.Decimal) (string, error)
	Sell(ctx context.Context, symbol string, price *decimal.Decimal, volume decimal.Decimal) (string, error)
}
