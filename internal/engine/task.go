package engine

import (
	"context"
	"log/slog"

	segjson "github.com/segmentio/encoding/json"

	"github.com/google/uuid"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/market"
	"github.com/kestrel-trade/kestrel/internal/ports"
	"github.com/kestrel-trade/kestrel/internal/sandbox"
)

// wireCandle is the JSON shape fed across the host-bridge boundary into the
// sandboxed strategy, matching the schema host.fetchHistory already returns.
type wireCandle = domain.Candle

// wireSignal is the JSON shape a strategy's onCandle return value must
// conform to in order to be forwarded as a domain.Signal. Fields absent from
// the returned JSON take their zero value; Kind is required, everything
// else is optional.
type wireSignal struct {
	Kind     string            `json:"kind"`
	Metadata map[string]string `json:"metadata"`
}

// Task drives one running strategy instance: subscribe to its symbol's
// candle stream, feed every candle to the sandboxed runtime, and forward
// whatever signal it emits to the configured handler.
type Task struct {
	instance *domain.StrategyInstance
	runtime  sandbox.Runtime
	registry *market.Registry
	signals  ports.SignalHandler
}

func newTask(instance *domain.StrategyInstance, runtime sandbox.Runtime, registry *market.Registry, signals ports.SignalHandler) *Task {
	return &Task{instance: instance, runtime: runtime, registry: registry, signals: signals}
}

// Run subscribes to the instance's symbol/timeframe and blocks, feeding
// candles to the sandbox until ctx is canceled or the upstream stream ends.
// The caller is responsible for persisting the resulting status transition;
// Run itself only returns the terminal error, if any.
func (t *Task) Run(ctx context.Context) error {
	defer t.runtime.Close()

	handle, err := t.registry.Get(ctx, t.instance.Symbol)
	if err != nil {
		return &domain.MarketError{Kind: domain.MarketErrorUnknown, Msg: "strategy task: acquire market aggregate", Err: err}
	}
	defer handle.Release()

	stream, unsubscribe := handle.Aggregate().Subscribe(t.instance.TimeFrame)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case candle, ok := <-stream:
			if !ok {
				return nil
			}
			if err := t.onCandle(ctx, candle); err != nil {
				return err
			}
		}
	}
}

func (t *Task) onCandle(ctx context.Context, candle domain.Candle) error {
	candleJSON, err := segjson.Marshal(wireCandle(candle))
	if err != nil {
		return &domain.PluginError{Msg: "marshal candle for strategy", Err: err}
	}

	out, err := t.runtime.OnCandle(ctx, candleJSON)
	if err != nil {
		return &domain.PluginError{Msg: "strategy onCandle faulted", Err: err}
	}
	if len(out) == 0 {
		return nil
	}

	var wire wireSignal
	if err := segjson.Unmarshal(out, &wire); err != nil {
		slog.Warn("strategy emitted unparseable signal, dropping", "strategy_id", t.instance.ID, "err", err)
		return nil
	}
	if wire.Kind == "" {
		return nil
	}

	signal := domain.Signal{
		ID:         uuid.NewString(),
		Symbol:     t.instance.Symbol,
		Timestamp:  candle.Time,
		Kind:       domain.SignalKind(wire.Kind),
		StrategyID: t.instance.ID,
		Metadata:   wire.Metadata,
	}
	if t.signals == nil {
		return nil
	}
	if err := t.signals.Handle(ctx, signal); err != nil {
		slog.Warn("signal handler failed", "strategy_id", t.instance.ID, "signal_id", signal.ID, "err", err)
	}
	return nil
}
