// Package engine builds and drives one running strategy instance: the
// sandbox runtime matching its declared engine kind, the host bridge that
// gives it the only capabilities it may use, and the per-candle run loop
// that feeds it market data and forwards whatever it emits.
package engine

import (
	"fmt"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/market"
	"github.com/kestrel-trade/kestrel/internal/ports"
	"github.com/kestrel-trade/kestrel/internal/sandbox"
	"github.com/kestrel-trade/kestrel/internal/sandbox/bytecode"
	"github.com/kestrel-trade/kestrel/internal/sandbox/script"
)

// BuildParams carries everything the Factory needs to stand up one strategy
// instance's run loop.
type BuildParams struct {
	Instance *domain.StrategyInstance
	Trade    ports.TradePort
	Registry *market.Registry
	Clock    ports.Clock
	Signals  ports.SignalHandler
	Limits   sandbox.Limits
}

// Factory selects a sandbox.Runtime implementation by EngineKind and wraps
// it in a Task ready to run.
type Factory struct{}

// NewFactory constructs a Factory. It carries no state: every Build call is
// independent, matching the teacher's stateless constructor pattern for
// components with no shared resources to own.
func NewFactory() *Factory { return &Factory{} }

// Build compiles params.Instance.Source into a sandbox.Runtime of the
// instance's declared kind and wraps it in a Task. The runtime is loaded
// (but not run) before Build returns, so a malformed strategy source fails
// fast instead of surfacing its first error mid-run.
func (f *Factory) Build(params BuildParams) (*Task, error) {
	if params.Instance == nil {
		return nil, fmt.Errorf("engine: build: nil strategy instance")
	}

	bridge := newHostBridge(params.Registry, params.Trade, params.Instance.AccountID, params.Instance.ID, params.Clock)

	var rt sandbox.Runtime
	switch params.Instance.EngineKind {
	case domain.EngineScript:
		rt = script.New(bridge, params.Limits)
	case domain.EngineBytecode:
		rt = bytecode.New(bridge, params.Limits)
	default:
		return nil, &domain.PluginError{Msg: fmt.Sprintf("unknown engine kind %q", params.Instance.EngineKind)}
	}

	if err := rt.Load(params.Instance.Source); err != nil {
		rt.Close()
		return nil, &domain.PluginError{Msg: "strategy failed to load", Err: err}
	}

	return newTask(params.Instance, rt, params.Registry, params.Signals), nil
}
