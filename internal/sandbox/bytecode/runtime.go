// Package bytecode implements the sandbox.Runtime backend for strategies
// compiled to WebAssembly, using wazero — a pure-Go WASM runtime, the
// closest real dependency to the original wasmtime-based engine that avoids
// CGo entirely.
package bytecode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/kestrel-trade/kestrel/internal/sandbox"
)

// wasmPageSize is the fixed 64KiB unit wazero's memory limit is expressed
// in (see WithMemoryLimitPages).
const wasmPageSize = 65536

// fuelNsPerUnit converts an abstract fuel budget into a wall-clock deadline.
// wazero has no instruction-metering API like wasmtime's consume_fuel, so a
// per-invocation timeout derived from the configured fuel is the closest
// enforceable proxy for "this call burned its budget".
const fuelNsPerUnit = 100

// Runtime wraps one wazero module instance compiled from a strategy's WASM
// bytecode. Unlike the script sandbox, wazero modules are safe to call from
// any goroutine — but the module's linear memory is not safe for concurrent
// use, so calls are still serialized with a mutex to uphold the same
// "exactly one in-flight call" invariant.
type Runtime struct {
	bridge sandbox.HostBridge
	limits sandbox.Limits

	mu       sync.Mutex
	rt       wazero.Runtime
	mod      api.Module
	onCandle api.Function
	alloc    api.Function
	closed   bool
}

// New constructs a bytecode Runtime bound to bridge, bounded by limits. Call
// Load before OnCandle, and Close when done to release the wazero runtime.
func New(bridge sandbox.HostBridge, limits sandbox.Limits) *Runtime {
	return &Runtime{bridge: bridge, limits: limits}
}

// Load compiles source as a WASM module, links the host_* import surface
// into the "env" namespace, and instantiates it. The module must export
// "memory", "alloc", and "on_candle". The runtime's guest memory is capped
// at r.limits.MemoryMiB and wired to close whenever a Call's context is
// done, so a call that overruns its fuel deadline (see OnCandle) tears the
// module down instead of leaving it stuck mid-execution.
func (r *Runtime) Load(source []byte) error {
	ctx := context.Background()
	config := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if r.limits.MemoryMiB > 0 {
		config = config.WithMemoryLimitPages(uint32(r.limits.MemoryMiB * 1024 * 1024 / wasmPageSize))
	}
	rt := wazero.NewRuntimeWithConfig(ctx, config)

	hostBuilder := rt.NewHostModuleBuilder("env")
	r.registerHostFunctions(hostBuilder)
	if _, err := hostBuilder.Instantiate(ctx); err != nil {
		rt.Close(ctx)
		return fmt.Errorf("bytecode sandbox: failed to instantiate host module: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, source)
	if err != nil {
		rt.Close(ctx)
		return fmt.Errorf("bytecode sandbox: failed to compile module: %w", err)
	}

	mod, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
	if err != nil {
		rt.Close(ctx)
		return fmt.Errorf("bytecode sandbox: failed to instantiate module: %w", err)
	}

	onCandle := mod.ExportedFunction("on_candle")
	if onCandle == nil {
		rt.Close(ctx)
		return errors.New("bytecode sandbox: module does not export on_candle")
	}
	alloc := mod.ExportedFunction("alloc")
	if alloc == nil {
		rt.Close(ctx)
		return errors.New("bytecode sandbox: module does not export alloc")
	}
	if mod.Memory() == nil {
		rt.Close(ctx)
		return errors.New("bytecode sandbox: module does not export memory")
	}

	r.mu.Lock()
	r.rt = rt
	r.mod = mod
	r.onCandle = onCandle
	r.alloc = alloc
	r.mu.Unlock()
	return nil
}

// OnCandle writes candleJSON into the module's linear memory and invokes
// on_candle(ptr, len), returning whatever bytes the module wrote back via
// the result-pointer protocol (4-byte little-endian length prefix followed
// by the payload), or nil if the module signaled "no result" with a zero
// pointer.
func (r *Runtime) OnCandle(ctx context.Context, candleJSON []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mod == nil || r.closed {
		return nil, errors.New("bytecode sandbox: module not loaded")
	}

	if r.limits.Fuel > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(r.limits.Fuel*fuelNsPerUnit))
		defer cancel()
	}

	allocResults, err := r.alloc.Call(ctx, uint64(len(candleJSON)))
	if err != nil {
		return nil, fmt.Errorf("bytecode sandbox: alloc call failed: %w", err)
	}
	ptr := uint32(allocResults[0])

	mem := r.mod.Memory()
	if !mem.Write(ptr, candleJSON) {
		return nil, errors.New("bytecode sandbox: memory write out of range")
	}

	results, err := r.onCandle.Call(ctx, uint64(ptr), uint64(len(candleJSON)))
	if err != nil {
		return nil, fmt.Errorf("bytecode sandbox: on_candle execution failed: %w", err)
	}

	resultPtr := uint32(results[0])
	if resultPtr == 0 {
		return nil, nil
	}

	lenBytes, ok := mem.Read(resultPtr, 4)
	if !ok {
		return nil, errors.New("bytecode sandbox: memory read out of range (length prefix)")
	}
	resultLen := uint32(lenBytes[0]) | uint32(lenBytes[1])<<8 | uint32(lenBytes[2])<<16 | uint32(lenBytes[3])<<24

	payload, ok := mem.Read(resultPtr+4, resultLen)
	if !ok {
		return nil, errors.New("bytecode sandbox: memory read out of range (payload)")
	}
	out := make([]byte, resultLen)
	copy(out, payload)
	return out, nil
}

// Close releases the wazero runtime and every module it compiled.
func (r *Runtime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.rt == nil {
		r.closed = true
		return nil
	}
	r.closed = true
	return r.rt.Close(context.Background())
}
