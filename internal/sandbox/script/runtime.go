// Package script implements the sandbox.Runtime backend for strategies
// written as plain JavaScript, using goja — a pure-Go ECMAScript engine, the
// closest real dependency to the original QuickJS-based engine that avoids
// CGo entirely.
package script

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/kestrel-trade/kestrel/internal/sandbox"
)

// errFuelExhausted is the value passed to vm.Interrupt when a call overruns
// its fuel deadline; invokeOnCandle/Load surface it wrapped as a plain Go
// error rather than leaking the goja-specific interrupt type.
var errFuelExhausted = errors.New("script sandbox: execution fuel exhausted")

// fuelNsPerUnit turns the abstract fuel budget into a wall-clock deadline.
// goja has no instruction-counting API like QuickJS's set_fuel, so a
// per-invocation timer that calls vm.Interrupt is the closest enforceable
// proxy for "this call burned its budget" — and unlike a bare ctx timeout,
// it actually stops the running script instead of just abandoning the wait.
const fuelNsPerUnit = 100

// callStackEntriesPerMiB approximates goja's memory footprint in terms of
// call stack depth: goja exposes no heap byte limit in its public API, only
// SetMaxCallStackSize, so the configured memory budget is translated into a
// stack depth bound instead of a true heap cap.
const callStackEntriesPerMiB = 2000

type job struct {
	candleJSON []byte
	resultCh   chan result
}

type result struct {
	out []byte
	err error
}

// Runtime pins a single goja.Runtime to its own goroutine: goja values
// cannot cross goroutine boundaries, so every interaction happens through an
// unbuffered job channel, matching the "dedicated thread with a
// single-threaded cooperative scheduler" shape of the original engine.
type Runtime struct {
	bridge sandbox.HostBridge
	limits sandbox.Limits

	loadSrc chan []byte
	loadErr chan error
	jobs    chan job
	closeCh chan struct{}
	once    sync.Once
}

// New constructs a script Runtime bound to bridge, bounded by limits, and
// starts its dedicated goroutine. Call Close when done to stop it.
func New(bridge sandbox.HostBridge, limits sandbox.Limits) *Runtime {
	r := &Runtime{
		bridge:  bridge,
		limits:  limits,
		loadSrc: make(chan []byte),
		loadErr: make(chan error),
		jobs:    make(chan job),
		closeCh: make(chan struct{}),
	}
	go r.loop()
	return r
}

func (r *Runtime) loop() {
	vm := goja.New()
	installHost(vm, r.bridge)
	if r.limits.MemoryMiB > 0 {
		vm.SetMaxCallStackSize(r.limits.MemoryMiB * callStackEntriesPerMiB)
	}
	loaded := false

	for {
		select {
		case <-r.closeCh:
			return
		case src := <-r.loadSrc:
			err := r.runWithFuel(vm, func() error {
				_, err := vm.RunString(string(src))
				return err
			})
			loaded = err == nil
			r.loadErr <- err
		case j := <-r.jobs:
			if !loaded {
				j.resultCh <- result{nil, errors.New("script sandbox: strategy not loaded")}
				continue
			}
			var out []byte
			err := r.runWithFuel(vm, func() error {
				var err error
				out, err = invokeOnCandle(vm, j.candleJSON)
				return err
			})
			j.resultCh <- result{out, err}
		}
	}
}

// runWithFuel runs fn with a watchdog armed when the runtime has a fuel
// budget: if fn has not returned by the deadline, the watchdog interrupts
// the in-flight goja call so the dedicated goroutine always comes back
// around to read the next job, instead of wedging forever on a runaway
// script. A breached budget surfaces as errFuelExhausted.
func (r *Runtime) runWithFuel(vm *goja.Runtime, fn func() error) error {
	if r.limits.Fuel <= 0 {
		return fn()
	}

	timer := time.AfterFunc(time.Duration(r.limits.Fuel)*fuelNsPerUnit*time.Nanosecond, func() {
		vm.Interrupt(errFuelExhausted)
	})
	defer timer.Stop()

	err := fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		vm.ClearInterrupt()
		if v, ok := interrupted.Value().(error); ok && errors.Is(v, errFuelExhausted) {
			return errFuelExhausted
		}
		return interrupted
	}
	return err
}

// Load compiles and evaluates the strategy source, registering its
// top-level onCandle function for subsequent OnCandle calls.
func (r *Runtime) Load(source []byte) error {
	r.loadSrc <- source
	return <-r.loadErr
}

// OnCandle marshals one call through the dedicated goroutine. At most one
// call is ever in flight since the job channel is unbuffered.
func (r *Runtime) OnCandle(ctx context.Context, candleJSON []byte) ([]byte, error) {
	resultCh := make(chan result, 1)
	select {
	case r.jobs <- job{candleJSON: candleJSON, resultCh: resultCh}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-resultCh:
		return res.out, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the dedicated goroutine. Idempotent.
func (r *Runtime) Close() error {
	r.once.Do(func() { close(r.closeCh) })
	return nil
}

func invokeOnCandle(vm *goja.Runtime, candleJSON []byte) ([]byte, error) {
	onCandleVal := vm.Get("onCandle")
	if onCandleVal == nil || goja.IsUndefined(onCandleVal) {
		return nil, errors.New("script sandbox: onCandle is not defined")
	}
	onCandle, ok := goja.AssertFunction(onCandleVal)
	if !ok {
		return nil, errors.New("script sandbox: onCandle is not a function")
	}

	retVal, err := onCandle(goja.Undefined(), vm.ToValue(string(candleJSON)))
	if err != nil {
		return nil, fmt.Errorf("script sandbox: onCandle execution error: %w", err)
	}
	if goja.IsUndefined(retVal) || goja.IsNull(retVal) {
		return nil, nil
	}
	return []byte(retVal.String()), nil
}
