package engine

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

type fakeRuntime struct {
	out []byte
	err error
	fed [][]byte
}

func (f *fakeRuntime) Load([]byte) error { return nil }
func (f *fakeRuntime) OnCandle(_ context.Context, candleJSON []byte) ([]byte, error) {
	f.fed = append(f.fed, candleJSON)
	return f.out, f.err
}
func (f *fakeRuntime) Close() error { return nil }

type fakeSignalHandler struct {
	received []domain.Signal
}

func (f *fakeSignalHandler) Handle(_ context.Context, s domain.Signal) error {
	f.received = append(f.received, s)
	return nil
}

func newTestTask(rt *fakeRuntime, signals *fakeSignalHandler) *Task {
	instance := &domain.StrategyInstance{ID: "strat-1", Symbol: "VOO", TimeFrame: domain.M1}
	return newTask(instance, rt, nil, signals)
}

func TestTask_OnCandle_NoSignal_DoesNotCallHandler(t *testing.T) {
	rt := &fakeRuntime{out: nil}
	handler := &fakeSignalHandler{}
	task := newTestTask(rt, handler)

	candle := domain.Candle{Time: time.Now(), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}
	require.NoError(t, task.onCandle(context.Background(), candle))
	assert.Empty(t, handler.received)
	assert.Len(t, rt.fed, 1)
}

func TestTask_OnCandle_Signal_DispatchesToHandler(t *testing.T) {
	rt := &fakeRuntime{out: []byte(`{"kind":"LongEntry","metadata":{"reason":"crossover"}}`)}
	handler := &fakeSignalHandler{}
	task := newTestTask(rt, handler)

	candle := domain.Candle{Time: time.Now(), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}
	require.NoError(t, task.onCandle(context.Background(), candle))
	require.Len(t, handler.received, 1)
	assert.Equal(t, domain.LongEntry, handler.received[0].Kind)
	assert.Equal(t, "crossover", handler.received[0].Metadata["reason"])
	assert.Equal(t, "strat-1", handler.received[0].StrategyID)
}

func TestTask_OnCandle_MalformedSignal_DroppedNotErrored(t *testing.T) {
	rt := &fakeRuntime{out: []byte(`not json`)}
	handler := &fakeSignalHandler{}
	task := newTestTask(rt, handler)

	candle := domain.Candle{Time: time.Now(), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}
	require.NoError(t, task.onCandle(context.Background(), candle))
	assert.Empty(t, handler.received)
}

func TestTask_OnCandle_RuntimeFault_ReturnsPluginError(t *testing.T) {
	rt := &fakeRuntime{err: assert.AnError}
	task := newTestTask(rt, &fakeSignalHandler{})

	candle := domain.Candle{Time: time.Now(), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1), Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1)}
	err := task.onCandle(context.Background(), candle)
	require.Error(t, err)
	var pluginErr *domain.PluginError
	require.ErrorAs(t, err, &pluginErr)
}
