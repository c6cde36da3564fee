package supervisor_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-trade/kestrel/internal/clock"
	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/engine"
	"github.com/kestrel-trade/kestrel/internal/market"
	"github.com/kestrel-trade/kestrel/internal/supervisor"
)

type fakeProvider struct {
	mu      sync.Mutex
	streams map[string]chan domain.Candle
}

func newFakeProvider() *fakeProvider { return &fakeProvider{streams: make(map[string]chan domain.Candle)} }

func (p *fakeProvider) Subscribe(ctx context.Context, symbol string, tf domain.TimeFrame) (<-chan domain.Candle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan domain.Candle, 8)
	p.streams[symbol+"|"+string(tf)] = ch
	return ch, nil
}

func (p *fakeProvider) FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	return nil, nil
}

func (p *fakeProvider) emit(symbol string, tf domain.TimeFrame, c domain.Candle) {
	p.mu.Lock()
	ch := p.streams[symbol+"|"+string(tf)]
	p.mu.Unlock()
	ch <- c
}

func (p *fakeProvider) closeStream(symbol string, tf domain.TimeFrame) {
	p.mu.Lock()
	ch := p.streams[symbol+"|"+string(tf)]
	delete(p.streams, symbol+"|"+string(tf))
	p.mu.Unlock()
	close(ch)
}

type fakeCandleStore struct{}

func (fakeCandleStore) Get(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	return nil, nil
}
func (fakeCandleStore) Put(ctx context.Context, symbol string, tf domain.TimeFrame, candle domain.Candle) error {
	return nil
}

type fakeTradePort struct{}

func (fakeTradePort) SubmitOrder(ctx context.Context, order *domain.Order) (string, error) { return "ord-1", nil }
func (fakeTradePort) CancelOrder(ctx context.Context, orderID string) error                { return nil }
func (fakeTradePort) GetAccount(ctx context.Context, accountID string) (domain.AccountSnapshot, error) {
	return domain.AccountSnapshot{}, nil
}
func (fakeTradePort) GetOrders(ctx context.Context, accountID string) ([]*domain.Order, error) { return nil, nil }
func (fakeTradePort) GetOrder(ctx context.Context, orderID string) (*domain.Order, error)       { return nil, nil }

type fakeStrategyStore struct {
	mu       sync.Mutex
	statuses []domain.StrategyStatus
}

func (s *fakeStrategyStore) Save(ctx context.Context, instance *domain.StrategyInstance) error { return nil }
func (s *fakeStrategyStore) UpdateStatus(ctx context.Context, userID, id string, status domain.StrategyStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses = append(s.statuses, status)
	return nil
}
func (s *fakeStrategyStore) Get(ctx context.Context, userID, id string) (*domain.StrategyInstance, error) {
	return nil, nil
}
func (s *fakeStrategyStore) List(ctx context.Context, userID string) ([]*domain.StrategyInstance, error) {
	return nil, nil
}
func (s *fakeStrategyStore) last() domain.StrategyStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.statuses) == 0 {
		return domain.StrategyStatus{}
	}
	return s.statuses[len(s.statuses)-1]
}

const noopStrategySource = `function onCandle(candleJSON) { return null; }`

func TestSupervisor_Start_TransitionsToRunningThenStopped(t *testing.T) {
	provider := newFakeProvider()
	registry := market.NewRegistry(provider, fakeCandleStore{})
	defer registry.Close()

	store := &fakeStrategyStore{}
	sup := supervisor.New(engine.NewFactory(), store)

	instance := &domain.StrategyInstance{
		ID: "strat-1", UserID: "user-1", Symbol: "VOO", AccountID: "acct-1",
		TimeFrame: domain.M1, EngineKind: domain.EngineScript, Source: []byte(noopStrategySource),
	}

	err := sup.Start(context.Background(), engine.BuildParams{
		Instance: instance, Trade: fakeTradePort{}, Registry: registry, Clock: clock.Real{}, Signals: nil,
	})
	require.NoError(t, err)
	assert.True(t, sup.IsRunning("user-1", "strat-1"))
	assert.Equal(t, domain.StrategyRunning, store.last().State)

	provider.emit("VOO", domain.M1, domain.Candle{
		Time: time.Now(), Open: decimal.NewFromInt(1), High: decimal.NewFromInt(1),
		Low: decimal.NewFromInt(1), Close: decimal.NewFromInt(1), Volume: decimal.NewFromInt(1), IsFinal: true,
	})
	provider.closeStream("VOO", domain.M1)

	require.Eventually(t, func() bool { return !sup.IsRunning("user-1", "strat-1") }, time.Second, 5*time.Millisecond)
	assert.Equal(t, domain.StrategyStopped, store.last().State)
}

func TestSupervisor_Stop_CancelsRunningInstance(t *testing.T) {
	provider := newFakeProvider()
	registry := market.NewRegistry(provider, fakeCandleStore{})
	defer registry.Close()

	store := &fakeStrategyStore{}
	sup := supervisor.New(engine.NewFactory(), store)

	instance := &domain.StrategyInstance{
		ID: "strat-2", UserID: "user-1", Symbol: "VOO", AccountID: "acct-1",
		TimeFrame: domain.M1, EngineKind: domain.EngineScript, Source: []byte(noopStrategySource),
	}
	require.NoError(t, sup.Start(context.Background(), engine.BuildParams{
		Instance: instance, Trade: fakeTradePort{}, Registry: registry, Clock: clock.Real{},
	}))
	require.True(t, sup.IsRunning("user-1", "strat-2"))

	require.NoError(t, sup.Stop(context.Background(), "user-1", "strat-2"))
	assert.False(t, sup.IsRunning("user-1", "strat-2"))
}

func TestSupervisor_Start_Idempotent(t *testing.T) {
	provider := newFakeProvider()
	registry := market.NewRegistry(provider, fakeCandleStore{})
	defer registry.Close()

	sup := supervisor.New(engine.NewFactory(), &fakeStrategyStore{})
	instance := &domain.StrategyInstance{
		ID: "strat-3", UserID: "user-1", Symbol: "VOO", AccountID: "acct-1",
		TimeFrame: domain.M1, EngineKind: domain.EngineScript, Source: []byte(noopStrategySource),
	}
	params := engine.BuildParams{Instance: instance, Trade: fakeTradePort{}, Registry: registry, Clock: clock.Real{}}
	require.NoError(t, sup.Start(context.Background(), params))
	require.NoError(t, sup.Start(context.Background(), params))
	assert.True(t, sup.IsRunning("user-1", "strat-3"))

	require.NoError(t, sup.Stop(context.Background(), "user-1", "strat-3"))
}
