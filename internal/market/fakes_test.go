package market_test

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kestrel-trade/kestrel/internal/domain"
)

// fakeProvider is an in-memory ports.MarketDataProvider: tests push candles
// onto its internal channel via emit() and assert on what the aggregate
// does with them.
type fakeProvider struct {
	mu          sync.Mutex
	streams     map[string]chan domain.Candle
	history     []domain.Candle
	historyErr  error
	subscribeErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{streams: make(map[string]chan domain.Candle)}
}

func (p *fakeProvider) Subscribe(ctx context.Context, symbol string, tf domain.TimeFrame) (<-chan domain.Candle, error) {
	if p.subscribeErr != nil {
		return nil, p.subscribeErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	key := symbol + "|" + string(tf)
	ch := make(chan domain.Candle, 16)
	p.streams[key] = ch
	return ch, nil
}

func (p *fakeProvider) emit(symbol string, tf domain.TimeFrame, c domain.Candle) {
	p.mu.Lock()
	ch, ok := p.streams[symbol+"|"+string(tf)]
	p.mu.Unlock()
	if ok {
		ch <- c
	}
}

func (p *fakeProvider) FetchHistory(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	if p.historyErr != nil {
		return nil, p.historyErr
	}
	return p.history, nil
}

// fakeStore is an in-memory ports.CandleStore.
type fakeStore struct {
	mu   sync.Mutex
	rows []domain.Candle
}

func (s *fakeStore) Get(ctx context.Context, symbol string, tf domain.TimeFrame, start, end time.Time) ([]domain.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Candle
	for _, c := range s.rows {
		if !c.Time.Before(start) && !c.Time.After(end) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *fakeStore) Put(ctx context.Context, symbol string, tf domain.TimeFrame, candle domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, candle)
	return nil
}

func mustDecimal(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
