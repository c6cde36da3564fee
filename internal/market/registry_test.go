package market_test

import (
	"context"
	"runtime"
	"time"
	"weak"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/market"
)

var _ = Describe("Registry", func() {
	var (
		provider *fakeProvider
		store    *fakeStore
		registry *market.Registry
	)

	BeforeEach(func() {
		provider = newFakeProvider()
		store = &fakeStore{}
		registry = market.NewRegistry(provider, store)
	})

	AfterEach(func() {
		registry.Close()
	})

	It("constructs one aggregate per symbol and reuses it for repeat Get calls", func() {
		h1, err := registry.Get(context.Background(), "VOO")
		Expect(err).NotTo(HaveOccurred())
		h2, err := registry.Get(context.Background(), "VOO")
		Expect(err).NotTo(HaveOccurred())

		Expect(h1.Aggregate()).To(BeIdenticalTo(h2.Aggregate()))
		Expect(h1.Aggregate().Symbol()).To(Equal("VOO"))

		h1.Release()
		h2.Release()
	})

	It("keeps distinct aggregates per symbol", func() {
		h1, _ := registry.Get(context.Background(), "VOO")
		h2, _ := registry.Get(context.Background(), "AAPL")
		defer h1.Release()
		defer h2.Release()

		Expect(h1.Aggregate()).NotTo(BeIdenticalTo(h2.Aggregate()))
	})

	It("fans out ingested candles to subscribers and updates the hot cache", func() {
		h, _ := registry.Get(context.Background(), "VOO")
		defer h.Release()

		agg := h.Aggregate()
		ch, unsubscribe := agg.Subscribe(domain.M1)
		defer unsubscribe()

		candle := domain.Candle{
			Time:    time.Now(),
			Open:    mustDecimal(100),
			High:    mustDecimal(101),
			Low:     mustDecimal(99),
			Close:   mustDecimal(100),
			Volume:  mustDecimal(10),
			IsFinal: true,
		}
		provider.emit("VOO", domain.M1, candle)

		Eventually(func() bool {
			_, ok := agg.LatestClosed(domain.M1)
			return ok
		}, time.Second).Should(BeTrue())

		var received domain.Candle
		Eventually(ch, time.Second).Should(Receive(&received))
		Expect(received.Close.Equal(candle.Close)).To(BeTrue())

		price, ok := agg.CurrentPrice()
		Expect(ok).To(BeTrue())
		Expect(price.Equal(candle.Close)).To(BeTrue())
	})

	It("evicts and re-registers a fresh aggregate once every handle is released and collected", func() {
		h, _ := registry.Get(context.Background(), "VOO")
		first := weak.Make(h.Aggregate())
		h.Release()

		// Run GC so the released aggregate is collected and the weak entry clears.
		runtime.GC()
		time.Sleep(50 * time.Millisecond)
		runtime.GC()
		time.Sleep(50 * time.Millisecond)

		h2, _ := registry.Get(context.Background(), "VOO")
		defer h2.Release()
		Expect(h2.Aggregate()).NotTo(BeIdenticalTo(first.Value()))
	})
})

var _ = Describe("Aggregate FetchHistory", func() {
	It("reads through the store before falling back to the provider", func() {
		provider := newFakeProvider()
		start := time.Now().Add(-time.Hour)
		end := time.Now()
		stored := domain.Candle{Time: start.Add(time.Minute), Close: mustDecimal(1), IsFinal: true}
		store := &fakeStore{rows: []domain.Candle{stored}}

		registry := market.NewRegistry(provider, store)
		defer registry.Close()

		h, _ := registry.Get(context.Background(), "VOO")
		defer h.Release()

		candles, err := h.Aggregate().FetchHistory(context.Background(), domain.M1, start, end)
		Expect(err).NotTo(HaveOccurred())
		Expect(candles).To(HaveLen(1))
	})

	It("falls back to the provider and backfills the store on a cache miss", func() {
		provider := newFakeProvider()
		fetched := domain.Candle{Time: time.Now(), Close: mustDecimal(2), IsFinal: true}
		provider.history = []domain.Candle{fetched}
		store := &fakeStore{}

		registry := market.NewRegistry(provider, store)
		defer registry.Close()

		h, _ := registry.Get(context.Background(), "AAPL")
		defer h.Release()

		candles, err := h.Aggregate().FetchHistory(context.Background(), domain.M1, time.Now().Add(-time.Hour), time.Now())
		Expect(err).NotTo(HaveOccurred())
		Expect(candles).To(HaveLen(1))

		Eventually(func() int {
			store.mu.Lock()
			defer store.mu.Unlock()
			return len(store.rows)
		}).Should(Equal(1))
	})
})
