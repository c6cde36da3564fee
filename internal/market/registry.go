package market

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"golang.org/x/time/rate"

	"github.com/kestrel-trade/kestrel/internal/domain"
	"github.com/kestrel-trade/kestrel/internal/ports"
)

// registryFetchBurst is the token-bucket burst of each aggregate's limiter on
// upstream FetchHistory requests (the store-miss fallback); the limiter
// refills at 5 requests per second.
const registryFetchBurst = 5

// Registry is the process-wide home of market aggregates. It holds only weak
// references: an Aggregate with no outstanding Handle is free to be
// collected, at which point its background fetchers are torn down via the
// cleanup queue. This mirrors a Weak<T>/Arc<T> pair using Go 1.24's weak
// package plus an explicit refcount, since weak.Pointer alone cannot tell
// the registry when the last handle actually dropped to zero ahead of a GC
// cycle.
type Registry struct {
	provider ports.MarketDataProvider
	store    ports.CandleStore

	mu      sync.RWMutex
	symbols map[string]weak.Pointer[Aggregate]

	cleanupCh chan string
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewRegistry constructs a Registry and starts its background cleanup loop.
// Close cancels the registry's context, which stops every live aggregate.
func NewRegistry(provider ports.MarketDataProvider, store ports.CandleStore) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		provider:  provider,
		store:     store,
		symbols:   make(map[string]weak.Pointer[Aggregate]),
		cleanupCh: make(chan string, 64),
		ctx:       ctx,
		cancel:    cancel,
	}
	go r.drainCleanup()
	return r
}

func (r *Registry) drainCleanup() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case symbol := <-r.cleanupCh:
			r.mu.Lock()
			if wp, ok := r.symbols[symbol]; ok {
				if wp.Value() == nil {
					delete(r.symbols, symbol)
				}
			}
			r.mu.Unlock()
		}
	}
}

// Get acquires a strong Handle to the aggregate for symbol, constructing and
// registering one if none is currently live. Callers must call Release (or
// let the handle be collected, which will eventually run the cleanup
// backstop) when done. A newly constructed aggregate starts its one-minute
// fetcher right away, so it tracks a current price before anyone subscribes.
func (r *Registry) Get(ctx context.Context, symbol string) (*Handle, error) {
	if h := r.tryAcquireExisting(symbol); h != nil {
		return h, nil
	}

	agg := newAggregate(r.ctx, symbol, r.provider, r.store, rate.NewLimiter(rate.Limit(5), registryFetchBurst))

	r.mu.Lock()
	if wp, ok := r.symbols[symbol]; ok {
		if existing := wp.Value(); existing != nil {
			// Lost the race to another goroutine constructing the same
			// symbol: tear down the one we built and use theirs.
			r.mu.Unlock()
			agg.evict()
			return r.acquire(existing), nil
		}
	}
	agg.fetchersOn[domain.M1] = true
	r.symbols[symbol] = weak.Make(agg)
	r.mu.Unlock()

	go agg.runFetcher(domain.M1)
	return r.acquire(agg), nil
}

func (r *Registry) tryAcquireExisting(symbol string) *Handle {
	r.mu.RLock()
	wp, ok := r.symbols[symbol]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	agg := wp.Value()
	if agg == nil {
		return nil
	}
	return r.acquire(agg)
}

// acquire wraps agg in a Handle, bumping its refcount and installing a GC
// backstop in case the caller forgets to call Release. The cleanup is
// stopped by an explicit Release so a well-behaved caller is never
// double-charged once its handle is collected.
func (r *Registry) acquire(agg *Aggregate) *Handle {
	agg.refcount.Add(1)
	h := &Handle{agg: agg, registry: r}
	h.cleanup = runtime.AddCleanup(h, func(a *Aggregate) {
		releaseAggregate(a, r)
	}, agg)
	return h
}

// Close stops every aggregate's background work and the cleanup loop.
func (r *Registry) Close() {
	r.cancel()
	r.mu.Lock()
	for symbol, wp := range r.symbols {
		if agg := wp.Value(); agg != nil {
			agg.evict()
		}
		delete(r.symbols, symbol)
	}
	r.mu.Unlock()
}

// Handle is a strong, reference-counted reference to a live Aggregate. The
// zero value is not usable; obtain one from Registry.Get.
type Handle struct {
	agg      *Aggregate
	registry *Registry
	cleanup  runtime.Cleanup
	released atomic.Bool
}

// Aggregate returns the underlying aggregate this handle keeps alive.
func (h *Handle) Aggregate() *Aggregate { return h.agg }

// Release drops this handle's strong reference. It is idempotent: calling
// it more than once is a no-op after the first call. Once the last
// outstanding handle for a symbol is released, that aggregate's fetchers
// are canceled and its entry is queued for removal from the registry.
func (h *Handle) Release() {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	h.cleanup.Stop()
	releaseAggregate(h.agg, h.registry)
}

func releaseAggregate(agg *Aggregate, r *Registry) {
	if agg.refcount.Add(-1) > 0 {
		return
	}
	agg.evict()
	select {
	case r.cleanupCh <- agg.symbol:
	default:
		slog.Warn("market registry cleanup queue full, symbol will be reclaimed on next access", "symbol", agg.symbol)
	}
}
