package market

import "sync"

import "github.com/kestrel-trade/kestrel/internal/domain"

const subscriberBuffer = 32

// broadcaster fans a single producer out to N consumers without blocking the
// producer: a subscriber that can't keep up simply misses bars. Subscribers
// are expected to notice gaps via candle time and refetch history if needed.
type broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan domain.Candle
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan domain.Candle)}
}

func (b *broadcaster) subscribe() (int, <-chan domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan domain.Candle, subscriberBuffer)
	b.subs[id] = ch
	return id, ch
}

func (b *broadcaster) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

func (b *broadcaster) subscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// publish pushes a candle to every subscriber in the order the producer
// calls publish — each receiver sees its own candles in order, never
// reordered, but may miss one if its buffer is full.
func (b *broadcaster) publish(c domain.Candle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
			// slow subscriber: drop this bar rather than block the fetcher.
		}
	}
}

func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
