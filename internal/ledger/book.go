// Package ledger implements the pending-order book and the per-account
// funds/positions ledger: the order/account/matching core's state.
package ledger

import (
	"github.com/kestrel-trade/kestrel/internal/domain"
	"sync"
)

// Book is the volatile pending-order index: order_id -> Order, with
// secondary indices by account and by symbol. All three structures move in
// lockstep under a single RWMutex so Save/Remove stay atomic together — a
// single lock is preferred here over a lock-free map because, unlike a bare
// map, the index set must never observe one structure updated without the
// others.
//
// The book is volatile: on process restart, pending orders are lost.
type Book struct {
	mu        sync.RWMutex
	orders    map[string]*domain.Order
	byAccount map[string]map[string]struct{}
	bySymbol  map[string]map[string]struct{}
}

// NewBook constructs an empty pending-order book.
func NewBook() *Book {
	return &Book{
		orders:    make(map[string]*domain.Order),
		byAccount: make(map[string]map[string]struct{}),
		bySymbol:  make(map[string]map[string]struct{}),
	}
}

// Save inserts or replaces an order.
func (b *Book) Save(order *domain.Order) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[order.ID] = order
	indexAdd(b.byAccount, order.AccountID, order.ID)
	indexAdd(b.bySymbol, order.Symbol, order.ID)
}

// Remove deletes an order and returns its prior value, if present.
func (b *Book) Remove(orderID string) (*domain.Order, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return nil, false
	}
	delete(b.orders, orderID)
	indexRemove(b.byAccount, order.AccountID, orderID)
	indexRemove(b.bySymbol, order.Symbol, orderID)
	return order, true
}

// Get returns a live order by id.
func (b *Book) Get(orderID string) (*domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	order, ok := b.orders[orderID]
	return order, ok
}

// GetByAccount returns every live order for an account.
func (b *Book) GetByAccount(accountID string) []*domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := b.byAccount[accountID]
	out := make([]*domain.Order, 0, len(ids))
	for id := range ids {
		out = append(out, b.orders[id])
	}
	return out
}

// GetBySymbol returns every live order for a symbol.
func (b *Book) GetBySymbol(symbol string) []*domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := b.bySymbol[symbol]
	out := make([]*domain.Order, 0, len(ids))
	for id := range ids {
		out = append(out, b.orders[id])
	}
	return out
}

// UpdateStatus atomically mutates the status of a live order in place.
func (b *Book) UpdateStatus(orderID string, status domain.OrderStatus) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[orderID]
	if !ok {
		return false
	}
	order.Status = status
	return true
}

func indexAdd(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(map[string]struct{})
		idx[key] = set
	}
	set[id] = struct{}{}
}

func indexRemove(idx map[string]map[string]struct{}, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}
