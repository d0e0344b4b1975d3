package memory

import (
	"context"
	"sort"
	"sync"

	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
)

// OrderRepository is an in-memory order repository.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*exchange.Order
}

// NewOrderRepository constructs a repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{orders: make(map[string]*exchange.Order)}
}

// Save upserts a copy of the order.
func (r *OrderRepository) Save(_ context.Context, order *exchange.Order) error {
	if order == nil || order.OrderID == "" {
		return exchange.ErrOrderNotFound
	}
	r.mu.Lock()
	r.orders[order.OrderID] = order.Clone()
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the order.
func (r *OrderRepository) Get(_ context.Context, orderID string) (*exchange.Order, error) {
	r.mu.RLock()
	order := r.orders[orderID]
	r.mu.RUnlock()
	if order == nil {
		return nil, exchange.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// ListOpenByCreditType returns open orders of one market in createdAt order.
func (r *OrderRepository) ListOpenByCreditType(_ context.Context, creditType ledger.CreditType) ([]*exchange.Order, error) {
	r.mu.RLock()
	var result []*exchange.Order
	for _, order := range r.orders {
		if order.CreditType == creditType && order.IsOpen() {
			result = append(result, order.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].OrderID < result[j].OrderID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// ListOpenByAccount returns the account's open orders, newest first.
func (r *OrderRepository) ListOpenByAccount(_ context.Context, accountID string, creditType ledger.CreditType) ([]*exchange.Order, error) {
	r.mu.RLock()
	var result []*exchange.Order
	for _, order := range r.orders {
		if order.AccountID == accountID && order.CreditType == creditType && order.IsOpen() {
			result = append(result, order.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}
