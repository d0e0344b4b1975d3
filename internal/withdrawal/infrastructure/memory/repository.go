package memory

import (
	"context"
	"sort"
	"sync"

	withdrawal "credit-exchange/internal/withdrawal/domain"
)

// Repository is an in-memory withdrawal repository.
type Repository struct {
	mu          sync.RWMutex
	withdrawals map[string]*withdrawal.Withdrawal
}

// NewRepository constructs a repository.
func NewRepository() *Repository {
	return &Repository{withdrawals: make(map[string]*withdrawal.Withdrawal)}
}

// Save upserts a copy of the withdrawal.
func (r *Repository) Save(_ context.Context, intent *withdrawal.Withdrawal) error {
	if intent == nil || intent.WithdrawalID == "" {
		return withdrawal.ErrNotFound
	}
	r.mu.Lock()
	r.withdrawals[intent.WithdrawalID] = intent.Clone()
	r.mu.Unlock()
	return nil
}

// Get returns a copy of the withdrawal.
func (r *Repository) Get(_ context.Context, withdrawalID string) (*withdrawal.Withdrawal, error) {
	r.mu.RLock()
	intent := r.withdrawals[withdrawalID]
	r.mu.RUnlock()
	if intent == nil {
		return nil, withdrawal.ErrNotFound
	}
	return intent.Clone(), nil
}

// ListByAccount returns the account's withdrawals, newest first.
func (r *Repository) ListByAccount(_ context.Context, accountID string) ([]*withdrawal.Withdrawal, error) {
	r.mu.RLock()
	var result []*withdrawal.Withdrawal
	for _, intent := range r.withdrawals {
		if intent.AccountID == accountID {
			result = append(result, intent.Clone())
		}
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].RequestedAt.After(result[j].RequestedAt)
	})
	return result, nil
}
