package exchange

import (
	"context"

	ledger "credit-exchange/internal/ledger/domain"
)

// OrderRepository persists orders. Open orders are indexed by
// (creditType, side, price, createdAt) so books rebuild on restart.
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	Get(ctx context.Context, orderID string) (*Order, error)
	// ListOpenByCreditType returns open orders of one market in createdAt
	// order, for book reconstruction.
	ListOpenByCreditType(ctx context.Context, creditType ledger.CreditType) ([]*Order, error)
	// ListOpenByAccount returns the account's open orders, newest first.
	ListOpenByAccount(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*Order, error)
}
