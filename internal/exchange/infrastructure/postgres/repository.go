package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
)

// OrderRepository is the Postgres order repository. The orders table carries
// an index on (credit_type, side, price, created_at) for book rebuilds.
type OrderRepository struct {
	db *sql.DB
}

// NewOrderRepository constructs a repository.
func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Save upserts the order.
func (r *OrderRepository) Save(ctx context.Context, order *exchange.Order) error {
	if r == nil || r.db == nil {
		return errors.New("order repo: nil db")
	}
	if order == nil || order.OrderID == "" {
		return exchange.ErrOrderNotFound
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO orders (order_id, account_id, credit_type, side, price, quantity, filled, status, created_at, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (order_id)
DO UPDATE SET filled = EXCLUDED.filled, status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`,
		order.OrderID, order.AccountID, order.CreditType, order.Side, order.Price,
		order.Quantity, order.Filled, order.Status, order.CreatedAt.UTC(), order.ExpiresAt.UTC(), time.Now().UTC())
	return err
}

// Get loads one order.
func (r *OrderRepository) Get(ctx context.Context, orderID string) (*exchange.Order, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("order repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, selectOrder+` WHERE order_id = $1`, orderID)
	return scanOrder(row)
}

// ListOpenByCreditType returns open orders of one market in createdAt order.
func (r *OrderRepository) ListOpenByCreditType(ctx context.Context, creditType ledger.CreditType) ([]*exchange.Order, error) {
	return r.list(ctx, selectOrder+`
WHERE credit_type = $1 AND status IN ('open', 'partially_filled')
ORDER BY created_at ASC, order_id ASC`, creditType)
}

// ListOpenByAccount returns the account's open orders, newest first.
func (r *OrderRepository) ListOpenByAccount(ctx context.Context, accountID string, creditType ledger.CreditType) ([]*exchange.Order, error) {
	return r.list(ctx, selectOrder+`
WHERE account_id = $1 AND credit_type = $2 AND status IN ('open', 'partially_filled')
ORDER BY created_at DESC, order_id DESC`, accountID, creditType)
}

const selectOrder = `
SELECT order_id, account_id, credit_type, side, price, quantity, filled, status, created_at, expires_at
FROM orders`

func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]*exchange.Order, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("order repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []*exchange.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*exchange.Order, error) {
	order := &exchange.Order{}
	var side, status string
	if err := row.Scan(&order.OrderID, &order.AccountID, &order.CreditType, &side, &order.Price,
		&order.Quantity, &order.Filled, &status, &order.CreatedAt, &order.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, exchange.ErrOrderNotFound
		}
		return nil, err
	}
	order.Side = exchange.Side(side)
	order.Status = exchange.OrderStatus(status)
	return order, nil
}
