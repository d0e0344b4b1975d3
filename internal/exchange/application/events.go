package application

import (
	"time"

	"github.com/shopspring/decimal"

	exchange "credit-exchange/internal/exchange/domain"
	ledger "credit-exchange/internal/ledger/domain"
)

// OrderPlaced is published after an order is accepted into a market.
type OrderPlaced struct {
	AccountID  string            `json:"account_id"`
	OrderID    string            `json:"order_id"`
	CreditType ledger.CreditType `json:"credit_type"`
	Side       exchange.Side     `json:"side"`
	Price      decimal.Decimal   `json:"price"`
	Quantity   int64             `json:"quantity"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderFilled is published per order side after a match settles.
type OrderFilled struct {
	AccountID  string               `json:"account_id"`
	OrderID    string               `json:"order_id"`
	CreditType ledger.CreditType    `json:"credit_type"`
	TradeID    string               `json:"trade_id"`
	Quantity   int64                `json:"quantity"`
	Price      decimal.Decimal      `json:"price"`
	Filled     int64                `json:"filled"`
	Remaining  int64                `json:"remaining"`
	Status     exchange.OrderStatus `json:"status"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// OrderCancelled is published after a caller-requested cancellation.
type OrderCancelled struct {
	AccountID  string            `json:"account_id"`
	OrderID    string            `json:"order_id"`
	CreditType ledger.CreditType `json:"credit_type"`
	Remaining  int64             `json:"remaining"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// OrderExpired is published when a sweep removes an order, either because
// its own lifetime passed or because a locked lot expired underneath it.
type OrderExpired struct {
	AccountID  string            `json:"account_id"`
	OrderID    string            `json:"order_id"`
	CreditType ledger.CreditType `json:"credit_type"`
	Remaining  int64             `json:"remaining"`
	Reason     string            `json:"reason"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Expiry reasons.
const (
	ExpiryReasonOrderLifetime = "order_lifetime"
	ExpiryReasonLotExpiry     = "lot_expiry"
)
