package exchange

import (
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderStatus is the closed set of order states.
type OrderStatus string

const (
	OrderOpen            OrderStatus = "open"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCancelled       OrderStatus = "cancelled"
	OrderExpired         OrderStatus = "expired"
)

// Order is a standing intent to trade. A sell order's unfilled quantity is
// always backed by an equal quantity of Locked lots; a buy order's unfilled
// quantity is backed by escrowed cash at the limit price.
type Order struct {
	OrderID    string
	AccountID  string
	CreditType ledger.CreditType
	Side       Side
	Price      decimal.Decimal
	Quantity   int64
	Filled     int64
	Status     OrderStatus
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// Remaining is the unfilled quantity.
func (o *Order) Remaining() int64 {
	return o.Quantity - o.Filled
}

// IsOpen reports whether the order still rests on the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderOpen || o.Status == OrderPartiallyFilled
}

// ExpiredAt reports whether the order's lifetime has passed.
func (o *Order) ExpiredAt(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && !o.ExpiresAt.After(now)
}

// Fill applies a matched quantity and updates the status.
func (o *Order) Fill(quantity int64) {
	o.Filled += quantity
	if o.Filled >= o.Quantity {
		o.Status = OrderFilled
	} else {
		o.Status = OrderPartiallyFilled
	}
}

// EscrowRemaining is the cash still escrowed for a buy order's unfilled
// portion.
func (o *Order) EscrowRemaining() decimal.Decimal {
	return o.Price.Mul(decimal.NewFromInt(o.Remaining()))
}

// Clone returns a detached copy.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	copy := *o
	return &copy
}
