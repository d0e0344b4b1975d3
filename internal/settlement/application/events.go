package application

import (
	"time"

	"github.com/shopspring/decimal"

	ledger "credit-exchange/internal/ledger/domain"
)

// TradeSettled is published to both parties after a trade commits.
type TradeSettled struct {
	TradeID         string            `json:"trade_id"`
	CreditType      ledger.CreditType `json:"credit_type"`
	BuyOrderID      string            `json:"buy_order_id"`
	SellOrderID     string            `json:"sell_order_id"`
	BuyerAccountID  string            `json:"buyer_account_id"`
	SellerAccountID string            `json:"seller_account_id"`
	Quantity        int64             `json:"quantity"`
	Price           decimal.Decimal   `json:"price"`
	Fee             decimal.Decimal   `json:"fee"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// TradeAborted is published to both parties when settlement fails and the
// trade is rolled back.
type TradeAborted struct {
	TradeID         string            `json:"trade_id"`
	CreditType      ledger.CreditType `json:"credit_type"`
	BuyOrderID      string            `json:"buy_order_id"`
	SellOrderID     string            `json:"sell_order_id"`
	BuyerAccountID  string            `json:"buyer_account_id"`
	SellerAccountID string            `json:"seller_account_id"`
	Quantity        int64             `json:"quantity"`
	Reason          string            `json:"reason"`
	OccurredAt      time.Time         `json:"occurred_at"`
}
