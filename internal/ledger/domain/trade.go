package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade is the immutable record of one match. Created once per match event,
// never mutated or deleted.
type Trade struct {
	TradeID         string
	CreditType      CreditType
	BuyOrderID      string
	SellOrderID     string
	BuyerAccountID  string
	SellerAccountID string
	Quantity        int64
	Price           decimal.Decimal
	Fee             decimal.Decimal
	ExecutedAt      time.Time
}

// TradeSettlement is the instruction executed as one atomic unit by the
// store: consume the seller's locked lots, mint the buyer's lot, move cash
// out of buyer escrow, and persist the trade record.
type TradeSettlement struct {
	TradeID         string
	CreditType      CreditType
	BuyOrderID      string
	SellOrderID     string
	BuyerAccountID  string
	SellerAccountID string
	BuyerLotID      string
	Quantity        int64
	Price           decimal.Decimal
	// BuyLimitPrice is the price the buyer escrowed at; the difference
	// between limit and execution price is refunded to buyer cash.
	BuyLimitPrice decimal.Decimal
	Fee           decimal.Decimal
	ExecutedAt    time.Time
}

// Trade returns the immutable trade record for this settlement.
func (s TradeSettlement) Trade() *Trade {
	return &Trade{
		TradeID:         s.TradeID,
		CreditType:      s.CreditType,
		BuyOrderID:      s.BuyOrderID,
		SellOrderID:     s.SellOrderID,
		BuyerAccountID:  s.BuyerAccountID,
		SellerAccountID: s.SellerAccountID,
		Quantity:        s.Quantity,
		Price:           s.Price,
		Fee:             s.Fee,
		ExecutedAt:      s.ExecutedAt,
	}
}
